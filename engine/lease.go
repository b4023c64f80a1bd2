package engine

import (
	"fmt"
	"time"

	"github.com/c360studio/veriflow/verify"
	"github.com/google/uuid"
)

// Lease is a single-owner claim on a unit. Work on a unit runs under a
// lease; the commit path rejects results whose lease was released or
// expired while the work was in flight.
type Lease struct {
	// Token authenticates the holder at commit time.
	Token string `json:"token"`

	// UnitID is the claimed unit.
	UnitID string `json:"unit_id"`

	// Owner identifies the claiming worker.
	Owner string `json:"owner"`

	// ClaimedAt is when the claim was granted.
	ClaimedAt time.Time `json:"claimed_at"`

	// ExpiresAt bounds the claim; the sweep reclaims the unit after
	// this instant.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lease has passed its deadline.
func (l *Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Claim grants a lease on a ready unit. The eligibility check happens
// under the engine mutex, after any pending readiness recomputation, so a
// claim never sees a stale ready set: once a dependency drops below the
// required level, no new claim on a dependent is granted.
func (e *Engine) Claim(unitID, owner string, ttl time.Duration) (*Lease, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, ok := e.units[unitID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", verify.ErrUnknownUnit, unitID)
	}
	if u.Level == verify.LevelProven {
		return nil, fmt.Errorf("unit %s already proven", unitID)
	}
	if cause, blocked := e.graph.blockCauseOf(u); blocked {
		return nil, fmt.Errorf("%w: unit %s", blockSentinel(cause), unitID)
	}

	now := e.clock()
	if held, taken := e.leases[unitID]; taken {
		if !held.Expired(now) {
			return nil, fmt.Errorf("%w: unit %s held by %s", verify.ErrLeaseConflict, unitID, held.Owner)
		}
		e.dropLeaseLocked(held)
	}

	lease := &Lease{
		Token:     uuid.New().String(),
		UnitID:    unitID,
		Owner:     owner,
		ClaimedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	e.leases[unitID] = lease
	e.leaseByToken[lease.Token] = lease

	e.logger.Debug("lease granted",
		"unit", unitID,
		"owner", owner,
		"expires_at", lease.ExpiresAt)
	return cloneLease(lease), nil
}

// Release gives a lease back without committing. Releasing an unknown or
// already-expired token is not an error; the unit is simply free.
func (e *Engine) Release(token string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lease, ok := e.leaseByToken[token]; ok {
		e.dropLeaseLocked(lease)
		e.logger.Debug("lease released", "unit", lease.UnitID, "owner", lease.Owner)
	}
}

// ExpireLeases sweeps out every lease past its deadline and returns the
// reclaimed leases. Called by the lease monitor on its tick.
func (e *Engine) ExpireLeases() []Lease {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	var expired []Lease
	for _, lease := range e.leases {
		if lease.Expired(now) {
			expired = append(expired, *lease)
			e.dropLeaseLocked(lease)
		}
	}
	for _, lease := range expired {
		e.logger.Info("lease expired",
			"unit", lease.UnitID,
			"owner", lease.Owner,
			"claimed_at", lease.ClaimedAt)
	}
	return expired
}

// Leases returns a snapshot of the currently held leases.
func (e *Engine) Leases() []Lease {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Lease, 0, len(e.leases))
	for _, lease := range e.leases {
		out = append(out, *lease)
	}
	return out
}

// blockSentinel maps a block cause to its sentinel error.
func blockSentinel(cause verify.BlockCause) error {
	switch cause {
	case verify.BlockCauseOpenChallenge:
		return verify.ErrOpenChallenge
	case verify.BlockCauseCyclicDependency:
		return verify.ErrCyclicDependency
	default:
		return verify.ErrUnmetDependency
	}
}

func (e *Engine) dropLeaseLocked(lease *Lease) {
	delete(e.leases, lease.UnitID)
	delete(e.leaseByToken, lease.Token)
}

func cloneLease(l *Lease) *Lease {
	c := *l
	return &c
}
