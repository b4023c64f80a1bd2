package verify

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors forming the engine's error taxonomy. Nothing here is
// retried automatically; the caller decides whether to retry work, supply
// missing evidence, or raise a challenge.
var (
	// ErrCyclicDependency marks units on a dependency cycle. Fatal for
	// the involved units; requires plan reconfiguration, never
	// auto-broken.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrUnmetDependency is a scheduling state, not a failure: the unit
	// stays non-ready until its dependencies reach the required level.
	ErrUnmetDependency = errors.New("unmet dependency")

	// ErrOpenChallenge blocks commits and upgrades while any challenge
	// against the unit is pending.
	ErrOpenChallenge = errors.New("open challenge")

	// ErrIncompleteArtifactBundle rejects a commit whose bundle is
	// missing mandated artifact kinds.
	ErrIncompleteArtifactBundle = errors.New("incomplete artifact bundle")

	// ErrLeaseConflict means another worker already holds the unit's
	// lease; the claimant moves on to the next ready unit.
	ErrLeaseConflict = errors.New("lease conflict")

	// ErrLeaseRequired rejects a commit that arrives without the lease
	// under which the work ran.
	ErrLeaseRequired = errors.New("lease required")

	// ErrLeaseExpired rejects a commit whose lease was revoked or timed
	// out while the work was in flight.
	ErrLeaseExpired = errors.New("lease expired")

	// ErrUnknownUnit means the unit id is not in the plan.
	ErrUnknownUnit = errors.New("unknown unit")

	// ErrUnknownChallenge means the challenge id is not in the ledger.
	ErrUnknownChallenge = errors.New("unknown challenge")

	// ErrChallengeClosed rejects resolution of an already-closed
	// challenge.
	ErrChallengeClosed = errors.New("challenge already closed")

	// ErrInvalidTransition rejects a commit targeting a level the unit
	// cannot reach from its current level.
	ErrInvalidTransition = errors.New("invalid level transition")
)

// ValidationError describes a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// CycleError reports a dependency cycle with its full path. Every unit on
// the path is permanently blocked until the plan is fixed.
type CycleError struct {
	// Layer is the layer index the cycle lives in.
	Layer int

	// Path lists the unit ids on the cycle in dependency order. The
	// first id is repeated at the end to close the loop.
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency in layer %d: %s", e.Layer, strings.Join(e.Path, " -> "))
}

// Unwrap ties CycleError into the sentinel taxonomy so callers can match
// with errors.Is(err, ErrCyclicDependency).
func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// FailingCase captures one diverging input for oracle and adversarial
// refusals.
type FailingCase struct {
	// Input identifies the case (corpus key or generated seed).
	Input string `json:"input"`

	// Expected is the reference output rendering.
	Expected string `json:"expected"`

	// Actual is the unit's output rendering.
	Actual string `json:"actual"`
}

// OracleMismatchError refuses an L1→L2 upgrade: the oracle comparison
// diverged on one or more corpus cases. The unit keeps its current level;
// a downgrade requires a challenge, which is a distinct and stronger
// action.
type OracleMismatchError struct {
	UnitID     string        `json:"unit_id"`
	CasesTotal int           `json:"cases_total"`
	Failing    []FailingCase `json:"failing"`
}

func (e *OracleMismatchError) Error() string {
	return fmt.Sprintf("oracle mismatch: unit %s failed %d of %d cases",
		e.UnitID, len(e.Failing), e.CasesTotal)
}

// AdversarialFailureError refuses an L2→L3 upgrade: the attack search
// found at least one violating input. Same non-downgrading semantics as
// OracleMismatchError.
type AdversarialFailureError struct {
	UnitID   string        `json:"unit_id"`
	Attempts int           `json:"attempts"`
	Failing  []FailingCase `json:"failing"`
}

func (e *AdversarialFailureError) Error() string {
	return fmt.Sprintf("adversarial failure: unit %s violated on %d of %d attempts",
		e.UnitID, len(e.Failing), e.Attempts)
}

// BlockCause names why a unit is excluded from the ready set, for run
// summaries and the HTTP API.
type BlockCause string

const (
	// BlockCauseUnmetDependency means a dependency or an earlier layer
	// has not reached the required level.
	BlockCauseUnmetDependency BlockCause = "UnmetDependency"

	// BlockCauseOpenChallenge means the unit has pending challenges.
	BlockCauseOpenChallenge BlockCause = "OpenChallenge"

	// BlockCauseCyclicDependency means the unit sits on a dependency
	// cycle.
	BlockCauseCyclicDependency BlockCause = "CyclicDependency"
)
