package engine

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/veriflow/verify"
)

// Engine owns all mutable verification state for one plan: unit levels
// and histories, the challenge ledger, leases, and the commit log. Every
// mutation runs under one mutex, which makes challenge-plus-downgrade a
// single linearized operation and guarantees readiness recomputation
// completes before any later claim observes the ready set.
type Engine struct {
	mu sync.Mutex

	graph      *layerGraph
	units      map[string]*verify.Unit
	challenges map[string]*verify.Challenge
	ledger     *Ledger

	leases       map[string]*Lease // by unit id
	leaseByToken map[string]*Lease

	// readyCh is closed and replaced on every level or challenge-set
	// change; waiting workers wake on the close.
	readyCh chan struct{}

	batchesIssued int
	startedAt     time.Time

	clock  func() time.Time
	logger *slog.Logger
	sink   func(event any)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the time source. Tests pin it.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger injects the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithEventSink registers a callback invoked with each domain event
// (verify.UnitLeveledEvent, verify.UnitDowngradedEvent, ...) after the
// originating mutation commits. Invoked with the engine mutex held, so
// sinks must not call back into the engine; the orchestrator hands events
// to a publish goroutine.
func WithEventSink(sink func(event any)) Option {
	return func(e *Engine) { e.sink = sink }
}

// New builds an engine over a validated plan. Every unit starts at L0
// with a plan-cause history entry. Dependency cycles do not fail
// construction: the involved units are permanently blocked and reported
// through CycleErrors and the run summary.
func New(plan *verify.Plan, opts ...Option) (*Engine, error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	e := &Engine{
		units:        make(map[string]*verify.Unit, len(plan.Units)),
		challenges:   make(map[string]*verify.Challenge),
		ledger:       NewLedger(),
		leases:       make(map[string]*Lease),
		leaseByToken: make(map[string]*Lease),
		readyCh:      make(chan struct{}),
		clock:        time.Now,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.startedAt = e.clock()

	for _, u := range plan.Units {
		own := u.Clone()
		own.Level = verify.LevelDraft
		own.LevelHistory = []verify.LevelTransition{{
			Level:     verify.LevelDraft,
			Cause:     verify.CausePlan,
			Timestamp: e.startedAt,
		}}
		e.units[own.ID] = own
	}

	e.graph = newLayerGraph(&verify.Plan{
		Version: plan.Version,
		Layers:  plan.Layers,
		Units:   unitSlice(e.units),
	})

	for _, ce := range e.graph.cycleErrors() {
		e.logger.Error("dependency cycle detected",
			"layer", ce.Layer,
			"path", ce.Path)
	}
	return e, nil
}

func unitSlice(m map[string]*verify.Unit) []*verify.Unit {
	out := make([]*verify.Unit, 0, len(m))
	for _, u := range m {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CycleErrors returns the dependency cycles found at construction. A
// non-empty result means the plan needs reconfiguration; the engine never
// breaks a cycle itself.
func (e *Engine) CycleErrors() []*verify.CycleError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.cycleErrors()
}

// Unit returns a snapshot of one unit.
func (e *Engine) Unit(id string) (*verify.Unit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, ok := e.units[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", verify.ErrUnknownUnit, id)
	}
	return u.Clone(), nil
}

// Units returns snapshots of every unit, sorted by layer then id.
func (e *Engine) Units() []*verify.Unit {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*verify.Unit, 0, len(e.units))
	for _, u := range e.units {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Layer != out[j].Layer {
			return out[i].Layer < out[j].Layer
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ReadySet returns the ids of units currently eligible for work.
func (e *Engine) ReadySet() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.readySet()
}

// NextBatch returns the current parallel batch with its batch number and
// publishes a batch-ready event. An empty batch does not consume a
// number.
func (e *Engine) NextBatch() (int, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	batch := e.graph.readySet()
	if len(batch) == 0 {
		return e.batchesIssued, nil
	}
	e.batchesIssued++
	no := e.batchesIssued
	e.emitLocked(verify.BatchReadyEvent{BatchNo: no, UnitIDs: batch})
	return no, batch
}

// ReadyChanged returns a channel closed on the next level or
// challenge-set change. Workers waiting for eligibility select on it
// instead of polling; after a wake they re-read ReadySet.
func (e *Engine) ReadyChanged() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readyCh
}

// notifyReadinessLocked wakes every waiter. Called with the mutex held by
// any mutation that can change eligibility, before the mutation returns,
// so no claim races ahead of the recomputation.
func (e *Engine) notifyReadinessLocked() {
	close(e.readyCh)
	e.readyCh = make(chan struct{})
}

func (e *Engine) emitLocked(event any) {
	if e.sink != nil {
		e.sink(event)
	}
}

// Commit validates and records one level transition. This is the only
// path by which a level increases.
//
// The checks, in order: the lease must be live and match the unit; the
// unit must have no open challenge; eligibility is rechecked so a claim
// revoked mid-flight cannot land; the target must be the next rung; the
// bundle must carry every artifact kind mandated for the target level;
// and the evidence artifact driving the transition must actually support
// it (a failing oracle report refuses the upgrade with the diverging
// cases rather than committing it).
func (e *Engine) Commit(token string, toLevel verify.Level, bundle verify.Bundle) (*verify.CommitRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lease, ok := e.leaseByToken[token]
	if !ok {
		return nil, verify.ErrLeaseRequired
	}
	u := e.units[lease.UnitID]
	now := e.clock()
	if lease.Expired(now) {
		e.dropLeaseLocked(lease)
		return nil, fmt.Errorf("%w: unit %s", verify.ErrLeaseExpired, u.ID)
	}

	if u.HasOpenChallenges() {
		return nil, fmt.Errorf("%w: unit %s has %d open challenges",
			verify.ErrOpenChallenge, u.ID, len(u.OpenChallenges))
	}
	if cause, blocked := e.graph.blockCauseOf(u); blocked {
		return nil, fmt.Errorf("%w: unit %s no longer eligible",
			blockSentinel(cause), u.ID)
	}

	next, ok := u.Level.Next()
	if !ok || toLevel != next {
		return nil, fmt.Errorf("%w: unit %s at %s cannot commit to %s",
			verify.ErrInvalidTransition, u.ID, u.Level, toLevel)
	}

	if missing := bundle.MissingFor(toLevel); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s -> %s missing %v",
			verify.ErrIncompleteArtifactBundle, u.ID, toLevel, missing)
	}
	cause, err := e.validateEvidenceLocked(u, toLevel, bundle)
	if err != nil {
		return nil, err
	}

	rec := e.ledger.Append(u.ID, u.Level, toLevel, bundle, now)
	from := u.Level
	u.Level = toLevel
	u.LevelHistory = append(u.LevelHistory, verify.LevelTransition{
		Level:       toLevel,
		Cause:       cause,
		EvidenceRef: fmt.Sprintf("commit:%d", rec.SequenceNo),
		Timestamp:   now,
	})
	e.dropLeaseLocked(lease)
	e.notifyReadinessLocked()

	e.logger.Info("commit accepted",
		"unit", u.ID,
		"from", from,
		"to", toLevel,
		"sequence", rec.SequenceNo)
	e.emitLocked(verify.UnitLeveledEvent{
		UnitID:     u.ID,
		FromLevel:  from,
		ToLevel:    toLevel,
		SequenceNo: rec.SequenceNo,
		Cause:      string(cause),
	})

	out := *rec
	return &out, nil
}

// validateEvidenceLocked checks the artifact that justifies the target
// level and returns the transition cause on success.
func (e *Engine) validateEvidenceLocked(u *verify.Unit, toLevel verify.Level, bundle verify.Bundle) (verify.TransitionCause, error) {
	switch toLevel {
	case verify.LevelCrossChecked:
		review, err := verify.DecodeArtifact[verify.ReviewRecord](bundle.Find(verify.ArtifactReviewRecord))
		if err != nil {
			return "", err
		}
		if err := review.Validate(); err != nil {
			return "", fmt.Errorf("review record for %s: %w", u.ID, err)
		}
		return verify.CauseReview, nil

	case verify.LevelTested:
		report, err := verify.DecodeArtifact[verify.OracleReport](bundle.Find(verify.ArtifactOracleReport))
		if err != nil {
			return "", err
		}
		if !report.Passed() {
			return "", &verify.OracleMismatchError{
				UnitID:     u.ID,
				CasesTotal: report.CasesTotal,
				Failing:    report.Failing,
			}
		}
		return verify.CauseOracle, nil

	case verify.LevelAdversarial:
		report, err := verify.DecodeArtifact[verify.AdversarialReport](bundle.Find(verify.ArtifactAdversarialReport))
		if err != nil {
			return "", err
		}
		if !report.Passed() {
			return "", &verify.AdversarialFailureError{
				UnitID:   u.ID,
				Attempts: report.Attempts,
				Failing:  report.Failing,
			}
		}
		return verify.CauseAdversarial, nil

	case verify.LevelProven:
		signOff, err := verify.DecodeArtifact[verify.HumanSignOff](bundle.Find(verify.ArtifactHumanSignOff))
		if err != nil {
			return "", err
		}
		if !signOff.Approved() {
			return "", fmt.Errorf("%w: sign-off for %s is %q, not an approval",
				verify.ErrInvalidTransition, u.ID, signOff.Decision)
		}
		return verify.CauseHumanSignOff, nil
	}
	return "", fmt.Errorf("%w: no evidence rule for level %s", verify.ErrInvalidTransition, toLevel)
}

// RaiseChallenge enters a pending challenge into the ledger and forces
// the target unit to L0 as one atomic operation. No state is observable
// where the challenge exists but the level has not dropped. In-flight
// leases on the unit survive; their commits fail the open-challenge
// check, which preserves the evidence while refusing the upgrade.
func (e *Engine) RaiseChallenge(ch *verify.Challenge) error {
	if err := ch.Validate(); err != nil {
		return fmt.Errorf("invalid challenge: %w", err)
	}
	if ch.Status != verify.ChallengeStatusPending {
		return fmt.Errorf("invalid challenge: status must be pending, got %s", ch.Status)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	u, ok := e.units[ch.TargetUnit]
	if !ok {
		return fmt.Errorf("%w: %s", verify.ErrUnknownUnit, ch.TargetUnit)
	}
	if _, dup := e.challenges[ch.ID]; dup {
		return fmt.Errorf("challenge %s already exists", ch.ID)
	}

	now := e.clock()
	stored := *ch
	stored.CreatedAt = now
	e.challenges[ch.ID] = &stored
	u.OpenChallenges = append(u.OpenChallenges, ch.ID)

	from := u.Level
	if from != verify.LevelDraft {
		rec := e.ledger.Append(u.ID, from, verify.LevelDraft, nil, now)
		u.Level = verify.LevelDraft
		u.LevelHistory = append(u.LevelHistory, verify.LevelTransition{
			Level:       verify.LevelDraft,
			Cause:       verify.CauseChallenge,
			EvidenceRef: ch.ID,
			Timestamp:   now,
		})
		e.emitLocked(verify.UnitDowngradedEvent{
			UnitID:      u.ID,
			FromLevel:   from,
			ChallengeID: ch.ID,
			Severity:    string(ch.Severity),
		})
		e.logger.Warn("unit downgraded by challenge",
			"unit", u.ID,
			"from", from,
			"challenge", ch.ID,
			"severity", ch.Severity,
			"sequence", rec.SequenceNo)
	}

	// Dependents leave the ready set before this call returns; the
	// next Claim observes the recomputed eligibility.
	e.notifyReadinessLocked()

	e.emitLocked(verify.ChallengeRaisedEvent{
		ChallengeID: ch.ID,
		TargetUnit:  ch.TargetUnit,
		Edge:        ch.Edge,
		Severity:    string(ch.Severity),
		RaisedBy:    ch.RaisedBy,
	})
	return nil
}

// ResolveChallenge closes a pending challenge. The unit's level does not
// change: resolution only removes the scheduling block, and the unit
// re-earns levels through fresh evidence.
func (e *Engine) ResolveChallenge(id string, status verify.ChallengeStatus, resolution string) error {
	if status != verify.ChallengeStatusResolved && status != verify.ChallengeStatusWontfix {
		return fmt.Errorf("invalid resolution status %q", status)
	}
	if resolution == "" {
		return &verify.ValidationError{Field: "resolution", Message: "resolution is required"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ch, ok := e.challenges[id]
	if !ok {
		return fmt.Errorf("%w: %s", verify.ErrUnknownChallenge, id)
	}
	if !ch.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s is %s", verify.ErrChallengeClosed, id, ch.Status)
	}

	now := e.clock()
	ch.Status = status
	ch.Resolution = resolution
	ch.ResolvedAt = &now

	u := e.units[ch.TargetUnit]
	remaining := u.OpenChallenges[:0]
	for _, open := range u.OpenChallenges {
		if open != id {
			remaining = append(remaining, open)
		}
	}
	u.OpenChallenges = remaining

	e.notifyReadinessLocked()

	e.logger.Info("challenge closed",
		"challenge", id,
		"unit", ch.TargetUnit,
		"status", status)
	e.emitLocked(verify.ChallengeResolvedEvent{
		ChallengeID: id,
		TargetUnit:  ch.TargetUnit,
		Status:      string(status),
		Resolution:  resolution,
	})
	return nil
}

// Challenge returns a snapshot of one challenge.
func (e *Engine) Challenge(id string) (*verify.Challenge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch, ok := e.challenges[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", verify.ErrUnknownChallenge, id)
	}
	out := *ch
	return &out, nil
}

// Challenges returns challenge snapshots, optionally filtered by status,
// newest first.
func (e *Engine) Challenges(status verify.ChallengeStatus) []*verify.Challenge {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*verify.Challenge
	for _, ch := range e.challenges {
		if status != "" && ch.Status != status {
			continue
		}
		c := *ch
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Records returns the full commit log.
func (e *Engine) Records() []verify.CommitRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Records()
}

// StateAt reconstructs every committed unit's level as of a sequence
// number, from the log alone.
func (e *Engine) StateAt(seq uint64) map[string]verify.Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.StateAt(seq)
}

// VerifyLog checks the commit chain end to end.
func (e *Engine) VerifyLog() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Verify()
}
