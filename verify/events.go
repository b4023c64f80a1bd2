package verify

import (
	"time"

	"github.com/c360studio/semstreams/natsclient"
)

// UnitLeveledEvent is published when a unit's level advances through a
// committed transition.
type UnitLeveledEvent struct {
	UnitID     string `json:"unit_id"`
	FromLevel  Level  `json:"from_level"`
	ToLevel    Level  `json:"to_level"`
	SequenceNo uint64 `json:"sequence_no"`
	Cause      string `json:"cause,omitempty"`
}

// UnitDowngradedEvent is published when a challenge forces a unit to L0.
type UnitDowngradedEvent struct {
	UnitID      string `json:"unit_id"`
	FromLevel   Level  `json:"from_level"`
	ChallengeID string `json:"challenge_id"`
	Severity    string `json:"severity,omitempty"`
}

// ChallengeRaisedEvent is published when a challenge enters the ledger.
type ChallengeRaisedEvent struct {
	ChallengeID string `json:"challenge_id"`
	TargetUnit  string `json:"target_unit"`
	Edge        string `json:"edge,omitempty"`
	Severity    string `json:"severity"`
	RaisedBy    string `json:"raised_by,omitempty"`
}

// ChallengeResolvedEvent is published when a challenge closes. The unit
// stays at L0 either way; resolution only clears the scheduling block.
type ChallengeResolvedEvent struct {
	ChallengeID string `json:"challenge_id"`
	TargetUnit  string `json:"target_unit"`
	Status      string `json:"status"`
	Resolution  string `json:"resolution,omitempty"`
}

// LeaseExpiredEvent is published when a claim passes its deadline
// without a commit or release.
type LeaseExpiredEvent struct {
	UnitID    string    `json:"unit_id"`
	Token     string    `json:"token"`
	Owner     string    `json:"owner,omitempty"`
	ExpiredAt time.Time `json:"expired_at"`
}

// BatchReadyEvent is published when readiness recomputation produces a new
// parallel batch.
type BatchReadyEvent struct {
	BatchNo int      `json:"batch_no"`
	UnitIDs []string `json:"unit_ids"`
}

// RunCompletedEvent is published with the final run summary.
type RunCompletedEvent struct {
	RunID          string            `json:"run_id"`
	UnitsPerLevel  map[Level]int     `json:"units_per_level"`
	BlockedUnits   map[string]string `json:"blocked_units,omitempty"`
	ElapsedBatches int               `json:"elapsed_batches"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
}

// Typed subject definitions for verification domain events under
// "verify.events.<entity>.<action>". These provide compile-time type
// safety for NATS publish/subscribe operations.
var (
	UnitLeveled = natsclient.NewSubject[UnitLeveledEvent](
		"verify.events.unit.leveled")
	UnitDowngraded = natsclient.NewSubject[UnitDowngradedEvent](
		"verify.events.unit.downgraded")
	ChallengeRaised = natsclient.NewSubject[ChallengeRaisedEvent](
		"verify.events.challenge.raised")
	ChallengeResolved = natsclient.NewSubject[ChallengeResolvedEvent](
		"verify.events.challenge.resolved")
	LeaseExpired = natsclient.NewSubject[LeaseExpiredEvent](
		"verify.events.lease.expired")
	BatchReady = natsclient.NewSubject[BatchReadyEvent](
		"verify.events.batch.ready")
	RunCompleted = natsclient.NewSubject[RunCompletedEvent](
		"verify.events.run.completed")
)
