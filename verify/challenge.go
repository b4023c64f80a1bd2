package verify

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies how damaging a challenge is if confirmed.
type Severity string

const (
	// SeverityCritical means the unit's accepted behavior is wrong in a
	// way that invalidates dependents.
	SeverityCritical Severity = "critical"

	// SeverityMajor means the discrepancy matters but is bounded.
	SeverityMajor Severity = "major"

	// SeverityMinor means a cosmetic or documentation-level discrepancy.
	SeverityMinor Severity = "minor"
)

// IsValid returns true if the severity is a known value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return true
	}
	return false
}

// ChallengeStatus represents the lifecycle state of a challenge.
//
// Valid transitions:
//
//	pending → resolved: the dispute was investigated and closed
//	pending → wontfix:  the discrepancy is accepted as permanent
//
// Both closed states are terminal. Regardless of how a challenge closes,
// the target unit stays at L0 and re-earns levels through normal
// transitions.
type ChallengeStatus string

const (
	// ChallengeStatusPending means the dispute is open. A unit with any
	// pending challenge is pinned at L0 and excluded from scheduling.
	ChallengeStatusPending ChallengeStatus = "pending"

	// ChallengeStatusResolved means the dispute was investigated and a
	// resolution recorded.
	ChallengeStatusResolved ChallengeStatus = "resolved"

	// ChallengeStatusWontfix means the discrepancy is accepted as
	// permanent. Used with approximate equivalence classes; removes the
	// item from active triage.
	ChallengeStatusWontfix ChallengeStatus = "wontfix"
)

// IsValid returns true if the status is a known value.
func (s ChallengeStatus) IsValid() bool {
	switch s {
	case ChallengeStatusPending, ChallengeStatusResolved, ChallengeStatusWontfix:
		return true
	}
	return false
}

// CanTransitionTo checks if transitioning to the target status is allowed.
func (s ChallengeStatus) CanTransitionTo(target ChallengeStatus) bool {
	switch s {
	case ChallengeStatusPending:
		return target == ChallengeStatusResolved || target == ChallengeStatusWontfix
	default:
		return false
	}
}

// IsOpen returns true while the challenge still blocks its target.
func (s ChallengeStatus) IsOpen() bool {
	return s == ChallengeStatusPending
}

// EvidenceKind classifies what an evidence reference points at.
type EvidenceKind string

const (
	// EvidenceKindURL references an external page; the snapshot field
	// may carry its archived markdown rendering.
	EvidenceKindURL EvidenceKind = "url"

	// EvidenceKindCommit references a commit record by sequence number.
	EvidenceKindCommit EvidenceKind = "commit"

	// EvidenceKindArtifact references an artifact inside a commit
	// bundle.
	EvidenceKindArtifact EvidenceKind = "artifact"

	// EvidenceKindCorpusCase references a failing case in an oracle
	// corpus.
	EvidenceKindCorpusCase EvidenceKind = "corpus-case"

	// EvidenceKindFile references a file in the translated tree.
	EvidenceKindFile EvidenceKind = "file"
)

// EvidenceRef is a structured pointer to supporting material. Prose stays
// out of the state machine; a challenge carries references, not arguments.
type EvidenceRef struct {
	Kind   EvidenceKind `json:"kind"`
	Target string       `json:"target"`
	Note   string       `json:"note,omitempty"`

	// Snapshot holds an archived markdown rendering for url evidence,
	// captured at raise time so the record survives link rot.
	Snapshot string `json:"snapshot,omitempty"`
}

// Challenge is a dispute against a unit or against a named edge of its
// verification. Raising a challenge forces the target to L0 in the same
// atomic operation; see the engine package.
type Challenge struct {
	// ID is the challenge identifier ("ch-" prefix).
	ID string `json:"id"`

	// TargetUnit is the disputed unit's id.
	TargetUnit string `json:"target_unit"`

	// Edge optionally names the disputed verification edge ("review",
	// "oracle", "adversarial", "sign-off"). Empty disputes the unit as
	// a whole.
	Edge string `json:"edge,omitempty"`

	// Severity classifies the dispute.
	Severity Severity `json:"severity"`

	// Description states what is believed wrong.
	Description string `json:"description"`

	// Evidence holds structured references backing the dispute.
	Evidence []EvidenceRef `json:"evidence,omitempty"`

	// Status tracks the dispute lifecycle.
	Status ChallengeStatus `json:"status"`

	// Resolution records how the dispute closed. Empty while pending.
	Resolution string `json:"resolution,omitempty"`

	// RaisedBy identifies the raising actor.
	RaisedBy string `json:"raised_by"`

	// CreatedAt is when the challenge was raised.
	CreatedAt time.Time `json:"created_at"`

	// ResolvedAt is when the challenge closed, nil while pending.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// NewChallenge creates a pending challenge against the given unit.
func NewChallenge(targetUnit, raisedBy string, severity Severity, description string) *Challenge {
	return &Challenge{
		ID:          "ch-" + uuid.New().String()[:8],
		TargetUnit:  targetUnit,
		Severity:    severity,
		Description: description,
		Status:      ChallengeStatusPending,
		RaisedBy:    raisedBy,
		CreatedAt:   time.Now(),
	}
}

// Validate checks the challenge for structural validity.
func (c *Challenge) Validate() error {
	if c.ID == "" {
		return &ValidationError{Field: "id", Message: "id is required"}
	}
	if err := ValidateUnitID(c.TargetUnit); err != nil {
		return &ValidationError{Field: "target_unit", Message: "invalid target unit id"}
	}
	if !c.Severity.IsValid() {
		return &ValidationError{Field: "severity", Message: "unknown severity: " + string(c.Severity)}
	}
	if c.Description == "" {
		return &ValidationError{Field: "description", Message: "description is required"}
	}
	if !c.Status.IsValid() {
		return &ValidationError{Field: "status", Message: "unknown status: " + string(c.Status)}
	}
	if c.Status != ChallengeStatusPending && c.Resolution == "" {
		return &ValidationError{Field: "resolution", Message: "closed challenge requires a resolution"}
	}
	return nil
}
