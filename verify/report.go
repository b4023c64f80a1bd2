package verify

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReviewRecord is the evidence behind an L0→L1 transition: an independent
// reviewer confirmed the unit does not contradict the reference behavior.
type ReviewRecord struct {
	UnitID    string    `json:"unit_id"`
	Reviewer  string    `json:"reviewer"`
	Verdict   string    `json:"verdict"`
	Notes     string    `json:"notes,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// VerdictNoContradiction is the only verdict that supports an upgrade.
const VerdictNoContradiction = "no-contradiction"

// Validate checks the record supports an upgrade.
func (r *ReviewRecord) Validate() error {
	if r.UnitID == "" {
		return &ValidationError{Field: "unit_id", Message: "unit_id is required"}
	}
	if r.Reviewer == "" {
		return &ValidationError{Field: "reviewer", Message: "reviewer is required"}
	}
	if r.Verdict != VerdictNoContradiction {
		return &ValidationError{Field: "verdict", Message: fmt.Sprintf("verdict %q does not support an upgrade", r.Verdict)}
	}
	return nil
}

// OracleReport is the evidence behind an L1→L2 transition: the unit's
// output matched the reference output over the declared input corpus.
type OracleReport struct {
	UnitID      string        `json:"unit_id"`
	Comparator  string        `json:"comparator"`
	Corpus      string        `json:"corpus,omitempty"`
	CasesTotal  int           `json:"cases_total"`
	CasesPassed int           `json:"cases_passed"`
	Failing     []FailingCase `json:"failing,omitempty"`
	CheckedAt   time.Time     `json:"checked_at"`
}

// Passed reports whether the oracle run supports an upgrade: a non-empty
// corpus with every case passing.
func (r *OracleReport) Passed() bool {
	return r.CasesTotal > 0 && r.CasesPassed == r.CasesTotal
}

// AdversarialReport is the evidence behind an L2→L3 transition: the attack
// search over the unit's equivalence-class space found no violating input.
type AdversarialReport struct {
	UnitID    string        `json:"unit_id"`
	Focus     string        `json:"focus,omitempty"`
	Attempts  int           `json:"attempts"`
	Failures  int           `json:"failures"`
	Failing   []FailingCase `json:"failing,omitempty"`
	Seed      int64         `json:"seed,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Passed reports whether the search supports an upgrade: at least one
// attempt and zero failures.
func (r *AdversarialReport) Passed() bool {
	return r.Attempts >= 1 && r.Failures == 0
}

// SignOffDecision enumerates human review outcomes.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// HumanSignOff is the evidence behind an L3→L4 transition: a recorded
// human approval discovered through the review queue. The engine never
// produces one itself.
type HumanSignOff struct {
	UnitID      string    `json:"unit_id"`
	QueueItemID string    `json:"queue_item_id"`
	Decision    string    `json:"decision"`
	DecidedBy   string    `json:"decided_by"`
	DecidedAt   time.Time `json:"decided_at"`
}

// Approved reports whether the decision supports an upgrade.
func (s *HumanSignOff) Approved() bool {
	return s.Decision == DecisionApprove
}

// DecodeArtifact unmarshals an artifact's JSON content into a typed
// report.
func DecodeArtifact[T any](a *Artifact) (*T, error) {
	if a == nil || len(a.Data) == 0 {
		return nil, fmt.Errorf("%w: artifact has no content", ErrIncompleteArtifactBundle)
	}
	var out T
	if err := json.Unmarshal(a.Data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode artifact: %v", ErrIncompleteArtifactBundle, err)
	}
	return &out, nil
}

// EncodeArtifact marshals a typed report into an artifact of the given
// kind.
func EncodeArtifact(kind ArtifactKind, report any) (Artifact, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return Artifact{}, fmt.Errorf("encode %s artifact: %w", kind, err)
	}
	return Artifact{Kind: kind, Data: data}, nil
}
