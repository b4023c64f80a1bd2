package verify

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

func init() {
	// Register RunTriggerPayload type for message deserialization
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "verify",
		Category:    "run-trigger",
		Version:     "v1",
		Description: "Verification run trigger payload",
		Factory:     func() any { return &RunTriggerPayload{} },
	})

	// Register VerdictPayload type
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "verify",
		Category:    "verdict",
		Version:     "v1",
		Description: "Worker verdict payload for one unit attempt",
		Factory:     func() any { return &VerdictPayload{} },
	})

	// Register challenge operation payloads
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "verify",
		Category:    "challenge-raise",
		Version:     "v1",
		Description: "Raise a challenge against a unit",
		Factory:     func() any { return &ChallengeRaisePayload{} },
	})
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "verify",
		Category:    "challenge-resolve",
		Version:     "v1",
		Description: "Resolve an open challenge",
		Factory:     func() any { return &ChallengeResolvePayload{} },
	})
}

// RunTriggerPayload starts a verification run over the configured plan.
type RunTriggerPayload struct {
	// RunID identifies the run. Generated when empty.
	RunID string `json:"run_id,omitempty"`

	// PlanPath overrides the orchestrator's configured plan file.
	PlanPath string `json:"plan_path,omitempty"`

	// MaxBatches bounds the run; 0 means run until quiescent.
	MaxBatches int `json:"max_batches,omitempty"`

	// TraceID correlates the run across components.
	TraceID string `json:"trace_id,omitempty"`
}

// Schema returns the message type for RunTriggerPayload.
func (p *RunTriggerPayload) Schema() message.Type {
	return RunTriggerType
}

// Validate validates the RunTriggerPayload.
func (p *RunTriggerPayload) Validate() error {
	if p.MaxBatches < 0 {
		return &ValidationError{Field: "max_batches", Message: "max_batches must be non-negative"}
	}
	return nil
}

// MarshalJSON marshals the RunTriggerPayload to JSON.
func (p *RunTriggerPayload) MarshalJSON() ([]byte, error) {
	type Alias RunTriggerPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the RunTriggerPayload from JSON.
func (p *RunTriggerPayload) UnmarshalJSON(data []byte) error {
	type Alias RunTriggerPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// RunTriggerType is the message type for run trigger payloads.
var RunTriggerType = message.Type{
	Domain:   "verify",
	Category: "run-trigger",
	Version:  "v1",
}

// VerdictPayload reports one worker attempt on one unit: the evidence
// artifact produced and whether the attempt supports an upgrade. Refusals
// carry the failing cases; they are reports, not downgrades.
type VerdictPayload struct {
	// UnitID is the attempted unit.
	UnitID string `json:"unit_id"`

	// Lease is the claim token the work ran under.
	Lease string `json:"lease"`

	// TargetLevel is the level the attempt argues for.
	TargetLevel Level `json:"target_level"`

	// Passed reports whether the check supports the upgrade.
	Passed bool `json:"passed"`

	// Artifact is the produced evidence blob (report JSON).
	Artifact json.RawMessage `json:"artifact,omitempty"`

	// Failing carries diverging cases when Passed is false.
	Failing []FailingCase `json:"failing,omitempty"`

	// WorkerKind identifies the producing worker variant.
	WorkerKind string `json:"worker_kind,omitempty"`
}

// Schema returns the message type for VerdictPayload.
func (p *VerdictPayload) Schema() message.Type {
	return VerdictType
}

// Validate validates the VerdictPayload.
func (p *VerdictPayload) Validate() error {
	if p.UnitID == "" {
		return &ValidationError{Field: "unit_id", Message: "unit_id is required"}
	}
	if !p.TargetLevel.IsValid() {
		return &ValidationError{Field: "target_level", Message: fmt.Sprintf("unknown level %q", p.TargetLevel)}
	}
	return nil
}

// MarshalJSON marshals the VerdictPayload to JSON.
func (p *VerdictPayload) MarshalJSON() ([]byte, error) {
	type Alias VerdictPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the VerdictPayload from JSON.
func (p *VerdictPayload) UnmarshalJSON(data []byte) error {
	type Alias VerdictPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// VerdictType is the message type for verdict payloads.
var VerdictType = message.Type{
	Domain:   "verify",
	Category: "verdict",
	Version:  "v1",
}

// Operation subjects on the VERIFY stream. Events live under
// verify.events.* (see events.go); these carry commands. Verdicts are
// published per unit under SubjectVerdictPrefix.
const (
	SubjectRunTrigger       = "verify.run.trigger"
	SubjectChallengeRaise   = "verify.challenge.raise"
	SubjectChallengeResolve = "verify.challenge.resolve"
	SubjectVerdictPrefix    = "verify.verdict."
)

// VerdictSubject returns the per-unit subject verdicts publish on.
func VerdictSubject(unitID string) string {
	return SubjectVerdictPrefix + unitID
}

// ChallengeRaisePayload asks the engine owner to raise a challenge. The
// challenge arrives fully formed, id included, so the submitter can
// reference it before the downgrade lands.
type ChallengeRaisePayload struct {
	Challenge Challenge `json:"challenge"`

	// TraceID correlates the raise across components.
	TraceID string `json:"trace_id,omitempty"`
}

// Schema returns the message type for ChallengeRaisePayload.
func (p *ChallengeRaisePayload) Schema() message.Type {
	return ChallengeRaiseType
}

// Validate validates the ChallengeRaisePayload.
func (p *ChallengeRaisePayload) Validate() error {
	return p.Challenge.Validate()
}

// MarshalJSON marshals the ChallengeRaisePayload to JSON.
func (p *ChallengeRaisePayload) MarshalJSON() ([]byte, error) {
	type Alias ChallengeRaisePayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the ChallengeRaisePayload from JSON.
func (p *ChallengeRaisePayload) UnmarshalJSON(data []byte) error {
	type Alias ChallengeRaisePayload
	return json.Unmarshal(data, (*Alias)(p))
}

// ChallengeRaiseType is the message type for challenge raise payloads.
var ChallengeRaiseType = message.Type{
	Domain:   "verify",
	Category: "challenge-raise",
	Version:  "v1",
}

// ChallengeResolvePayload asks the engine owner to close a challenge.
// Resolution clears the scheduling block; the unit stays at L0.
type ChallengeResolvePayload struct {
	ChallengeID string          `json:"challenge_id"`
	Status      ChallengeStatus `json:"status"`
	Resolution  string          `json:"resolution"`
	ResolvedBy  string          `json:"resolved_by,omitempty"`

	// TraceID correlates the resolution across components.
	TraceID string `json:"trace_id,omitempty"`
}

// Schema returns the message type for ChallengeResolvePayload.
func (p *ChallengeResolvePayload) Schema() message.Type {
	return ChallengeResolveType
}

// Validate validates the ChallengeResolvePayload.
func (p *ChallengeResolvePayload) Validate() error {
	if p.ChallengeID == "" {
		return &ValidationError{Field: "challenge_id", Message: "challenge_id is required"}
	}
	if p.Status.IsOpen() || !p.Status.IsValid() {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("%q is not a closing status", p.Status)}
	}
	if p.Resolution == "" {
		return &ValidationError{Field: "resolution", Message: "resolution is required"}
	}
	return nil
}

// MarshalJSON marshals the ChallengeResolvePayload to JSON.
func (p *ChallengeResolvePayload) MarshalJSON() ([]byte, error) {
	type Alias ChallengeResolvePayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the ChallengeResolvePayload from JSON.
func (p *ChallengeResolvePayload) UnmarshalJSON(data []byte) error {
	type Alias ChallengeResolvePayload
	return json.Unmarshal(data, (*Alias)(p))
}

// ChallengeResolveType is the message type for challenge resolve payloads.
var ChallengeResolveType = message.Type{
	Domain:   "verify",
	Category: "challenge-resolve",
	Version:  "v1",
}

// ParseMessage unwraps a NATS wire message into a typed payload. Handles
// the standard BaseMessage envelope and falls back to raw JSON for
// manually published triggers.
func ParseMessage[T any](data []byte) (*T, error) {
	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Payload) > 0 {
		var out T
		if err := json.Unmarshal(envelope.Payload, &out); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &out, nil
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &out, nil
}
