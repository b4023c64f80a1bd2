package verify

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Sentinel errors for unit identity validation.
var (
	ErrUnitIDRequired = errors.New("unit id is required")
	ErrInvalidUnitID  = errors.New("invalid unit id: must be lowercase alphanumeric with hyphens, no path separators")
)

// unitIDPattern validates unit ids: lowercase alphanumeric with hyphens, 1-50 chars.
var unitIDPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,48}[a-z0-9])?$`)

// ValidateUnitID checks if a unit id is valid and safe for use in KV keys
// and file paths.
func ValidateUnitID(id string) error {
	if id == "" {
		return ErrUnitIDRequired
	}
	// Prevent path traversal attacks
	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return ErrInvalidUnitID
	}
	if !unitIDPattern.MatchString(id) {
		return ErrInvalidUnitID
	}
	return nil
}

// LevelTransition is one entry in a unit's level history. The history is
// ordered and append-only; the current level is always the level of the
// last entry.
type LevelTransition struct {
	// Level is the level the unit held after this transition.
	Level Level `json:"level"`

	// Cause identifies the evidence kind that justified the transition.
	Cause TransitionCause `json:"cause"`

	// EvidenceRef points at the justifying artifact or challenge
	// (commit sequence number, challenge id, plan file).
	EvidenceRef string `json:"evidence_ref,omitempty"`

	// Timestamp records when the transition was accepted.
	Timestamp time.Time `json:"timestamp"`
}

// Unit is one independently verifiable piece of translated work.
//
// Units are created once at plan load and never deleted. The engine owns
// all mutation; everything outside the engine sees units as snapshots.
type Unit struct {
	// ID is the stable unit identifier (slug form).
	ID string `json:"id"`

	// Layer is the ordinal position in the global layer ordering.
	Layer int `json:"layer"`

	// IntraLayerDeps lists unit ids this unit requires. All referenced
	// units live in the same or a lower layer; cross-layer ordering is
	// implicit in the layer sequence and never listed here.
	IntraLayerDeps []string `json:"intra_layer_deps,omitempty"`

	// Equivalence fixes the comparator and attack space for this unit.
	Equivalence EquivalenceClass `json:"equivalence_class"`

	// Level is the current trust level.
	Level Level `json:"level"`

	// LevelHistory is the append-only transition record.
	LevelHistory []LevelTransition `json:"level_history,omitempty"`

	// OpenChallenges holds ids of unresolved challenges against this
	// unit. Non-empty forces Level == L0.
	OpenChallenges []string `json:"open_challenges,omitempty"`

	// Entrypoint names the symbol the unit's implementation artifact
	// must define. Empty disables the artifact structure check.
	Entrypoint string `json:"entrypoint,omitempty"`

	// ScopePatterns are glob patterns naming the source files that
	// constitute the unit.
	ScopePatterns []string `json:"scope_patterns,omitempty"`

	// SourceRef points into the original material this unit was
	// translated from.
	SourceRef string `json:"source_ref,omitempty"`
}

// Validate checks unit metadata for structural validity. Level-state
// consistency is the engine's concern, not the unit's.
func (u *Unit) Validate() error {
	if err := ValidateUnitID(u.ID); err != nil {
		return err
	}
	if u.Layer < 0 {
		return &ValidationError{Field: "layer", Message: "layer must be non-negative"}
	}
	if !u.Equivalence.IsValid() {
		return &ValidationError{Field: "equivalence_class", Message: "unknown equivalence class: " + string(u.Equivalence)}
	}
	if u.Level != "" && !u.Level.IsValid() {
		return &ValidationError{Field: "level", Message: "unknown level: " + string(u.Level)}
	}
	for _, dep := range u.IntraLayerDeps {
		if err := ValidateUnitID(dep); err != nil {
			return &ValidationError{Field: "intra_layer_deps", Message: "invalid dependency id: " + dep}
		}
		if dep == u.ID {
			return &ValidationError{Field: "intra_layer_deps", Message: "unit cannot depend on itself: " + dep}
		}
	}
	return nil
}

// HasOpenChallenges returns true when any challenge against the unit is
// unresolved.
func (u *Unit) HasOpenChallenges() bool {
	return len(u.OpenChallenges) > 0
}

// Clone returns a deep copy of the unit, so engine snapshots can be handed
// out without aliasing internal state.
func (u *Unit) Clone() *Unit {
	c := *u
	c.IntraLayerDeps = append([]string(nil), u.IntraLayerDeps...)
	c.LevelHistory = append([]LevelTransition(nil), u.LevelHistory...)
	c.OpenChallenges = append([]string(nil), u.OpenChallenges...)
	c.ScopePatterns = append([]string(nil), u.ScopePatterns...)
	return &c
}

// Layer is a named stage in the global ordering. Every unit in a layer
// must reach the layer's MinLevel before any unit in the next layer may be
// scheduled.
type Layer struct {
	// Index is the layer's position in the total order.
	Index int `json:"index"`

	// Name is a human label ("core", "algorithm", ...).
	Name string `json:"name"`

	// MinLevel is the level every unit in the layer must reach before
	// later layers unlock. Also the level intra-layer dependencies must
	// meet for a dependent in this layer to become eligible.
	MinLevel Level `json:"min_level"`
}

// Validate checks layer metadata.
func (l *Layer) Validate() error {
	if l.Index < 0 {
		return &ValidationError{Field: "index", Message: "layer index must be non-negative"}
	}
	if l.Name == "" {
		return &ValidationError{Field: "name", Message: "layer name is required"}
	}
	if !l.MinLevel.IsValid() {
		return &ValidationError{Field: "min_level", Message: "unknown level: " + string(l.MinLevel)}
	}
	return nil
}
