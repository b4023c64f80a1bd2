package verify

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Sentinel errors for plan loading.
var (
	ErrPlanVersion = errors.New("unsupported plan version")
	ErrEmptyPlan   = errors.New("plan contains no units")
)

// planFile is the YAML schema of a verification plan. Converted to domain
// types by ParsePlan; nothing outside this file touches the YAML form.
type planFile struct {
	Version int            `yaml:"version"`
	Layers  []planLayer    `yaml:"layers"`
	Units   []planUnit     `yaml:"units"`
	Facts   map[string]any `yaml:"knowledge,omitempty"`
}

type planLayer struct {
	Index    int    `yaml:"index"`
	Name     string `yaml:"name"`
	MinLevel string `yaml:"min_level"`
}

type planUnit struct {
	ID            string   `yaml:"id"`
	Layer         int      `yaml:"layer"`
	Deps          []string `yaml:"deps,omitempty"`
	Equivalence   string   `yaml:"equivalence_class"`
	Entrypoint    string   `yaml:"entrypoint,omitempty"`
	ScopePatterns []string `yaml:"scope_patterns,omitempty"`
	SourceRef     string   `yaml:"source_ref,omitempty"`
	Corpus        string   `yaml:"corpus,omitempty"`
}

// Plan is a loaded, validated verification plan: the static configuration
// the engine schedules against. Plans are immutable after load; a changed
// plan file means a new Plan and a fresh engine.
type Plan struct {
	// Version is the plan schema version. Only version 1 is defined.
	Version int

	// Layers in ascending index order.
	Layers []Layer

	// Units in file order. Every unit starts at L0 with a plan-cause
	// history entry.
	Units []*Unit

	// Facts seed the knowledge store: equivalence tolerances, attack
	// parameters, and other domain constants consulted during
	// verification.
	Facts map[string]any

	// Corpus maps unit id to its declared oracle corpus glob pattern.
	// Units absent from the map use the configured convention.
	Corpus map[string]string
}

// PlanVersion is the plan schema version this build understands.
const PlanVersion = 1

// LoadPlan reads and validates a plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan parses and validates plan YAML.
func ParsePlan(data []byte) (*Plan, error) {
	var file planFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	if file.Version != PlanVersion {
		return nil, fmt.Errorf("%w: %d", ErrPlanVersion, file.Version)
	}

	plan := &Plan{
		Version: file.Version,
		Facts:   file.Facts,
		Corpus:  make(map[string]string),
	}

	for _, l := range file.Layers {
		plan.Layers = append(plan.Layers, Layer{
			Index:    l.Index,
			Name:     l.Name,
			MinLevel: Level(l.MinLevel),
		})
	}
	sort.Slice(plan.Layers, func(i, j int) bool {
		return plan.Layers[i].Index < plan.Layers[j].Index
	})

	for _, u := range file.Units {
		unit := &Unit{
			ID:             u.ID,
			Layer:          u.Layer,
			IntraLayerDeps: u.Deps,
			Equivalence:    EquivalenceClass(u.Equivalence),
			Level:          LevelDraft,
			Entrypoint:     u.Entrypoint,
			ScopePatterns:  u.ScopePatterns,
			SourceRef:      u.SourceRef,
		}
		plan.Units = append(plan.Units, unit)
		if u.Corpus != "" {
			plan.Corpus[u.ID] = u.Corpus
		}
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Validate checks plan structure: layer and unit validity, reference
// integrity, and dependency direction. Cycle detection is the engine's
// job; validation only guarantees the graph is well-formed enough to
// build.
func (p *Plan) Validate() error {
	if len(p.Units) == 0 {
		return ErrEmptyPlan
	}

	layerByIndex := make(map[int]*Layer, len(p.Layers))
	for i := range p.Layers {
		l := &p.Layers[i]
		if err := l.Validate(); err != nil {
			return fmt.Errorf("layer %d: %w", l.Index, err)
		}
		if _, dup := layerByIndex[l.Index]; dup {
			return &ValidationError{Field: "layers", Message: fmt.Sprintf("duplicate layer index %d", l.Index)}
		}
		layerByIndex[l.Index] = l
	}

	unitByID := make(map[string]*Unit, len(p.Units))
	for _, u := range p.Units {
		if err := u.Validate(); err != nil {
			return fmt.Errorf("unit %q: %w", u.ID, err)
		}
		if _, dup := unitByID[u.ID]; dup {
			return &ValidationError{Field: "units", Message: "duplicate unit id: " + u.ID}
		}
		if _, ok := layerByIndex[u.Layer]; !ok {
			return &ValidationError{Field: "units", Message: fmt.Sprintf("unit %q references undefined layer %d", u.ID, u.Layer)}
		}
		for _, pattern := range u.ScopePatterns {
			if !doublestar.ValidatePattern(pattern) {
				return &ValidationError{Field: "scope_patterns", Message: fmt.Sprintf("unit %q has malformed pattern %q", u.ID, pattern)}
			}
		}
		unitByID[u.ID] = u
	}

	for id, pattern := range p.Corpus {
		if !doublestar.ValidatePattern(pattern) {
			return &ValidationError{Field: "corpus", Message: fmt.Sprintf("unit %q has malformed corpus pattern %q", id, pattern)}
		}
	}

	// Dependencies may point at the same or a lower layer, never higher.
	// Strict layer ordering means cycles can only form within a single
	// layer, which keeps cycle detection per-layer.
	for _, u := range p.Units {
		for _, dep := range u.IntraLayerDeps {
			target, ok := unitByID[dep]
			if !ok {
				return &ValidationError{Field: "deps", Message: fmt.Sprintf("unit %q depends on undefined unit %q", u.ID, dep)}
			}
			if target.Layer > u.Layer {
				return &ValidationError{Field: "deps", Message: fmt.Sprintf("unit %q in layer %d depends on %q in higher layer %d", u.ID, u.Layer, dep, target.Layer)}
			}
		}
	}

	return nil
}

// UnitByID returns the unit with the given id, or nil.
func (p *Plan) UnitByID(id string) *Unit {
	for _, u := range p.Units {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// LayerByIndex returns the layer with the given index, or nil.
func (p *Plan) LayerByIndex(index int) *Layer {
	for i := range p.Layers {
		if p.Layers[i].Index == index {
			return &p.Layers[i]
		}
	}
	return nil
}

// MinLevelFor returns the min level for a layer index. Layers without an
// explicit entry default to LevelTested, the conventional late-layer gate.
func (p *Plan) MinLevelFor(index int) Level {
	if l := p.LayerByIndex(index); l != nil {
		return l.MinLevel
	}
	return LevelTested
}
