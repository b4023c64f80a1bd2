package verify

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validPlanYAML = `version: 1
layers:
  - index: 0
    name: core
    min_level: L2
  - index: 1
    name: algorithm
    min_level: L3
units:
  - id: matrix-ops
    layer: 0
    equivalence_class: strict
  - id: svd
    layer: 1
    deps: [matrix-ops]
    equivalence_class: numerical-tolerance
    entrypoint: ComputeSVD
    corpus: corpus/svd/*.json
  - id: eig
    layer: 1
    deps: [svd]
    equivalence_class: semantic
knowledge:
  svd.atol: 1e-12
  svd.rtol: 1e-9
`

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan([]byte(validPlanYAML))
	if err != nil {
		t.Fatalf("ParsePlan() error: %v", err)
	}

	if len(plan.Layers) != 2 || len(plan.Units) != 3 {
		t.Fatalf("got %d layers, %d units", len(plan.Layers), len(plan.Units))
	}
	if plan.Layers[0].MinLevel != LevelTested || plan.Layers[1].MinLevel != LevelAdversarial {
		t.Errorf("unexpected layer min levels: %+v", plan.Layers)
	}

	svd := plan.UnitByID("svd")
	if svd == nil {
		t.Fatal("svd unit missing")
	}
	if svd.Level != LevelDraft {
		t.Errorf("new unit level = %s, want L0", svd.Level)
	}
	if svd.Equivalence != EquivalenceNumerical {
		t.Errorf("equivalence = %s", svd.Equivalence)
	}
	if len(svd.IntraLayerDeps) != 1 || svd.IntraLayerDeps[0] != "matrix-ops" {
		t.Errorf("deps = %v", svd.IntraLayerDeps)
	}
	if plan.Corpus["svd"] != "corpus/svd/*.json" {
		t.Errorf("corpus = %q", plan.Corpus["svd"])
	}
	if _, ok := plan.Corpus["eig"]; ok {
		t.Error("eig should have no corpus entry")
	}
	if plan.Facts["svd.atol"] == nil {
		t.Error("knowledge facts not loaded")
	}
}

func TestParsePlanVersionMismatch(t *testing.T) {
	_, err := ParsePlan([]byte("version: 2\nunits:\n  - id: a\n    layer: 0\n    equivalence_class: strict\n"))
	if !errors.Is(err, ErrPlanVersion) {
		t.Errorf("got %v, want ErrPlanVersion", err)
	}
}

func TestParsePlanEmpty(t *testing.T) {
	_, err := ParsePlan([]byte("version: 1\nlayers:\n  - index: 0\n    name: core\n    min_level: L2\n"))
	if !errors.Is(err, ErrEmptyPlan) {
		t.Errorf("got %v, want ErrEmptyPlan", err)
	}
}

func TestParsePlanStructuralErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			"duplicate unit id",
			`version: 1
layers: [{index: 0, name: core, min_level: L2}]
units:
  - {id: svd, layer: 0, equivalence_class: strict}
  - {id: svd, layer: 0, equivalence_class: strict}
`,
			"duplicate unit id",
		},
		{
			"undefined layer",
			`version: 1
layers: [{index: 0, name: core, min_level: L2}]
units:
  - {id: svd, layer: 3, equivalence_class: strict}
`,
			"undefined layer",
		},
		{
			"undefined dependency",
			`version: 1
layers: [{index: 0, name: core, min_level: L2}]
units:
  - {id: svd, layer: 0, deps: [ghost], equivalence_class: strict}
`,
			"undefined unit",
		},
		{
			"dependency on higher layer",
			`version: 1
layers: [{index: 0, name: core, min_level: L2}, {index: 1, name: algo, min_level: L2}]
units:
  - {id: base, layer: 0, deps: [high], equivalence_class: strict}
  - {id: high, layer: 1, equivalence_class: strict}
`,
			"higher layer",
		},
		{
			"duplicate layer index",
			`version: 1
layers: [{index: 0, name: core, min_level: L2}, {index: 0, name: again, min_level: L2}]
units:
  - {id: svd, layer: 0, equivalence_class: strict}
`,
			"duplicate layer index",
		},
		{
			"unknown equivalence class",
			`version: 1
layers: [{index: 0, name: core, min_level: L2}]
units:
  - {id: svd, layer: 0, equivalence_class: vibes}
`,
			"equivalence class",
		},
		{
			"malformed scope pattern",
			`version: 1
layers: [{index: 0, name: core, min_level: L2}]
units:
  - {id: svd, layer: 0, equivalence_class: strict, scope_patterns: ["src/[bad"]}
`,
			"malformed pattern",
		},
		{
			"self dependency",
			`version: 1
layers: [{index: 0, name: core, min_level: L2}]
units:
  - {id: svd, layer: 0, deps: [svd], equivalence_class: strict}
`,
			"depend on itself",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verify-plan.yaml")
	if err := os.WriteFile(path, []byte(validPlanYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	plan, err := LoadPlan(path)
	if err != nil {
		t.Fatalf("LoadPlan() error: %v", err)
	}
	if len(plan.Units) != 3 {
		t.Errorf("got %d units", len(plan.Units))
	}

	if _, err := LoadPlan(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should error")
	}
}

func TestPlanMinLevelFor(t *testing.T) {
	plan, err := ParsePlan([]byte(validPlanYAML))
	if err != nil {
		t.Fatal(err)
	}
	if got := plan.MinLevelFor(0); got != LevelTested {
		t.Errorf("layer 0 min level = %s", got)
	}
	if got := plan.MinLevelFor(1); got != LevelAdversarial {
		t.Errorf("layer 1 min level = %s", got)
	}
	if got := plan.MinLevelFor(9); got != LevelTested {
		t.Errorf("unknown layer min level = %s, want L2 default", got)
	}
}

func TestPlanLookups(t *testing.T) {
	plan, err := ParsePlan([]byte(validPlanYAML))
	if err != nil {
		t.Fatal(err)
	}
	if plan.UnitByID("nope") != nil {
		t.Error("unknown unit should return nil")
	}
	if l := plan.LayerByIndex(1); l == nil || l.Name != "algorithm" {
		t.Errorf("LayerByIndex(1) = %+v", l)
	}
	if plan.LayerByIndex(7) != nil {
		t.Error("unknown layer should return nil")
	}
}
