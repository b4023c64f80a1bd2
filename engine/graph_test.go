package engine

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/veriflow/verify"
)

func cyclePlan(t *testing.T) *verify.Plan {
	t.Helper()
	return &verify.Plan{
		Version: verify.PlanVersion,
		Layers: []verify.Layer{
			{Index: 0, Name: "core", MinLevel: verify.LevelAdversarial},
		},
		Units: []*verify.Unit{
			{ID: "a", Layer: 0, IntraLayerDeps: []string{"b"}, Equivalence: verify.EquivalenceStrict},
			{ID: "b", Layer: 0, IntraLayerDeps: []string{"c"}, Equivalence: verify.EquivalenceStrict},
			{ID: "c", Layer: 0, IntraLayerDeps: []string{"a"}, Equivalence: verify.EquivalenceStrict},
			{ID: "d", Layer: 0, Equivalence: verify.EquivalenceStrict},
		},
	}
}

func TestLayerGraph_CycleRejection(t *testing.T) {
	e := newTestEngine(t, cyclePlan(t))

	cycles := e.CycleErrors()
	if len(cycles) != 1 {
		t.Fatalf("cycles = %d, want 1", len(cycles))
	}
	ce := cycles[0]
	if ce.Layer != 0 {
		t.Errorf("cycle layer = %d, want 0", ce.Layer)
	}
	if len(ce.Path) != 4 || ce.Path[0] != ce.Path[len(ce.Path)-1] {
		t.Errorf("cycle path = %v, want a closed a/b/c loop", ce.Path)
	}
	if !errors.Is(ce, verify.ErrCyclicDependency) {
		t.Error("CycleError does not unwrap to ErrCyclicDependency")
	}

	// None of the cycle members is ever ready; d is unaffected.
	ready := e.ReadySet()
	if len(ready) != 1 || ready[0] != "d" {
		t.Fatalf("ready = %v, want [d] only", ready)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := e.Claim(id, "w1", time.Minute); !errors.Is(err, verify.ErrCyclicDependency) {
			t.Errorf("claim %s error = %v, want ErrCyclicDependency", id, err)
		}
	}
}

func TestLayerGraph_UnitBehindCycleIsUnmetNotCyclic(t *testing.T) {
	plan := cyclePlan(t)
	plan.Units = append(plan.Units,
		&verify.Unit{ID: "solver", Layer: 0, IntraLayerDeps: []string{"a"}, Equivalence: verify.EquivalenceStrict},
		&verify.Unit{ID: "viewer", Layer: 0, IntraLayerDeps: []string{"solver"}, Equivalence: verify.EquivalenceStrict},
	)
	e := newTestEngine(t, plan)

	// Only the loop members carry the cycle.
	cycles := e.CycleErrors()
	if len(cycles) != 1 {
		t.Fatalf("cycles = %d, want 1", len(cycles))
	}
	for _, id := range cycles[0].Path {
		if id == "solver" || id == "viewer" {
			t.Errorf("unit %s is behind the cycle, not on it: %v", id, cycles[0].Path)
		}
	}

	// Units waiting on a cycle member classify as unmet, the same as any
	// dependency that never reaches the gate.
	blocked := e.graph.blocked()
	if blocked["a"] != verify.BlockCauseCyclicDependency {
		t.Errorf("a cause = %s, want CyclicDependency", blocked["a"])
	}
	for _, id := range []string{"solver", "viewer"} {
		if blocked[id] != verify.BlockCauseUnmetDependency {
			t.Errorf("%s cause = %s, want UnmetDependency", id, blocked[id])
		}
	}

	if _, err := e.Claim("solver", "w1", time.Minute); !errors.Is(err, verify.ErrUnmetDependency) {
		t.Errorf("claim solver error = %v, want ErrUnmetDependency", err)
	}
	if _, err := e.Claim("a", "w1", time.Minute); !errors.Is(err, verify.ErrCyclicDependency) {
		t.Errorf("claim a error = %v, want ErrCyclicDependency", err)
	}
}

func TestLayerGraph_CyclePathReadable(t *testing.T) {
	e := newTestEngine(t, cyclePlan(t))
	msg := e.CycleErrors()[0].Error()
	if !strings.Contains(msg, "->") {
		t.Errorf("cycle error %q does not render the path", msg)
	}
}

func TestLayerGraph_IntraLayerDependencyGate(t *testing.T) {
	plan := &verify.Plan{
		Version: verify.PlanVersion,
		Layers: []verify.Layer{
			{Index: 0, Name: "core", MinLevel: verify.LevelTested},
		},
		Units: []*verify.Unit{
			{ID: "base", Layer: 0, Equivalence: verify.EquivalenceStrict},
			{ID: "derived", Layer: 0, IntraLayerDeps: []string{"base"}, Equivalence: verify.EquivalenceStrict},
		},
	}
	e := newTestEngine(t, plan)

	ready := e.ReadySet()
	if len(ready) != 1 || ready[0] != "base" {
		t.Fatalf("ready = %v, want [base]: derived waits for base at L2", ready)
	}

	advance(t, e, "base", verify.LevelTested)
	ready = e.ReadySet()
	if len(ready) != 2 {
		t.Fatalf("ready = %v, want base and derived once the dep meets min level", ready)
	}
}

func TestLayerGraph_BatchNumbering(t *testing.T) {
	e := newTestEngine(t, testPlan(t))

	no, batch := e.NextBatch()
	if no != 1 || len(batch) != 1 || batch[0] != "svd" {
		t.Fatalf("batch 1 = %d %v, want [svd]", no, batch)
	}

	advance(t, e, "svd", verify.LevelProven)
	no, batch = e.NextBatch()
	if no != 2 || len(batch) != 1 || batch[0] != "mps" {
		t.Fatalf("batch 2 = %d %v, want [mps]", no, batch)
	}

	advance(t, e, "mps", verify.LevelProven)
	no, batch = e.NextBatch()
	if len(batch) != 0 {
		t.Fatalf("batch after completion = %v, want empty", batch)
	}
	if no != 2 {
		t.Errorf("empty batch consumed a number: %d", no)
	}
}

func TestLayerGraph_UndeclaredLayerDefaultsToTested(t *testing.T) {
	plan := &verify.Plan{
		Version: verify.PlanVersion,
		Layers: []verify.Layer{
			{Index: 0, Name: "core", MinLevel: verify.LevelTested},
		},
		Units: []*verify.Unit{
			{ID: "u0", Layer: 0, Equivalence: verify.EquivalenceStrict},
		},
	}
	e := newTestEngine(t, plan)

	g := e.graph
	if got := g.minLevelFor(7); got != verify.LevelTested {
		t.Errorf("minLevelFor(undeclared) = %s, want L2 default", got)
	}
}

func TestLayerGraph_TransitiveDependents(t *testing.T) {
	plan := &verify.Plan{
		Version: verify.PlanVersion,
		Layers: []verify.Layer{
			{Index: 0, Name: "core", MinLevel: verify.LevelTested},
		},
		Units: []*verify.Unit{
			{ID: "a", Layer: 0, Equivalence: verify.EquivalenceStrict},
			{ID: "b", Layer: 0, IntraLayerDeps: []string{"a"}, Equivalence: verify.EquivalenceStrict},
			{ID: "c", Layer: 0, IntraLayerDeps: []string{"b"}, Equivalence: verify.EquivalenceStrict},
			{ID: "e", Layer: 0, Equivalence: verify.EquivalenceStrict},
		},
	}
	eng := newTestEngine(t, plan)

	deps := eng.graph.transitiveDependents("a")
	if len(deps) != 2 || deps[0] != "b" || deps[1] != "c" {
		t.Errorf("transitiveDependents(a) = %v, want [b c]", deps)
	}
}
