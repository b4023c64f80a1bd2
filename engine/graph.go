// Package engine implements the verification engine: the level state
// machine, the dependency layer graph, the challenge ledger, the commit
// assembler, and unit leases, all linearized behind one mutex. Everything
// outside the engine observes state through cloned snapshots; every
// mutation goes through an engine method.
package engine

import (
	"sort"

	"github.com/c360studio/veriflow/verify"
)

// layerGraph holds the static dependency structure of a plan: units
// grouped into totally ordered layers, intra-layer dependency edges, and
// the units disqualified by dependency cycles. The graph itself never
// changes after construction; eligibility is a function of the graph plus
// the current unit levels and challenge sets.
//
// Callers hold the engine mutex; the graph has no locking of its own.
type layerGraph struct {
	units      map[string]*verify.Unit
	layers     []verify.Layer      // ascending index order
	deps       map[string][]string // unit -> required units
	dependents map[string][]string // unit -> units requiring it
	cycles     map[string]*verify.CycleError
}

// newLayerGraph builds the graph from a validated plan and detects
// dependency cycles. Cycles are recorded, not returned as a construction
// failure: the involved units are permanently blocked while the rest of
// the plan schedules normally.
func newLayerGraph(plan *verify.Plan) *layerGraph {
	g := &layerGraph{
		units:      make(map[string]*verify.Unit, len(plan.Units)),
		deps:       make(map[string][]string, len(plan.Units)),
		dependents: make(map[string][]string),
		cycles:     make(map[string]*verify.CycleError),
	}

	g.layers = append(g.layers, plan.Layers...)
	sort.Slice(g.layers, func(i, j int) bool {
		return g.layers[i].Index < g.layers[j].Index
	})

	for _, u := range plan.Units {
		g.units[u.ID] = u
		g.deps[u.ID] = append([]string(nil), u.IntraLayerDeps...)
	}
	for _, u := range plan.Units {
		for _, dep := range u.IntraLayerDeps {
			g.dependents[dep] = append(g.dependents[dep], u.ID)
		}
	}

	g.detectCycles()
	return g
}

// detectCycles runs Kahn's algorithm per layer over same-layer edges.
// Plan validation guarantees dependencies never point at a higher layer,
// so any cycle lives entirely within one layer. Only units on a loop are
// recorded as cyclic; a unit merely stuck behind a cycle classifies as an
// unmet dependency through the normal eligibility walk.
func (g *layerGraph) detectCycles() {
	byLayer := make(map[int][]string)
	for id, u := range g.units {
		byLayer[u.Layer] = append(byLayer[u.Layer], id)
	}

	for layer, ids := range byLayer {
		inDegree := make(map[string]int, len(ids))
		for _, id := range ids {
			inDegree[id] = 0
		}
		for _, id := range ids {
			for _, dep := range g.deps[id] {
				if g.units[dep].Layer == layer {
					inDegree[id]++
				}
			}
		}

		var queue []string
		for _, id := range ids {
			if inDegree[id] == 0 {
				queue = append(queue, id)
			}
		}

		processed := 0
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			processed++
			for _, dep := range g.dependents[id] {
				if g.units[dep].Layer != layer {
					continue
				}
				inDegree[dep]--
				if inDegree[dep] == 0 {
					queue = append(queue, dep)
				}
			}
		}

		if processed == len(ids) {
			continue
		}

		// Everything still holding in-degree is on or behind a cycle.
		stuck := make(map[string]bool)
		for id, deg := range inDegree {
			if deg > 0 {
				stuck[id] = true
			}
		}

		// Peel off the units merely stuck behind a loop: anything no
		// other stuck unit depends on cannot be on one. The peel
		// cascades upstream until only loop members (and connectors
		// between loops) remain.
		for changed := true; changed; {
			changed = false
			for id := range stuck {
				hasStuckDependent := false
				for _, dep := range g.dependents[id] {
					if stuck[dep] && g.units[dep].Layer == layer {
						hasStuckDependent = true
						break
					}
				}
				if !hasStuckDependent {
					delete(stuck, id)
					changed = true
				}
			}
		}

		// Extract each loop and attach it to its members only.
		for len(stuck) > 0 {
			path := g.extractCycle(layer, stuck)
			closed := len(path) > 1 && path[0] == path[len(path)-1]
			for _, id := range path {
				delete(stuck, id)
			}
			if !closed {
				// A connector between two loops; its own loop was
				// already extracted.
				continue
			}
			cycleErr := &verify.CycleError{Layer: layer, Path: path}
			for _, id := range path[:len(path)-1] {
				g.cycles[id] = cycleErr
			}
		}
	}
}

// extractCycle walks dependency edges within the stuck set until a unit
// repeats, then returns the closed loop in dependency order.
func (g *layerGraph) extractCycle(layer int, stuck map[string]bool) []string {
	// Deterministic start for stable error messages.
	var start string
	for id := range stuck {
		if start == "" || id < start {
			start = id
		}
	}

	seen := make(map[string]int)
	var walk []string
	cur := start
	for {
		if at, ok := seen[cur]; ok {
			path := append([]string(nil), walk[at:]...)
			return append(path, cur)
		}
		seen[cur] = len(walk)
		walk = append(walk, cur)

		next := ""
		for _, dep := range g.deps[cur] {
			if stuck[dep] && g.units[dep].Layer == layer {
				if next == "" || dep < next {
					next = dep
				}
			}
		}
		if next == "" {
			// No stuck dependency left to follow; the walk never
			// closed. The caller drops these units without a cycle.
			return walk
		}
		cur = next
	}
}

// cycleErrors returns the distinct cycle errors found at construction.
func (g *layerGraph) cycleErrors() []*verify.CycleError {
	seen := make(map[*verify.CycleError]bool)
	var out []*verify.CycleError
	for _, ce := range g.cycles {
		if !seen[ce] {
			seen[ce] = true
			out = append(out, ce)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Layer < out[j].Layer })
	return out
}

// minLevelFor returns the min level gate for a layer index. Undeclared
// layers default to LevelTested, the conventional late-layer gate.
func (g *layerGraph) minLevelFor(index int) verify.Level {
	for i := range g.layers {
		if g.layers[i].Index == index {
			return g.layers[i].MinLevel
		}
	}
	return verify.LevelTested
}

// layerGateOpen reports whether every unit in every layer below the given
// index has reached its own layer's min level.
func (g *layerGraph) layerGateOpen(index int) bool {
	for _, u := range g.units {
		if u.Layer >= index {
			continue
		}
		if !u.Level.AtLeast(g.minLevelFor(u.Layer)) {
			return false
		}
	}
	return true
}

// blockCauseOf classifies why a unit is not eligible right now, or ok=false
// when it is eligible.
func (g *layerGraph) blockCauseOf(u *verify.Unit) (verify.BlockCause, bool) {
	if _, cyclic := g.cycles[u.ID]; cyclic {
		return verify.BlockCauseCyclicDependency, true
	}
	if u.HasOpenChallenges() {
		return verify.BlockCauseOpenChallenge, true
	}
	if !g.layerGateOpen(u.Layer) {
		return verify.BlockCauseUnmetDependency, true
	}
	min := g.minLevelFor(u.Layer)
	for _, dep := range g.deps[u.ID] {
		// A dependency pinned on a cycle never meets the gate, so a
		// clean dependent reports an unmet dependency, not a cycle it
		// is not part of.
		if !g.units[dep].Level.AtLeast(min) {
			return verify.BlockCauseUnmetDependency, true
		}
	}
	return "", false
}

// eligible reports whether a unit may be scheduled for work.
func (g *layerGraph) eligible(u *verify.Unit) bool {
	_, blocked := g.blockCauseOf(u)
	return !blocked
}

// readySet returns the ids of units currently eligible for work, sorted
// by layer then id. Units already at the top level have nothing left to
// verify and are excluded. Because eligibility requires every dependency
// to already meet the layer's min level, the ready set is also the
// parallel batch: no member has an unresolved dependency on another.
func (g *layerGraph) readySet() []string {
	var ready []string
	for id, u := range g.units {
		if u.Level == verify.LevelProven {
			continue
		}
		if g.eligible(u) {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		a, b := g.units[ready[i]], g.units[ready[j]]
		if a.Layer != b.Layer {
			return a.Layer < b.Layer
		}
		return a.ID < b.ID
	})
	return ready
}

// blocked maps every non-ready, non-proven unit to its blocking cause.
func (g *layerGraph) blocked() map[string]verify.BlockCause {
	out := make(map[string]verify.BlockCause)
	for id, u := range g.units {
		if u.Level == verify.LevelProven {
			continue
		}
		if cause, isBlocked := g.blockCauseOf(u); isBlocked {
			out[id] = cause
		}
	}
	return out
}

// transitiveDependents returns every unit that depends on the given unit,
// directly or through intermediate units.
func (g *layerGraph) transitiveDependents(id string) []string {
	seen := make(map[string]bool)
	var queue []string
	queue = append(queue, g.dependents[id]...)
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		queue = append(queue, g.dependents[cur]...)
	}
	sort.Strings(out)
	return out
}
