package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/veriflow/verify"
)

// BlockedUnit pairs a unit with its blocking cause for the run report.
type BlockedUnit struct {
	UnitID string            `json:"unit_id"`
	Cause  verify.BlockCause `json:"cause"`

	// Detail carries the cycle path for cyclic blocks.
	Detail string `json:"detail,omitempty"`
}

// RunSummary is the exit report of a scheduling run: every unit's final
// level, every blocked unit with its specific cause, and the batch count.
// A run always terminates with one, even on partial failure.
type RunSummary struct {
	RunID          string               `json:"run_id"`
	UnitsPerLevel  map[verify.Level]int `json:"units_per_level"`
	Blocked        []BlockedUnit        `json:"blocked,omitempty"`
	ElapsedBatches int                  `json:"elapsed_batches"`
	Commits        int                  `json:"commits"`
	OpenChallenges int                  `json:"open_challenges"`
	StartedAt      time.Time            `json:"started_at"`
	FinishedAt     time.Time            `json:"finished_at"`
}

// Summary assembles the current run report.
func (e *Engine) Summary(runID string) *RunSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &RunSummary{
		RunID:          runID,
		UnitsPerLevel:  make(map[verify.Level]int),
		ElapsedBatches: e.batchesIssued,
		Commits:        e.ledger.Len(),
		StartedAt:      e.startedAt,
		FinishedAt:     e.clock(),
	}
	for _, u := range e.units {
		s.UnitsPerLevel[u.Level]++
	}
	for _, ch := range e.challenges {
		if ch.Status.IsOpen() {
			s.OpenChallenges++
		}
	}
	for id, cause := range e.graph.blocked() {
		blocked := BlockedUnit{UnitID: id, Cause: cause}
		if ce, ok := e.graph.cycles[id]; ok {
			blocked.Detail = strings.Join(ce.Path, " -> ")
		}
		s.Blocked = append(s.Blocked, blocked)
	}
	sort.Slice(s.Blocked, func(i, j int) bool {
		return s.Blocked[i].UnitID < s.Blocked[j].UnitID
	})
	return s
}

// Event converts the summary into its publishable event form.
func (s *RunSummary) Event() verify.RunCompletedEvent {
	blocked := make(map[string]string, len(s.Blocked))
	for _, b := range s.Blocked {
		blocked[b.UnitID] = string(b.Cause)
	}
	if len(blocked) == 0 {
		blocked = nil
	}
	return verify.RunCompletedEvent{
		RunID:          s.RunID,
		UnitsPerLevel:  s.UnitsPerLevel,
		BlockedUnits:   blocked,
		ElapsedBatches: s.ElapsedBatches,
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
	}
}

// String renders the summary for CLI output.
func (s *RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d batches, %d commits\n", s.RunID, s.ElapsedBatches, s.Commits)

	levels := []verify.Level{
		verify.LevelDraft, verify.LevelCrossChecked, verify.LevelTested,
		verify.LevelAdversarial, verify.LevelProven,
	}
	for _, lvl := range levels {
		if n := s.UnitsPerLevel[lvl]; n > 0 {
			fmt.Fprintf(&b, "  %s (%s): %d\n", lvl, lvl.Name(), n)
		}
	}
	for _, blocked := range s.Blocked {
		fmt.Fprintf(&b, "  blocked %s: %s", blocked.UnitID, blocked.Cause)
		if blocked.Detail != "" {
			fmt.Fprintf(&b, " (%s)", blocked.Detail)
		}
		b.WriteByte('\n')
	}
	if s.OpenChallenges > 0 {
		fmt.Fprintf(&b, "  open challenges: %d\n", s.OpenChallenges)
	}
	return b.String()
}
