// Package verify defines the domain model for the verification lifecycle:
// trust levels, equivalence classes, units, layers, challenges, and the
// artifact requirements that gate level transitions.
package verify

// Level represents the trust level of a unit.
//
// Levels form a ladder that a unit climbs one rung at a time, each rung
// backed by a distinct kind of evidence:
//
//	L0 (draft)         → L1 (cross-checked): independent review record
//	L1 (cross-checked) → L2 (tested):        oracle report, all cases passing
//	L2 (tested)        → L3 (adversarial):   adversarial report, no failures
//	L3 (adversarial)   → L4 (proven):        human sign-off via review queue
//
// Any level drops to L0 when a pending challenge is raised against the
// unit. Resolving the challenge does not restore the prior level; the unit
// re-earns levels through the normal ladder.
type Level string

const (
	// LevelDraft is the initial level: translated but unverified.
	LevelDraft Level = "L0"

	// LevelCrossChecked means an independent reviewer found no
	// contradiction with the reference behavior.
	LevelCrossChecked Level = "L1"

	// LevelTested means an oracle comparison passed over the unit's
	// declared input corpus.
	LevelTested Level = "L2"

	// LevelAdversarial means an adversarial search over the unit's
	// equivalence-class attack space found no violating input.
	LevelAdversarial Level = "L3"

	// LevelProven means a human reviewer recorded an approval decision.
	LevelProven Level = "L4"
)

// levelOrder maps each level to its position on the ladder.
var levelOrder = map[Level]int{
	LevelDraft:        0,
	LevelCrossChecked: 1,
	LevelTested:       2,
	LevelAdversarial:  3,
	LevelProven:       4,
}

// levelNames maps each level to its human-readable name.
var levelNames = map[Level]string{
	LevelDraft:        "draft",
	LevelCrossChecked: "cross-checked",
	LevelTested:       "tested",
	LevelAdversarial:  "adversarial",
	LevelProven:       "proven",
}

// IsValid returns true if the level is a known value.
func (l Level) IsValid() bool {
	_, ok := levelOrder[l]
	return ok
}

// Order returns the level's position on the ladder (0 for L0 through 4 for
// L4). Unknown levels return -1 so they never satisfy a minimum.
func (l Level) Order() int {
	o, ok := levelOrder[l]
	if !ok {
		return -1
	}
	return o
}

// Name returns the human-readable name for the level ("draft",
// "cross-checked", ...). Unknown levels return "unknown".
func (l Level) Name() string {
	n, ok := levelNames[l]
	if !ok {
		return "unknown"
	}
	return n
}

// AtLeast returns true if the level meets or exceeds min.
func (l Level) AtLeast(min Level) bool {
	return l.Order() >= min.Order() && l.IsValid()
}

// Next returns the next level up the ladder and true, or the level itself
// and false when already at the top or invalid.
func (l Level) Next() (Level, bool) {
	switch l {
	case LevelDraft:
		return LevelCrossChecked, true
	case LevelCrossChecked:
		return LevelTested, true
	case LevelTested:
		return LevelAdversarial, true
	case LevelAdversarial:
		return LevelProven, true
	default:
		return l, false
	}
}

// CanTransitionTo checks if transitioning to the target level is allowed.
//
// Valid transitions:
//   - one step up the ladder (L0→L1, L1→L2, L2→L3, L3→L4), each backed by
//     the artifact bundle mandated for the target level
//   - any level above L0 → L0, forced by a pending challenge
//
// Skipping rungs is never allowed; a unit at L0 that was previously at L3
// still climbs through L1 and L2 again.
func (l Level) CanTransitionTo(target Level) bool {
	if !l.IsValid() || !target.IsValid() {
		return false
	}
	if target == LevelDraft {
		return l != LevelDraft
	}
	return target.Order() == l.Order()+1
}

// TransitionCause identifies what justified a level transition.
type TransitionCause string

const (
	// CausePlan marks the initial L0 entry written at plan load.
	CausePlan TransitionCause = "plan"

	// CauseReview marks an L0→L1 transition backed by a review record.
	CauseReview TransitionCause = "review"

	// CauseOracle marks an L1→L2 transition backed by an oracle report.
	CauseOracle TransitionCause = "oracle"

	// CauseAdversarial marks an L2→L3 transition backed by an
	// adversarial report.
	CauseAdversarial TransitionCause = "adversarial"

	// CauseHumanSignOff marks an L3→L4 transition backed by a review
	// queue decision.
	CauseHumanSignOff TransitionCause = "human-sign-off"

	// CauseChallenge marks a forced downgrade to L0.
	CauseChallenge TransitionCause = "challenge"
)

// IsValid returns true if the cause is a known value.
func (c TransitionCause) IsValid() bool {
	switch c {
	case CausePlan, CauseReview, CauseOracle, CauseAdversarial,
		CauseHumanSignOff, CauseChallenge:
		return true
	}
	return false
}
