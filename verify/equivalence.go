package verify

// EquivalenceClass fixes what "the check passed" means for a unit. The
// comparator used at L1→L2 and the attack generator used at L2→L3 are both
// selected by the unit's class.
type EquivalenceClass string

const (
	// EquivalenceStrict requires exact output match.
	EquivalenceStrict EquivalenceClass = "strict"

	// EquivalenceNumerical allows tolerance-bounded numeric deviation:
	// abs(a-b) <= atol + rtol*abs(b).
	EquivalenceNumerical EquivalenceClass = "numerical-tolerance"

	// EquivalenceSemantic compares derived projections supplied by the
	// caller instead of raw values (eigenvectors up to phase, and the
	// like).
	EquivalenceSemantic EquivalenceClass = "semantic"

	// EquivalenceBehavioral compares only declared observable outputs,
	// ignoring declared-irrelevant internals such as iteration counters.
	EquivalenceBehavioral EquivalenceClass = "behavioral"

	// EquivalenceStatistical requires distribution equality at a declared
	// significance level.
	EquivalenceStatistical EquivalenceClass = "statistical"

	// EquivalenceApproximate accepts deviation within a human-approved
	// bound. Units in this class always require human sign-off at L3→L4,
	// regardless of the adversarial outcome.
	EquivalenceApproximate EquivalenceClass = "approximate"
)

// IsValid returns true if the class is a known value.
func (e EquivalenceClass) IsValid() bool {
	switch e {
	case EquivalenceStrict, EquivalenceNumerical, EquivalenceSemantic,
		EquivalenceBehavioral, EquivalenceStatistical, EquivalenceApproximate:
		return true
	}
	return false
}

// RequiresHumanSignOff reports whether the class gates final acceptance on
// a human decision. Every class requires sign-off at L3→L4; for the
// approximate class the sign-off also covers the accepted deviation bound
// itself, so no adversarial outcome can substitute for it.
func (e EquivalenceClass) RequiresHumanSignOff() bool {
	return e.IsValid()
}

// AttackFocus names the adversarial search emphasis for the class, used in
// adversarial report labeling and run summaries.
func (e EquivalenceClass) AttackFocus() string {
	switch e {
	case EquivalenceStrict:
		return "exhaustive boundary values"
	case EquivalenceNumerical:
		return "ill-conditioned and boundary magnitudes"
	case EquivalenceSemantic:
		return "degenerate and ambiguous inputs"
	case EquivalenceBehavioral:
		return "alternate convergence paths"
	case EquivalenceStatistical:
		return "sample-size and tail stress"
	case EquivalenceApproximate:
		return "deviation bound probing"
	default:
		return "unknown"
	}
}
