// Package oracle implements the reference comparison used at L1→L2: a
// unit's outputs checked against reference outputs over a declared input
// corpus, with the comparator selected by the unit's equivalence class.
package oracle

import (
	"fmt"
	"math"
	"sort"

	"github.com/c360studio/veriflow/verify"
)

// Tolerance and significance defaults carried over from the reference
// test harness of the source material.
const (
	DefaultRTol         = 1e-10
	DefaultATol         = 1e-12
	DefaultSignificance = 0.01
)

// Mismatch describes one comparison failure.
type Mismatch struct {
	Index  int
	Detail string
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("mismatch at index %d: %s", m.Index, m.Detail)
}

// Comparator decides whether an actual output vector matches the
// reference output under one equivalence notion. A nil return means
// match.
type Comparator interface {
	// Name identifies the comparator in oracle reports.
	Name() string

	// Compare checks actual against expected.
	Compare(expected, actual []float64) error
}

// Params carries the per-unit comparison knobs, typically read from the
// knowledge store at run time.
type Params struct {
	// RTol and ATol bound numerical-tolerance comparison:
	// abs(a-b) <= atol + rtol*abs(b).
	RTol float64
	ATol float64

	// Project maps a raw output vector to the derived projection
	// compared under semantic equivalence. Nil selects the
	// phase-invariant projector.
	Project func([]float64) []float64

	// Observables lists the output indices that count under behavioral
	// equivalence. Empty means all indices are observable.
	Observables []int

	// Significance is the statistical test's rejection threshold.
	Significance float64

	// MaxDeviation is the human-approved bound for approximate
	// equivalence.
	MaxDeviation float64
}

// ForClass selects the comparator for an equivalence class, applying
// defaults for unset params.
func ForClass(class verify.EquivalenceClass, p Params) (Comparator, error) {
	if p.RTol == 0 {
		p.RTol = DefaultRTol
	}
	if p.ATol == 0 {
		p.ATol = DefaultATol
	}
	if p.Significance == 0 {
		p.Significance = DefaultSignificance
	}

	switch class {
	case verify.EquivalenceStrict:
		return Strict{}, nil
	case verify.EquivalenceNumerical:
		return Numerical{RTol: p.RTol, ATol: p.ATol}, nil
	case verify.EquivalenceSemantic:
		project := p.Project
		if project == nil {
			project = PhaseInvariantProjection
		}
		return Semantic{Project: project, Inner: Numerical{RTol: p.RTol, ATol: p.ATol}}, nil
	case verify.EquivalenceBehavioral:
		return Behavioral{Observables: p.Observables, Inner: Numerical{RTol: p.RTol, ATol: p.ATol}}, nil
	case verify.EquivalenceStatistical:
		return Statistical{Significance: p.Significance}, nil
	case verify.EquivalenceApproximate:
		if p.MaxDeviation <= 0 {
			return nil, fmt.Errorf("approximate equivalence requires an approved max deviation")
		}
		return Approximate{MaxDeviation: p.MaxDeviation}, nil
	default:
		return nil, fmt.Errorf("no comparator for equivalence class %q", class)
	}
}

// Strict requires exact element-wise equality.
type Strict struct{}

// Name identifies the comparator.
func (Strict) Name() string { return "strict" }

// Compare checks exact match.
func (Strict) Compare(expected, actual []float64) error {
	if len(actual) != len(expected) {
		return &Mismatch{Index: -1, Detail: fmt.Sprintf("length %d, want %d", len(actual), len(expected))}
	}
	for i := range expected {
		if actual[i] != expected[i] {
			return &Mismatch{Index: i, Detail: fmt.Sprintf("%v, want exactly %v", actual[i], expected[i])}
		}
	}
	return nil
}

// Numerical allows tolerance-bounded deviation per element.
type Numerical struct {
	RTol float64
	ATol float64
}

// Name identifies the comparator.
func (Numerical) Name() string { return "numerical-tolerance" }

// Compare checks abs(a-b) <= atol + rtol*abs(b) per element.
func (c Numerical) Compare(expected, actual []float64) error {
	if len(actual) != len(expected) {
		return &Mismatch{Index: -1, Detail: fmt.Sprintf("length %d, want %d", len(actual), len(expected))}
	}
	for i := range expected {
		diff := math.Abs(actual[i] - expected[i])
		bound := c.ATol + c.RTol*math.Abs(expected[i])
		if diff > bound || math.IsNaN(diff) {
			return &Mismatch{Index: i, Detail: fmt.Sprintf("diff %.3e exceeds atol=%.1e rtol=%.1e", diff, c.ATol, c.RTol)}
		}
	}
	return nil
}

// Semantic compares derived projections instead of raw values: the caller
// supplies the invariant-preserving projection, and an inner comparator
// checks the projected vectors.
type Semantic struct {
	Project func([]float64) []float64
	Inner   Comparator
}

// Name identifies the comparator.
func (Semantic) Name() string { return "semantic" }

// Compare projects both vectors and delegates to the inner comparator.
func (c Semantic) Compare(expected, actual []float64) error {
	return c.Inner.Compare(c.Project(expected), c.Project(actual))
}

// PhaseInvariantProjection maps a vector to its normalized outer product
// (the rank-one projector), which is identical for vectors differing only
// by a global sign or phase. This is how eigenvector equivalence is
// established in the reference harness.
func PhaseInvariantProjection(v []float64) []float64 {
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		out := make([]float64, len(v)*len(v))
		return out
	}
	out := make([]float64, 0, len(v)*len(v))
	for _, a := range v {
		for _, b := range v {
			out = append(out, (a/norm)*(b/norm))
		}
	}
	return out
}

// Behavioral compares only the declared observable output indices,
// ignoring declared-irrelevant internals such as iteration counters.
type Behavioral struct {
	Observables []int
	Inner       Comparator
}

// Name identifies the comparator.
func (Behavioral) Name() string { return "behavioral" }

// Compare restricts both vectors to the observable indices before
// delegating.
func (c Behavioral) Compare(expected, actual []float64) error {
	if len(c.Observables) == 0 {
		return c.Inner.Compare(expected, actual)
	}
	pick := func(v []float64) []float64 {
		out := make([]float64, 0, len(c.Observables))
		for _, i := range c.Observables {
			if i >= 0 && i < len(v) {
				out = append(out, v[i])
			}
		}
		return out
	}
	return c.Inner.Compare(pick(expected), pick(actual))
}

// Statistical requires the two samples to come from the same distribution
// at the declared significance, tested with the two-sample
// Kolmogorov-Smirnov statistic.
type Statistical struct {
	Significance float64
}

// Name identifies the comparator.
func (Statistical) Name() string { return "statistical" }

// Compare rejects when the KS p-value falls below the significance level.
func (c Statistical) Compare(expected, actual []float64) error {
	if len(expected) == 0 || len(actual) == 0 {
		return &Mismatch{Index: -1, Detail: "empty sample"}
	}
	d := ksStatistic(expected, actual)
	p := ksPValue(d, len(expected), len(actual))
	if p < c.Significance {
		return &Mismatch{Index: -1, Detail: fmt.Sprintf("KS D=%.4f p=%.4g below significance %.3g", d, p, c.Significance)}
	}
	return nil
}

// ksStatistic computes the two-sample Kolmogorov-Smirnov D statistic.
func ksStatistic(a, b []float64) float64 {
	x := append([]float64(nil), a...)
	y := append([]float64(nil), b...)
	sort.Float64s(x)
	sort.Float64s(y)

	var d float64
	i, j := 0, 0
	for i < len(x) && j < len(y) {
		if x[i] <= y[j] {
			i++
		} else {
			j++
		}
		fx := float64(i) / float64(len(x))
		fy := float64(j) / float64(len(y))
		if diff := math.Abs(fx - fy); diff > d {
			d = diff
		}
	}
	return d
}

// ksPValue approximates the asymptotic two-sample KS p-value.
func ksPValue(d float64, n, m int) float64 {
	ne := float64(n) * float64(m) / float64(n+m)
	lambda := (math.Sqrt(ne) + 0.12 + 0.11/math.Sqrt(ne)) * d
	sum := 0.0
	for j := 1; j <= 100; j++ {
		term := 2 * math.Pow(-1, float64(j-1)) * math.Exp(-2*float64(j*j)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-12 {
			break
		}
	}
	if sum < 0 {
		return 0
	}
	if sum > 1 {
		return 1
	}
	return sum
}

// Approximate checks deviation against a declared, human-approved bound.
// Units in this class still require human sign-off at L3→L4 regardless of
// the comparison outcome.
type Approximate struct {
	MaxDeviation float64
}

// Name identifies the comparator.
func (Approximate) Name() string { return "approximate" }

// Compare bounds the max absolute element-wise deviation.
func (c Approximate) Compare(expected, actual []float64) error {
	if len(actual) != len(expected) {
		return &Mismatch{Index: -1, Detail: fmt.Sprintf("length %d, want %d", len(actual), len(expected))}
	}
	for i := range expected {
		diff := math.Abs(actual[i] - expected[i])
		if diff > c.MaxDeviation || math.IsNaN(diff) {
			return &Mismatch{Index: i, Detail: fmt.Sprintf("deviation %.3e exceeds approved bound %.3e", diff, c.MaxDeviation)}
		}
	}
	return nil
}
