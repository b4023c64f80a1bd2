// Package adversary implements the attack-input search used at L2→L3:
// class-specific generators probe the parts of the input space where the
// unit's equivalence notion is most likely to break. The search only
// refuses upgrades; it never downgrades.
package adversary

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/c360studio/veriflow/verify"
)

// Generator produces attack input vectors for one equivalence class.
// Generation is deterministic in the seed so a failing attempt can be
// replayed from the report.
type Generator interface {
	// Focus names the search emphasis, recorded in adversarial
	// reports.
	Focus() string

	// Inputs returns n attack vectors of the given width.
	Inputs(seed int64, n, width int) [][]float64
}

// Params carries class-specific generation knobs.
type Params struct {
	// MaxDeviation is the approved bound probed under approximate
	// equivalence.
	MaxDeviation float64
}

// ForClass selects the attack generator for an equivalence class.
func ForClass(class verify.EquivalenceClass, p Params) (Generator, error) {
	switch class {
	case verify.EquivalenceStrict:
		return boundaryValues{}, nil
	case verify.EquivalenceNumerical:
		return illConditioned{}, nil
	case verify.EquivalenceSemantic:
		return degenerate{}, nil
	case verify.EquivalenceBehavioral:
		return convergencePaths{}, nil
	case verify.EquivalenceStatistical:
		return tailStress{}, nil
	case verify.EquivalenceApproximate:
		return boundProbing{maxDeviation: p.MaxDeviation}, nil
	default:
		return nil, fmt.Errorf("no attack generator for equivalence class %q", class)
	}
}

// boundaryValues attacks strict equivalence with exhaustive boundary
// constants: zeros, ones, extreme magnitudes, and sign flips.
type boundaryValues struct{}

func (boundaryValues) Focus() string { return "exhaustive boundary values" }

func (boundaryValues) Inputs(seed int64, n, width int) [][]float64 {
	boundary := []float64{
		0, 1, -1, 0.5, -0.5,
		math.MaxFloat64, -math.MaxFloat64,
		math.SmallestNonzeroFloat64, -math.SmallestNonzeroFloat64,
	}
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float64, n)
	for i := range out {
		v := make([]float64, width)
		for j := range v {
			v[j] = boundary[rng.Intn(len(boundary))]
		}
		out[i] = v
	}
	return out
}

// illConditioned attacks numerical tolerance with boundary magnitudes and
// near-cancellation pairs, where relative error amplifies.
type illConditioned struct{}

func (illConditioned) Focus() string { return "ill-conditioned and boundary magnitudes" }

func (illConditioned) Inputs(seed int64, n, width int) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float64, n)
	for i := range out {
		v := make([]float64, width)
		scale := math.Pow(10, float64(rng.Intn(600)-300))
		for j := range v {
			v[j] = scale * rng.NormFloat64()
			// Adjacent near-cancellation pair.
			if j%2 == 1 {
				v[j] = -v[j-1] * (1 + 1e-14*rng.Float64())
			}
		}
		out[i] = v
	}
	return out
}

// degenerate attacks semantic equivalence with inputs that stress the
// invariant: repeated values, zero vectors, and near-parallel directions
// where projections become ambiguous.
type degenerate struct{}

func (degenerate) Focus() string { return "degenerate and ambiguous inputs" }

func (degenerate) Inputs(seed int64, n, width int) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float64, n)
	for i := range out {
		v := make([]float64, width)
		switch i % 3 {
		case 0: // all-equal: degenerate eigenvalue
			x := rng.NormFloat64()
			for j := range v {
				v[j] = x
			}
		case 1: // zero vector
		case 2: // nearly parallel to a basis axis
			v[rng.Intn(width)] = 1
			for j := range v {
				if v[j] == 0 {
					v[j] = 1e-13 * rng.NormFloat64()
				}
			}
		}
		out[i] = v
	}
	return out
}

// convergencePaths attacks behavioral equivalence with randomized starts
// that push iterative code down alternate convergence paths.
type convergencePaths struct{}

func (convergencePaths) Focus() string { return "alternate convergence paths" }

func (convergencePaths) Inputs(seed int64, n, width int) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float64, n)
	for i := range out {
		v := make([]float64, width)
		for j := range v {
			v[j] = rng.NormFloat64() * math.Pow(10, float64(rng.Intn(6)-3))
		}
		out[i] = v
	}
	return out
}

// tailStress attacks statistical equivalence with heavy-tailed samples
// and size extremes, where distribution tests lose power.
type tailStress struct{}

func (tailStress) Focus() string { return "sample-size and tail stress" }

func (tailStress) Inputs(seed int64, n, width int) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float64, n)
	for i := range out {
		v := make([]float64, width)
		for j := range v {
			// Cauchy-like heavy tail via ratio of normals.
			den := rng.NormFloat64()
			if den == 0 {
				den = 1e-300
			}
			v[j] = rng.NormFloat64() / den
		}
		out[i] = v
	}
	return out
}

// boundProbing attacks approximate equivalence near the approved
// deviation bound.
type boundProbing struct {
	maxDeviation float64
}

func (boundProbing) Focus() string { return "deviation bound probing" }

func (g boundProbing) Inputs(seed int64, n, width int) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	bound := g.maxDeviation
	if bound <= 0 {
		bound = 1e-6
	}
	out := make([][]float64, n)
	for i := range out {
		v := make([]float64, width)
		for j := range v {
			v[j] = rng.NormFloat64() + bound*(1-2e-3*float64(rng.Intn(1000)))
		}
		out[i] = v
	}
	return out
}
