package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/veriflow/knowledge"
	"github.com/c360studio/veriflow/verify"
	"github.com/c360studio/veriflow/verify/adversary"
	"github.com/c360studio/veriflow/verify/oracle"
)

// Adversary produces the adversarial-report artifact behind an L2→L3
// transition: a seeded attack search over the parts of the input space
// where the unit's equivalence notion is most likely to break.
type Adversary struct {
	// Run executes the unit under test.
	Run Runner

	// Reference executes the reference behavior the unit is compared
	// against.
	Reference Runner

	// Attempts is the number of attack inputs per search. Zero means
	// the 64-attempt default.
	Attempts int

	// Width is the attack vector width. Zero means 8.
	Width int

	// Seed fixes the attack generator so a failing search replays from
	// its report. Zero means 1.
	Seed int64

	// Knowledge supplies class parameters.
	Knowledge knowledge.Store
}

const adversaryReader = "adversary"

// Kind returns the artifact kind this worker produces.
func (a *Adversary) Kind() verify.ArtifactKind {
	return verify.ArtifactAdversarialReport
}

// Attempt runs the attack search. Found violations are recorded as
// failures in the report; the search never touches the unit's level.
func (a *Adversary) Attempt(ctx context.Context, unit *verify.Unit) (verify.Artifact, error) {
	if a.Run == nil || a.Reference == nil {
		return verify.Artifact{}, fmt.Errorf("adversary needs both unit and reference runners")
	}

	attempts := a.Attempts
	if attempts <= 0 {
		attempts = 64
	}
	width := a.Width
	if width <= 0 {
		width = 8
	}
	seed := a.Seed
	if seed == 0 {
		seed = 1
	}

	maxDeviation := knowledge.Float(ctx, a.Knowledge, factMaxDeviation+unit.ID, adversaryReader, 0)

	gen, err := adversary.ForClass(unit.Equivalence, adversary.Params{MaxDeviation: maxDeviation})
	if err != nil {
		return verify.Artifact{}, fmt.Errorf("select attack generator for %s: %w", unit.ID, err)
	}

	cmp, err := oracle.ForClass(unit.Equivalence, oracle.Params{
		RTol:         knowledge.Float(ctx, a.Knowledge, FactRTol, adversaryReader, oracle.DefaultRTol),
		ATol:         knowledge.Float(ctx, a.Knowledge, FactATol, adversaryReader, oracle.DefaultATol),
		Significance: knowledge.Float(ctx, a.Knowledge, FactSignificance, adversaryReader, oracle.DefaultSignificance),
		MaxDeviation: maxDeviation,
	})
	if err != nil {
		return verify.Artifact{}, fmt.Errorf("select comparator for %s: %w", unit.ID, err)
	}

	report := verify.AdversarialReport{
		UnitID:    unit.ID,
		Focus:     gen.Focus(),
		Seed:      seed,
		CheckedAt: time.Now().UTC(),
	}

	for i, input := range gen.Inputs(seed, attempts, width) {
		select {
		case <-ctx.Done():
			return verify.Artifact{}, ctx.Err()
		default:
		}

		report.Attempts++

		expected, err := a.Reference(ctx, input)
		if err != nil {
			// A reference failure is a search artifact, not a unit
			// violation.
			continue
		}
		actual, err := a.Run(ctx, input)
		if err != nil {
			report.Failures++
			report.Failing = appendFailing(report.Failing, attackID(seed, i), renderVector(expected), "error: "+err.Error())
			continue
		}
		if err := cmp.Compare(expected, actual); err != nil {
			report.Failures++
			report.Failing = appendFailing(report.Failing, attackID(seed, i), renderVector(expected), renderVector(actual))
		}
	}

	return verify.EncodeArtifact(verify.ArtifactAdversarialReport, report)
}

// attackID identifies one attack input by seed and position so it can be
// regenerated for replay.
func attackID(seed int64, i int) string {
	return fmt.Sprintf("seed=%d#%d", seed, i)
}
