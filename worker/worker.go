// Package worker implements the verification workers: each worker kind
// produces the artifact evidence for one rung of the trust ladder. A
// worker only ever produces evidence; judging it is the engine's commit
// path. Attempts run against claimed units and their results are
// committed under the claim's lease.
package worker

import (
	"context"
	"errors"

	"github.com/c360studio/veriflow/verify"
)

// ErrDecisionPending means the attempt depends on a human decision that
// has not arrived yet. The caller keeps the unit claimed or releases and
// retries later.
var ErrDecisionPending = errors.New("human decision pending")

// Runner executes a unit implementation (or its reference) on one input
// vector.
type Runner func(ctx context.Context, input []float64) ([]float64, error)

// Worker produces the evidence artifact for one rung.
type Worker interface {
	// Kind is the artifact kind this worker produces.
	Kind() verify.ArtifactKind

	// Attempt runs one verification attempt against the unit and
	// returns the resulting evidence artifact. A returned artifact
	// never implies a passing result; failing evidence is still
	// evidence.
	Attempt(ctx context.Context, unit *verify.Unit) (verify.Artifact, error)
}

// ForLevel maps a target level to the artifact kind whose worker must
// run to reach it on top of the previous rung's bundle.
func ForLevel(to verify.Level) (verify.ArtifactKind, bool) {
	switch to {
	case verify.LevelCrossChecked:
		return verify.ArtifactReviewRecord, true
	case verify.LevelTested:
		return verify.ArtifactOracleReport, true
	case verify.LevelAdversarial:
		return verify.ArtifactAdversarialReport, true
	case verify.LevelProven:
		return verify.ArtifactHumanSignOff, true
	}
	return "", false
}
