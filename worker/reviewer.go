package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/veriflow/verify"
)

// CrossCheckFunc independently re-derives a unit's behavior and returns
// a verdict plus free-form notes. The verdict vocabulary is the review
// record's; only "no-contradiction" supports an upgrade.
type CrossCheckFunc func(ctx context.Context, unit *verify.Unit) (verdict, notes string, err error)

// Reviewer produces the review-record artifact behind an L0→L1
// transition. The cross-check itself is pluggable; the reviewer's job is
// turning its outcome into evidence.
type Reviewer struct {
	// Name identifies the reviewer in records.
	Name string

	// CrossCheck performs the independent re-derivation.
	CrossCheck CrossCheckFunc
}

// Kind returns the artifact kind this worker produces.
func (r *Reviewer) Kind() verify.ArtifactKind {
	return verify.ArtifactReviewRecord
}

// Attempt runs the cross-check and records its verdict. A contradicting
// verdict still yields an artifact; the commit path refuses it.
func (r *Reviewer) Attempt(ctx context.Context, unit *verify.Unit) (verify.Artifact, error) {
	if r.CrossCheck == nil {
		return verify.Artifact{}, fmt.Errorf("reviewer %q has no cross-check", r.Name)
	}

	verdict, notes, err := r.CrossCheck(ctx, unit)
	if err != nil {
		return verify.Artifact{}, fmt.Errorf("cross-check %s: %w", unit.ID, err)
	}

	record := verify.ReviewRecord{
		UnitID:    unit.ID,
		Reviewer:  r.Name,
		Verdict:   verdict,
		Notes:     notes,
		CheckedAt: time.Now().UTC(),
	}
	return verify.EncodeArtifact(verify.ArtifactReviewRecord, record)
}
