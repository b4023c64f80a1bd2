package verify

import (
	"strings"
	"testing"
	"time"
)

// buildChain seals n records for the given unit, each one rung up from L0,
// chained back to genesis.
func buildChain(t *testing.T, transitions []struct {
	unit string
	from Level
	to   Level
}) []CommitRecord {
	t.Helper()
	records := make([]CommitRecord, 0, len(transitions))
	prev := GenesisHash
	for i, tr := range transitions {
		r := CommitRecord{
			SequenceNo:    uint64(i + 1),
			UnitID:        tr.unit,
			FromLevel:     tr.from,
			ToLevel:       tr.to,
			ArtifactKinds: RequiredArtifacts(tr.to),
			Timestamp:     time.Now(),
			PrevHash:      prev,
		}
		r.Seal()
		prev = r.Hash
		records = append(records, r)
	}
	return records
}

func testTransitions() []struct {
	unit string
	from Level
	to   Level
} {
	return []struct {
		unit string
		from Level
		to   Level
	}{
		{"svd", LevelDraft, LevelCrossChecked},
		{"mps", LevelDraft, LevelCrossChecked},
		{"svd", LevelCrossChecked, LevelTested},
	}
}

func TestCommitRecordSealDeterministic(t *testing.T) {
	r := CommitRecord{
		SequenceNo:    1,
		UnitID:        "svd",
		FromLevel:     LevelDraft,
		ToLevel:       LevelCrossChecked,
		ArtifactKinds: []ArtifactKind{ArtifactReviewRecord},
		ArtifactDigests: map[string]string{
			"review-record/r1": "abc",
		},
		Timestamp: time.Now(),
		PrevHash:  GenesisHash,
	}
	r.Seal()
	if r.Hash == "" {
		t.Fatal("Seal left an empty hash")
	}
	if r.Hash != r.ComputeHash() {
		t.Error("sealed hash should match recomputation")
	}

	// Timestamps are not part of the hash.
	r.Timestamp = r.Timestamp.Add(time.Hour)
	if r.Hash != r.ComputeHash() {
		t.Error("timestamp change must not affect the hash")
	}

	// Content changes are.
	r.ToLevel = LevelTested
	if r.Hash == r.ComputeHash() {
		t.Error("content change must change the hash")
	}
}

func TestVerifyChainIntact(t *testing.T) {
	records := buildChain(t, testTransitions())
	if idx, err := VerifyChain(records); err != nil {
		t.Fatalf("intact chain rejected at %d: %v", idx, err)
	}
	if idx, err := VerifyChain(nil); err != nil || idx != -1 {
		t.Errorf("empty chain: got (%d, %v), want (-1, nil)", idx, err)
	}
}

func TestVerifyChainTampered(t *testing.T) {
	records := buildChain(t, testTransitions())
	records[1].ToLevel = LevelProven

	idx, err := VerifyChain(records)
	if err == nil {
		t.Fatal("tampered chain accepted")
	}
	if idx != 1 {
		t.Errorf("bad record index = %d, want 1", idx)
	}
	if !strings.Contains(err.Error(), "hash mismatch") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestVerifyChainBrokenLink(t *testing.T) {
	records := buildChain(t, testTransitions())
	records[2].PrevHash = "forged"
	records[2].Seal()

	idx, err := VerifyChain(records)
	if err == nil {
		t.Fatal("broken link accepted")
	}
	if idx != 2 {
		t.Errorf("bad record index = %d, want 2", idx)
	}
	if !strings.Contains(err.Error(), "broken chain") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestVerifyChainSequenceRegression(t *testing.T) {
	records := buildChain(t, testTransitions())
	records[2].SequenceNo = 2
	records[2].Seal()
	// Re-link so only the sequence regression trips.
	records[2].PrevHash = records[1].Hash
	records[2].Seal()

	idx, err := VerifyChain(records)
	if err == nil {
		t.Fatal("sequence regression accepted")
	}
	if idx != 2 {
		t.Errorf("bad record index = %d, want 2", idx)
	}
	if !strings.Contains(err.Error(), "sequence regression") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCommitRecordString(t *testing.T) {
	r := CommitRecord{
		SequenceNo:    7,
		UnitID:        "svd",
		FromLevel:     LevelCrossChecked,
		ToLevel:       LevelTested,
		ArtifactKinds: []ArtifactKind{ArtifactOracleReport, ArtifactReviewRecord},
	}
	want := "svd: L1 -> L2\nartifacts: oracle-report, review-record\nsequence: 7"
	if got := r.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
