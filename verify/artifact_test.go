package verify

import (
	"reflect"
	"testing"
)

func TestRequiredArtifacts(t *testing.T) {
	tests := []struct {
		to   Level
		want []ArtifactKind
	}{
		{LevelDraft, nil},
		{LevelCrossChecked, []ArtifactKind{ArtifactReviewRecord}},
		{LevelTested, []ArtifactKind{ArtifactReviewRecord, ArtifactOracleReport}},
		{LevelAdversarial, []ArtifactKind{ArtifactReviewRecord, ArtifactOracleReport, ArtifactAdversarialReport}},
		{LevelProven, []ArtifactKind{ArtifactReviewRecord, ArtifactOracleReport, ArtifactAdversarialReport, ArtifactHumanSignOff}},
	}

	for _, tt := range tests {
		got := RequiredArtifacts(tt.to)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("RequiredArtifacts(%s) = %v, want %v", tt.to, got, tt.want)
		}
	}
}

func TestRequiredArtifactsCopies(t *testing.T) {
	got := RequiredArtifacts(LevelTested)
	got[0] = ArtifactDocumentation
	again := RequiredArtifacts(LevelTested)
	if again[0] != ArtifactReviewRecord {
		t.Error("RequiredArtifacts returned a shared slice")
	}
}

func TestArtifactKindIsValid(t *testing.T) {
	valid := []ArtifactKind{
		ArtifactReviewRecord, ArtifactOracleReport, ArtifactAdversarialReport,
		ArtifactHumanSignOff, ArtifactImplementation, ArtifactTest,
		ArtifactDocumentation,
	}
	for _, k := range valid {
		if !k.IsValid() {
			t.Errorf("kind %q should be valid", k)
		}
	}
	if ArtifactKind("screenshot").IsValid() {
		t.Error("unknown kind should be invalid")
	}
}

func TestArtifactDigest(t *testing.T) {
	a := Artifact{Kind: ArtifactTest, Name: "svd_test.go", Data: []byte("func TestSVD")}
	d1 := a.Digest()
	d2 := a.Digest()
	if d1 != d2 {
		t.Errorf("digest not deterministic: %s vs %s", d1, d2)
	}
	if len(d1) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(d1))
	}

	b := a
	b.Data = []byte("func TestSVDx")
	if b.Digest() == d1 {
		t.Error("different data should give different digests")
	}

	// The field separator keeps name/data boundaries from colliding.
	x := Artifact{Kind: ArtifactTest, Name: "ab", Data: []byte("c")}
	y := Artifact{Kind: ArtifactTest, Name: "a", Data: []byte("bc")}
	if x.Digest() == y.Digest() {
		t.Error("name/data boundary collision")
	}
}

func TestBundleKinds(t *testing.T) {
	b := Bundle{
		{Kind: ArtifactOracleReport},
		{Kind: ArtifactReviewRecord},
		{Kind: ArtifactOracleReport, Name: "second"},
	}
	want := []ArtifactKind{ArtifactOracleReport, ArtifactReviewRecord}
	if got := b.Kinds(); !reflect.DeepEqual(got, want) {
		t.Errorf("Kinds() = %v, want %v", got, want)
	}
}

func TestBundleHasFind(t *testing.T) {
	b := Bundle{
		{Kind: ArtifactReviewRecord, Name: "r1"},
		{Kind: ArtifactReviewRecord, Name: "r2"},
	}
	if !b.Has(ArtifactReviewRecord) {
		t.Error("Has should find present kind")
	}
	if b.Has(ArtifactHumanSignOff) {
		t.Error("Has should miss absent kind")
	}
	if got := b.Find(ArtifactReviewRecord); got == nil || got.Name != "r1" {
		t.Errorf("Find should return the first match, got %+v", got)
	}
	if b.Find(ArtifactOracleReport) != nil {
		t.Error("Find should return nil for absent kind")
	}
}

func TestBundleMissingFor(t *testing.T) {
	b := Bundle{
		{Kind: ArtifactReviewRecord},
		{Kind: ArtifactOracleReport},
	}
	if missing := b.MissingFor(LevelTested); len(missing) != 0 {
		t.Errorf("complete bundle reported missing %v", missing)
	}
	missing := b.MissingFor(LevelProven)
	want := []ArtifactKind{ArtifactAdversarialReport, ArtifactHumanSignOff}
	if !reflect.DeepEqual(missing, want) {
		t.Errorf("MissingFor(L4) = %v, want %v", missing, want)
	}
}

func TestBundleKindsString(t *testing.T) {
	b := Bundle{
		{Kind: ArtifactOracleReport},
		{Kind: ArtifactReviewRecord},
	}
	if got := b.KindsString(); got != "oracle-report, review-record" {
		t.Errorf("KindsString() = %q", got)
	}
	if got := (Bundle{}).KindsString(); got != "" {
		t.Errorf("empty bundle KindsString() = %q, want empty", got)
	}
}
