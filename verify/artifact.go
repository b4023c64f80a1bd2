package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ArtifactKind names one kind of evidence blob inside a commit bundle.
type ArtifactKind string

const (
	// ArtifactReviewRecord is the independent review confirming no
	// contradiction with reference behavior. Required from L1 up.
	ArtifactReviewRecord ArtifactKind = "review-record"

	// ArtifactOracleReport is the oracle comparison result over the
	// unit's input corpus. Required from L2 up.
	ArtifactOracleReport ArtifactKind = "oracle-report"

	// ArtifactAdversarialReport is the attack search result. Required
	// from L3 up.
	ArtifactAdversarialReport ArtifactKind = "adversarial-report"

	// ArtifactHumanSignOff is the recorded human approval decision.
	// Required at L4.
	ArtifactHumanSignOff ArtifactKind = "human-sign-off"

	// ArtifactImplementation carries the unit's translated source.
	// Optional in every bundle; when present and the unit declares an
	// entrypoint, the structure check applies.
	ArtifactImplementation ArtifactKind = "implementation"

	// ArtifactTest carries the unit's test source.
	ArtifactTest ArtifactKind = "test"

	// ArtifactDocumentation carries the unit's behavior documentation.
	ArtifactDocumentation ArtifactKind = "documentation"
)

// IsValid returns true if the kind is a known value.
func (k ArtifactKind) IsValid() bool {
	switch k {
	case ArtifactReviewRecord, ArtifactOracleReport, ArtifactAdversarialReport,
		ArtifactHumanSignOff, ArtifactImplementation, ArtifactTest,
		ArtifactDocumentation:
		return true
	}
	return false
}

// requiredArtifacts maps each target level to the mandatory evidence
// kinds. The sets are cumulative up the ladder.
var requiredArtifacts = map[Level][]ArtifactKind{
	LevelCrossChecked: {ArtifactReviewRecord},
	LevelTested:       {ArtifactReviewRecord, ArtifactOracleReport},
	LevelAdversarial:  {ArtifactReviewRecord, ArtifactOracleReport, ArtifactAdversarialReport},
	LevelProven:       {ArtifactReviewRecord, ArtifactOracleReport, ArtifactAdversarialReport, ArtifactHumanSignOff},
}

// RequiredArtifacts returns the mandatory artifact kinds for a transition
// to the given level. L0 has no requirements (nothing commits to L0; the
// only path there is a challenge downgrade).
func RequiredArtifacts(to Level) []ArtifactKind {
	kinds := requiredArtifacts[to]
	out := make([]ArtifactKind, len(kinds))
	copy(out, kinds)
	return out
}

// Artifact is one named evidence blob inside a commit bundle.
type Artifact struct {
	// Kind classifies the artifact.
	Kind ArtifactKind `json:"kind"`

	// Name distinguishes artifacts of the same kind in a bundle.
	Name string `json:"name,omitempty"`

	// Data is the artifact content. Reports are JSON; implementation
	// and test artifacts carry source text.
	Data []byte `json:"data,omitempty"`

	// Ref points at externally stored content when Data is not inlined.
	Ref string `json:"ref,omitempty"`
}

// Digest returns the sha256 hex digest of the artifact content, used for
// the commit chain hash and for audit references.
func (a *Artifact) Digest() string {
	h := sha256.New()
	h.Write([]byte(a.Kind))
	h.Write([]byte{0})
	h.Write([]byte(a.Name))
	h.Write([]byte{0})
	h.Write(a.Data)
	h.Write([]byte{0})
	h.Write([]byte(a.Ref))
	return hex.EncodeToString(h.Sum(nil))
}

// Bundle is the artifact set attached to one commit attempt.
type Bundle []Artifact

// Kinds returns the distinct artifact kinds present, sorted.
func (b Bundle) Kinds() []ArtifactKind {
	seen := make(map[ArtifactKind]bool, len(b))
	var kinds []ArtifactKind
	for _, a := range b {
		if !seen[a.Kind] {
			seen[a.Kind] = true
			kinds = append(kinds, a.Kind)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Has returns true if the bundle contains an artifact of the given kind.
func (b Bundle) Has(kind ArtifactKind) bool {
	for _, a := range b {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// Find returns the first artifact of the given kind, or nil.
func (b Bundle) Find(kind ArtifactKind) *Artifact {
	for i := range b {
		if b[i].Kind == kind {
			return &b[i]
		}
	}
	return nil
}

// MissingFor returns the mandated kinds absent from the bundle for a
// transition to the given level. Empty means the bundle is complete.
func (b Bundle) MissingFor(to Level) []ArtifactKind {
	var missing []ArtifactKind
	for _, kind := range requiredArtifacts[to] {
		if !b.Has(kind) {
			missing = append(missing, kind)
		}
	}
	return missing
}

// KindsString renders the bundle's kinds as a comma-separated list for the
// commit record text form.
func (b Bundle) KindsString() string {
	kinds := b.Kinds()
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
