package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/veriflow/knowledge"
	"github.com/c360studio/veriflow/verify"
	"github.com/c360studio/veriflow/verify/oracle"
)

// maxReportedFailures caps the failing cases inlined in a report. The
// counts stay exact; only the diagnostics are truncated.
const maxReportedFailures = 10

// Knowledge keys the oracle consults, with package defaults as
// fallbacks.
const (
	FactRTol         = "oracle.rtol"
	FactATol         = "oracle.atol"
	FactSignificance = "oracle.significance"
	factMaxDeviation = "approx.max_deviation." // + unit id
)

// OracleChecker produces the oracle-report artifact behind an L1→L2
// transition: the unit run over its declared corpus, outputs compared
// under the unit's equivalence class.
type OracleChecker struct {
	// CorpusRoot anchors corpus glob resolution.
	CorpusRoot string

	// Patterns maps unit id to corpus pattern. Units absent from the
	// map use the "corpus/<id>/**/*.json" convention.
	Patterns map[string]string

	// Run executes the unit under test.
	Run Runner

	// Knowledge supplies tolerances and bounds. Reads are logged there
	// so a tolerance change can locate affected reports.
	Knowledge knowledge.Store
}

const oracleReader = "oracle-checker"

// Kind returns the artifact kind this worker produces.
func (o *OracleChecker) Kind() verify.ArtifactKind {
	return verify.ArtifactOracleReport
}

// PatternFor resolves the corpus pattern for a unit.
func (o *OracleChecker) PatternFor(unitID string) string {
	if p, ok := o.Patterns[unitID]; ok {
		return p
	}
	return "corpus/" + unitID + "/**/*.json"
}

func (o *OracleChecker) params(ctx context.Context, unitID string) oracle.Params {
	return oracle.Params{
		RTol:         knowledge.Float(ctx, o.Knowledge, FactRTol, oracleReader, oracle.DefaultRTol),
		ATol:         knowledge.Float(ctx, o.Knowledge, FactATol, oracleReader, oracle.DefaultATol),
		Significance: knowledge.Float(ctx, o.Knowledge, FactSignificance, oracleReader, oracle.DefaultSignificance),
		MaxDeviation: knowledge.Float(ctx, o.Knowledge, factMaxDeviation+unitID, oracleReader, 0),
	}
}

// Attempt runs the unit over its corpus and records per-case agreement.
// An empty corpus yields a report with cases_total 0, which never
// supports an upgrade.
func (o *OracleChecker) Attempt(ctx context.Context, unit *verify.Unit) (verify.Artifact, error) {
	if o.Run == nil {
		return verify.Artifact{}, fmt.Errorf("oracle checker has no runner")
	}

	pattern := o.PatternFor(unit.ID)
	corpus, err := oracle.Load(o.CorpusRoot, pattern)
	if err != nil {
		return verify.Artifact{}, fmt.Errorf("load corpus for %s: %w", unit.ID, err)
	}

	cmp, err := oracle.ForClass(unit.Equivalence, o.params(ctx, unit.ID))
	if err != nil {
		return verify.Artifact{}, fmt.Errorf("select comparator for %s: %w", unit.ID, err)
	}

	report := verify.OracleReport{
		UnitID:     unit.ID,
		Comparator: cmp.Name(),
		Corpus:     pattern,
		CasesTotal: len(corpus.Cases),
		CheckedAt:  time.Now().UTC(),
	}

	for _, c := range corpus.Cases {
		select {
		case <-ctx.Done():
			return verify.Artifact{}, ctx.Err()
		default:
		}

		actual, err := o.Run(ctx, c.Input)
		if err != nil {
			report.Failing = appendFailing(report.Failing, c.ID, renderVector(c.Expected), "error: "+err.Error())
			continue
		}
		if err := cmp.Compare(c.Expected, actual); err != nil {
			report.Failing = appendFailing(report.Failing, c.ID, renderVector(c.Expected), renderVector(actual))
			continue
		}
		report.CasesPassed++
	}

	return verify.EncodeArtifact(verify.ArtifactOracleReport, report)
}

func appendFailing(failing []verify.FailingCase, input, expected, actual string) []verify.FailingCase {
	if len(failing) >= maxReportedFailures {
		return failing
	}
	return append(failing, verify.FailingCase{Input: input, Expected: expected, Actual: actual})
}

func renderVector(v []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}
