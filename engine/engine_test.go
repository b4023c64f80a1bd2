package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/c360studio/veriflow/verify"
)

func testPlan(t *testing.T) *verify.Plan {
	t.Helper()
	return &verify.Plan{
		Version: verify.PlanVersion,
		Layers: []verify.Layer{
			{Index: 0, Name: "core", MinLevel: verify.LevelAdversarial},
			{Index: 1, Name: "algorithm", MinLevel: verify.LevelAdversarial},
		},
		Units: []*verify.Unit{
			{ID: "svd", Layer: 0, Equivalence: verify.EquivalenceNumerical, Level: verify.LevelDraft},
			{ID: "mps", Layer: 1, IntraLayerDeps: []string{"svd"}, Equivalence: verify.EquivalenceSemantic, Level: verify.LevelDraft},
		},
	}
}

func newTestEngine(t *testing.T, plan *verify.Plan) *Engine {
	t.Helper()
	e, err := New(plan)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// bundleFor builds a passing artifact bundle complete for the target
// level.
func bundleFor(t *testing.T, unitID string, to verify.Level) verify.Bundle {
	t.Helper()
	var bundle verify.Bundle
	add := func(kind verify.ArtifactKind, report any) {
		a, err := verify.EncodeArtifact(kind, report)
		if err != nil {
			t.Fatalf("encode %s: %v", kind, err)
		}
		bundle = append(bundle, a)
	}

	if to.AtLeast(verify.LevelCrossChecked) {
		add(verify.ArtifactReviewRecord, &verify.ReviewRecord{
			UnitID: unitID, Reviewer: "reviewer-1", Verdict: verify.VerdictNoContradiction,
		})
	}
	if to.AtLeast(verify.LevelTested) {
		add(verify.ArtifactOracleReport, &verify.OracleReport{
			UnitID: unitID, Comparator: "numerical-tolerance", CasesTotal: 50, CasesPassed: 50,
		})
	}
	if to.AtLeast(verify.LevelAdversarial) {
		add(verify.ArtifactAdversarialReport, &verify.AdversarialReport{
			UnitID: unitID, Attempts: 200, Failures: 0,
		})
	}
	if to.AtLeast(verify.LevelProven) {
		add(verify.ArtifactHumanSignOff, &verify.HumanSignOff{
			UnitID: unitID, QueueItemID: "rq-1", Decision: verify.DecisionApprove, DecidedBy: "lead",
		})
	}
	return bundle
}

// advance climbs a unit to the target level through claims and commits.
func advance(t *testing.T, e *Engine, unitID string, to verify.Level) {
	t.Helper()
	for {
		u, err := e.Unit(unitID)
		if err != nil {
			t.Fatalf("advance %s: %v", unitID, err)
		}
		if u.Level.AtLeast(to) {
			return
		}
		next, _ := u.Level.Next()
		lease, err := e.Claim(unitID, "test-worker", time.Minute)
		if err != nil {
			t.Fatalf("claim %s: %v", unitID, err)
		}
		if _, err := e.Commit(lease.Token, next, bundleFor(t, unitID, next)); err != nil {
			t.Fatalf("commit %s -> %s: %v", unitID, next, err)
		}
	}
}

func TestEngine_InitialState(t *testing.T) {
	e := newTestEngine(t, testPlan(t))

	for _, u := range e.Units() {
		if u.Level != verify.LevelDraft {
			t.Errorf("unit %s starts at %s, want L0", u.ID, u.Level)
		}
		if len(u.LevelHistory) != 1 || u.LevelHistory[0].Cause != verify.CausePlan {
			t.Errorf("unit %s history = %+v, want single plan entry", u.ID, u.LevelHistory)
		}
	}

	ready := e.ReadySet()
	if len(ready) != 1 || ready[0] != "svd" {
		t.Fatalf("ready = %v, want [svd]: mps waits for the layer gate", ready)
	}
}

func TestEngine_LayerGating(t *testing.T) {
	e := newTestEngine(t, testPlan(t))

	// mps never ready while svd below the core layer's min level (L3).
	for _, lvl := range []verify.Level{verify.LevelCrossChecked, verify.LevelTested} {
		advance(t, e, "svd", lvl)
		for _, id := range e.ReadySet() {
			if id == "mps" {
				t.Fatalf("mps ready while svd at %s", lvl)
			}
		}
	}

	advance(t, e, "svd", verify.LevelAdversarial)
	found := false
	for _, id := range e.ReadySet() {
		if id == "mps" {
			found = true
		}
	}
	if !found {
		t.Fatalf("mps not ready after svd reached L3, ready = %v", e.ReadySet())
	}
}

func TestEngine_MonotonicEvidence_NoRungSkipping(t *testing.T) {
	e := newTestEngine(t, testPlan(t))

	lease, err := e.Claim("svd", "w1", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = e.Commit(lease.Token, verify.LevelTested, bundleFor(t, "svd", verify.LevelTested))
	if !errors.Is(err, verify.ErrInvalidTransition) {
		t.Fatalf("L0 -> L2 commit error = %v, want ErrInvalidTransition", err)
	}

	u, _ := e.Unit("svd")
	if u.Level != verify.LevelDraft {
		t.Errorf("level = %s after rejected commit, want L0", u.Level)
	}
}

func TestEngine_IncompleteArtifactBundle(t *testing.T) {
	e := newTestEngine(t, testPlan(t))
	advance(t, e, "svd", verify.LevelTested)

	// Targeting L3 with only review-record and oracle-report.
	lease, err := e.Claim("svd", "w1", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = e.Commit(lease.Token, verify.LevelAdversarial, bundleFor(t, "svd", verify.LevelTested))
	if !errors.Is(err, verify.ErrIncompleteArtifactBundle) {
		t.Fatalf("commit error = %v, want ErrIncompleteArtifactBundle", err)
	}

	u, _ := e.Unit("svd")
	if u.Level != verify.LevelTested {
		t.Errorf("level = %s after rejected commit, want L2 unchanged", u.Level)
	}
}

func TestEngine_FailingOracleRefusesUpgrade(t *testing.T) {
	e := newTestEngine(t, testPlan(t))
	advance(t, e, "svd", verify.LevelCrossChecked)

	bundle := bundleFor(t, "svd", verify.LevelCrossChecked)
	report, err := verify.EncodeArtifact(verify.ArtifactOracleReport, &verify.OracleReport{
		UnitID:     "svd",
		CasesTotal: 50,
		CasesPassed: 48,
		Failing: []verify.FailingCase{
			{Input: "case-7", Expected: "1.0", Actual: "1.5"},
		},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	bundle = append(bundle, report)

	lease, err := e.Claim("svd", "w1", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = e.Commit(lease.Token, verify.LevelTested, bundle)

	var mismatch *verify.OracleMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("commit error = %v, want OracleMismatchError", err)
	}
	if len(mismatch.Failing) != 1 || mismatch.Failing[0].Input != "case-7" {
		t.Errorf("failing cases = %+v, want the diverging case reported", mismatch.Failing)
	}

	// Refusal, not downgrade: level unchanged.
	u, _ := e.Unit("svd")
	if u.Level != verify.LevelCrossChecked {
		t.Errorf("level = %s after refusal, want L1 unchanged", u.Level)
	}
}

func TestEngine_DowngradeAtomicity(t *testing.T) {
	e := newTestEngine(t, testPlan(t))
	advance(t, e, "svd", verify.LevelAdversarial)

	ch := verify.NewChallenge("svd", "verifier-2", verify.SeverityCritical, "translated sign convention diverges for defective matrices")
	if err := e.RaiseChallenge(ch); err != nil {
		t.Fatalf("raise: %v", err)
	}

	u, _ := e.Unit("svd")
	if u.Level != verify.LevelDraft {
		t.Fatalf("level = %s immediately after challenge, want L0", u.Level)
	}
	if !u.HasOpenChallenges() {
		t.Fatal("challenge not recorded against unit")
	}
	last := u.LevelHistory[len(u.LevelHistory)-1]
	if last.Cause != verify.CauseChallenge || last.EvidenceRef != ch.ID {
		t.Errorf("last history entry = %+v, want challenge cause with evidence %s", last, ch.ID)
	}
}

func TestEngine_CascadeOnDowngrade(t *testing.T) {
	e := newTestEngine(t, testPlan(t))
	advance(t, e, "svd", verify.LevelAdversarial)
	advance(t, e, "mps", verify.LevelTested)

	ready := e.ReadySet()
	if len(ready) == 0 {
		t.Fatal("expected a non-empty ready set before the challenge")
	}

	ch := verify.NewChallenge("svd", "verifier-2", verify.SeverityCritical, "accepted behavior believed wrong")
	if err := e.RaiseChallenge(ch); err != nil {
		t.Fatalf("raise: %v", err)
	}

	// mps leaves the ready set even though it already reached L2.
	for _, id := range e.ReadySet() {
		if id == "mps" {
			t.Fatal("mps still ready after its dependency dropped to L0")
		}
	}

	// And no new claim on mps is granted.
	if _, err := e.Claim("mps", "w2", time.Minute); !errors.Is(err, verify.ErrUnmetDependency) {
		t.Fatalf("claim mps error = %v, want ErrUnmetDependency", err)
	}
}

func TestEngine_InFlightLeaseRejectedAfterChallenge(t *testing.T) {
	e := newTestEngine(t, testPlan(t))
	advance(t, e, "svd", verify.LevelCrossChecked)

	lease, err := e.Claim("svd", "w1", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	ch := verify.NewChallenge("svd", "verifier-2", verify.SeverityMajor, "review missed a contradiction")
	if err := e.RaiseChallenge(ch); err != nil {
		t.Fatalf("raise: %v", err)
	}

	// The in-flight attempt finishes but its commit is refused.
	_, err = e.Commit(lease.Token, verify.LevelTested, bundleFor(t, "svd", verify.LevelTested))
	if !errors.Is(err, verify.ErrOpenChallenge) {
		t.Fatalf("commit error = %v, want ErrOpenChallenge", err)
	}
}

func TestEngine_ResolutionDoesNotRestore(t *testing.T) {
	e := newTestEngine(t, testPlan(t))
	advance(t, e, "svd", verify.LevelTested)

	ch := verify.NewChallenge("svd", "verifier-2", verify.SeverityMajor, "documentation contradicts observed output")
	if err := e.RaiseChallenge(ch); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := e.ResolveChallenge(ch.ID, verify.ChallengeStatusResolved, "documentation was wrong, code was right"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	u, _ := e.Unit("svd")
	if u.Level != verify.LevelDraft {
		t.Fatalf("level = %s after resolution, want L0: resolution never restores", u.Level)
	}
	if u.HasOpenChallenges() {
		t.Fatal("resolved challenge still listed as open")
	}

	// The unit re-earns levels through the normal ladder.
	advance(t, e, "svd", verify.LevelTested)
	u, _ = e.Unit("svd")
	if u.Level != verify.LevelTested {
		t.Fatalf("level = %s after re-verification, want L2", u.Level)
	}
}

func TestEngine_MultipleOpenChallenges(t *testing.T) {
	e := newTestEngine(t, testPlan(t))
	advance(t, e, "svd", verify.LevelTested)

	ch1 := verify.NewChallenge("svd", "verifier-1", verify.SeverityMajor, "first dispute")
	ch2 := verify.NewChallenge("svd", "verifier-2", verify.SeverityMinor, "second dispute")
	if err := e.RaiseChallenge(ch1); err != nil {
		t.Fatalf("raise ch1: %v", err)
	}
	if err := e.RaiseChallenge(ch2); err != nil {
		t.Fatalf("raise ch2: %v", err)
	}

	if err := e.ResolveChallenge(ch1.ID, verify.ChallengeStatusResolved, "fixed"); err != nil {
		t.Fatalf("resolve ch1: %v", err)
	}

	// One of two still open: unit stays blocked.
	if _, err := e.Claim("svd", "w1", time.Minute); !errors.Is(err, verify.ErrOpenChallenge) {
		t.Fatalf("claim error = %v, want ErrOpenChallenge while any challenge open", err)
	}

	if err := e.ResolveChallenge(ch2.ID, verify.ChallengeStatusWontfix, "accepted deviation"); err != nil {
		t.Fatalf("resolve ch2: %v", err)
	}
	if _, err := e.Claim("svd", "w1", time.Minute); err != nil {
		t.Fatalf("claim after all challenges closed: %v", err)
	}
}

func TestEngine_ResolveClosedChallenge(t *testing.T) {
	e := newTestEngine(t, testPlan(t))

	ch := verify.NewChallenge("svd", "verifier-1", verify.SeverityMinor, "dispute")
	if err := e.RaiseChallenge(ch); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := e.ResolveChallenge(ch.ID, verify.ChallengeStatusResolved, "done"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	err := e.ResolveChallenge(ch.ID, verify.ChallengeStatusWontfix, "again")
	if !errors.Is(err, verify.ErrChallengeClosed) {
		t.Fatalf("second resolve error = %v, want ErrChallengeClosed", err)
	}
}

func TestEngine_LeaseConflict(t *testing.T) {
	e := newTestEngine(t, testPlan(t))

	if _, err := e.Claim("svd", "w1", time.Minute); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := e.Claim("svd", "w2", time.Minute)
	if !errors.Is(err, verify.ErrLeaseConflict) {
		t.Fatalf("second claim error = %v, want ErrLeaseConflict", err)
	}
}

func TestEngine_LeaseExpiry(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	e, err := New(testPlan(t), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lease, err := e.Claim("svd", "w1", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	now = now.Add(2 * time.Minute)
	expired := e.ExpireLeases()
	if len(expired) != 1 || expired[0].UnitID != "svd" {
		t.Fatalf("expired = %+v, want the svd lease", expired)
	}

	// The stale token cannot commit; another worker can claim.
	_, err = e.Commit(lease.Token, verify.LevelCrossChecked, bundleFor(t, "svd", verify.LevelCrossChecked))
	if !errors.Is(err, verify.ErrLeaseRequired) {
		t.Fatalf("stale commit error = %v, want ErrLeaseRequired", err)
	}
	if _, err := e.Claim("svd", "w2", time.Minute); err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
}

func TestEngine_CommitWithExpiredButUnsweptLease(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	e, err := New(testPlan(t), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lease, err := e.Claim("svd", "w1", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	now = now.Add(2 * time.Minute)

	_, err = e.Commit(lease.Token, verify.LevelCrossChecked, bundleFor(t, "svd", verify.LevelCrossChecked))
	if !errors.Is(err, verify.ErrLeaseExpired) {
		t.Fatalf("commit error = %v, want ErrLeaseExpired", err)
	}
}

func TestEngine_ReadinessNotification(t *testing.T) {
	e := newTestEngine(t, testPlan(t))

	ch := e.ReadyChanged()
	select {
	case <-ch:
		t.Fatal("readiness channel closed before any change")
	default:
	}

	advance(t, e, "svd", verify.LevelCrossChecked)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("readiness channel not closed after a level change")
	}
}

func TestEngine_SvdMpsScenario(t *testing.T) {
	e := newTestEngine(t, testPlan(t))

	// svd climbs: review, oracle 50/50, adversarial 0 failures.
	advance(t, e, "svd", verify.LevelAdversarial)

	ready := e.ReadySet()
	foundMps := false
	for _, id := range ready {
		if id == "mps" {
			foundMps = true
		}
	}
	if !foundMps {
		t.Fatalf("mps not ready after svd reached L3: %v", ready)
	}

	// mps reaches L2, then a critical challenge lands on svd.
	advance(t, e, "mps", verify.LevelTested)
	ch := verify.NewChallenge("svd", "verifier-2", verify.SeverityCritical, "sign convention wrong for defective matrices")
	if err := e.RaiseChallenge(ch); err != nil {
		t.Fatalf("raise: %v", err)
	}

	svd, _ := e.Unit("svd")
	if svd.Level != verify.LevelDraft {
		t.Errorf("svd level = %s, want L0", svd.Level)
	}
	for _, id := range e.ReadySet() {
		if id == "mps" {
			t.Fatal("mps still in ready set after svd downgrade")
		}
	}
	// mps keeps its earned level; it is blocked, not downgraded.
	mps, _ := e.Unit("mps")
	if mps.Level != verify.LevelTested {
		t.Errorf("mps level = %s, want L2 retained", mps.Level)
	}
}

func TestEngine_SummaryReportsBlockedCauses(t *testing.T) {
	plan := testPlan(t)
	plan.Units = append(plan.Units,
		&verify.Unit{ID: "qr", Layer: 0, IntraLayerDeps: []string{"lu"}, Equivalence: verify.EquivalenceStrict},
		&verify.Unit{ID: "lu", Layer: 0, IntraLayerDeps: []string{"qr"}, Equivalence: verify.EquivalenceStrict},
	)
	e := newTestEngine(t, plan)

	ch := verify.NewChallenge("svd", "verifier-1", verify.SeverityMajor, "dispute")
	if err := e.RaiseChallenge(ch); err != nil {
		t.Fatalf("raise: %v", err)
	}

	s := e.Summary("run-1")
	causes := make(map[string]verify.BlockCause)
	for _, b := range s.Blocked {
		causes[b.UnitID] = b.Cause
	}
	if causes["svd"] != verify.BlockCauseOpenChallenge {
		t.Errorf("svd cause = %s, want OpenChallenge", causes["svd"])
	}
	if causes["mps"] != verify.BlockCauseUnmetDependency {
		t.Errorf("mps cause = %s, want UnmetDependency", causes["mps"])
	}
	if causes["qr"] != verify.BlockCauseCyclicDependency || causes["lu"] != verify.BlockCauseCyclicDependency {
		t.Errorf("cycle causes = %v, want CyclicDependency for qr and lu", causes)
	}
}

func TestEngine_EventSink(t *testing.T) {
	var events []any
	plan := testPlan(t)
	e, err := New(plan, WithEventSink(func(ev any) { events = append(events, ev) }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	advance(t, e, "svd", verify.LevelCrossChecked)
	ch := verify.NewChallenge("svd", "verifier-1", verify.SeverityMajor, "dispute")
	if err := e.RaiseChallenge(ch); err != nil {
		t.Fatalf("raise: %v", err)
	}

	var leveled, downgraded, raised bool
	for _, ev := range events {
		switch ev.(type) {
		case verify.UnitLeveledEvent:
			leveled = true
		case verify.UnitDowngradedEvent:
			downgraded = true
		case verify.ChallengeRaisedEvent:
			raised = true
		}
	}
	if !leveled || !downgraded || !raised {
		t.Errorf("events = %+v, want leveled, downgraded, and raised events", events)
	}
}
