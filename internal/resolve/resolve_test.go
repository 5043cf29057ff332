package resolve_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"specline/internal/classify"
	"specline/internal/config"
	"specline/internal/db"
	"specline/internal/domain"
	"specline/internal/llm"
	"specline/internal/migrate"
	"specline/internal/resolve"
)

type testEnv struct {
	Proc resolve.Processor
	Ctx  context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	proc := resolve.New(conn, cfg, nil)
	proc.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := proc.InitProject(ctx, "proj-1", "Test Project", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Proc: proc, Ctx: ctx}
}

func importMeeting(t *testing.T, env testEnv, items ...resolve.CandidateInput) (domain.Meeting, []domain.CandidateItem) {
	t.Helper()
	meeting, cands, err := env.Proc.ImportMeeting(env.Ctx, resolve.MeetingImportOptions{
		ProjectID: "proj-1",
		Title:     "Kickoff",
		Items:     items,
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("import meeting: %v", err)
	}
	return meeting, cands
}

func added(candidateID string) resolve.DecisionInput {
	return resolve.DecisionInput{CandidateItemID: candidateID, Kind: domain.DecisionAdded}
}

func TestImportMeetingMovesToAwaitingResolution(t *testing.T) {
	env := newTestEnv(t)
	meeting, cands := importMeeting(t, env,
		resolve.CandidateInput{Category: "requirements", Content: "Add dark mode"},
	)
	if meeting.Status != domain.MeetingAwaitingResolution {
		t.Fatalf("status = %s, want awaiting_resolution", meeting.Status)
	}
	if len(cands) != 1 {
		t.Fatalf("candidates = %d, want 1", len(cands))
	}
}

func TestImportMeetingRejectsUnknownCategory(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Proc.ImportMeeting(env.Ctx, resolve.MeetingImportOptions{
		ProjectID: "proj-1",
		Title:     "Kickoff",
		Items:     []resolve.CandidateInput{{Category: "nonsense", Content: "x"}},
		ActorID:   "tester",
	})
	if err == nil || !strings.Contains(err.Error(), "unknown category") {
		t.Fatalf("err = %v, want unknown category", err)
	}
}

func TestResolveAddedCreatesEntryWithOrderOne(t *testing.T) {
	env := newTestEnv(t)
	meeting, cands := importMeeting(t, env,
		resolve.CandidateInput{Category: "requirements", Content: "Add dark mode", SourceQuote: "we really want dark mode"},
	)
	summary, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		ProjectID: "proj-1", MeetingID: meeting.ID,
		Decisions: []resolve.DecisionInput{added(cands[0].ID)},
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if summary.Added != 1 || summary.Skipped != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	entries, err := env.Proc.Repo.ListBaselineByCategory(env.Ctx, "proj-1", "requirements")
	if err != nil {
		t.Fatalf("list baseline: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Content != "Add dark mode" || entries[0].DisplayOrder != 1 {
		t.Fatalf("entry = %+v", entries[0])
	}

	prov, err := env.Proc.Repo.ListProvenance(env.Ctx, entries[0].ID)
	if err != nil || len(prov) != 1 {
		t.Fatalf("provenance = %v, %v", prov, err)
	}
	if prov[0].Quote != "we really want dark mode" || prov[0].MeetingID != meeting.ID {
		t.Fatalf("provenance = %+v", prov[0])
	}

	hist, err := env.Proc.Repo.ListHistory(env.Ctx, entries[0].ID)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %v, %v", hist, err)
	}
	if hist[0].Action != domain.HistoryCreated || hist[0].Actor != domain.ActorAutoExtract {
		t.Fatalf("history = %+v", hist[0])
	}

	m, err := env.Proc.Repo.GetMeeting(env.Ctx, meeting.ID)
	if err != nil || m.Status != domain.MeetingResolved {
		t.Fatalf("meeting status = %s, %v", m.Status, err)
	}
}

func TestResolveRunningOrderAdvancesWithinBatch(t *testing.T) {
	env := newTestEnv(t)
	meeting, cands := importMeeting(t, env,
		resolve.CandidateInput{Category: "requirements", Content: "First"},
		resolve.CandidateInput{Category: "requirements", Content: "Second"},
		resolve.CandidateInput{Category: "goals", Content: "Grow revenue"},
	)
	summary, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: meeting.ID,
		Decisions: []resolve.DecisionInput{added(cands[0].ID), added(cands[1].ID), added(cands[2].ID)},
		ActorID:   "tester",
	})
	if err != nil || summary.Added != 3 {
		t.Fatalf("resolve: %+v, %v", summary, err)
	}
	reqs, _ := env.Proc.Repo.ListBaselineByCategory(env.Ctx, "proj-1", "requirements")
	if len(reqs) != 2 || reqs[0].DisplayOrder != 1 || reqs[1].DisplayOrder != 2 {
		t.Fatalf("requirements orders = %+v", reqs)
	}
	goals, _ := env.Proc.Repo.ListBaselineByCategory(env.Ctx, "proj-1", "goals")
	if len(goals) != 1 || goals[0].DisplayOrder != 1 {
		t.Fatalf("goals orders = %+v", goals)
	}
}

func TestResolveSkippedDuplicateScenario(t *testing.T) {
	env := newTestEnv(t)

	m1, c1 := importMeeting(t, env,
		resolve.CandidateInput{Category: "scope_and_constraints", Content: "Must use PostgreSQL"},
	)
	if _, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: m1.ID, Decisions: []resolve.DecisionInput{added(c1[0].ID)}, ActorID: "tester",
	}); err != nil {
		t.Fatalf("seed resolve: %v", err)
	}
	existing, _ := env.Proc.Repo.ListBaselineByCategory(env.Ctx, "proj-1", "scope_and_constraints")
	if len(existing) != 1 {
		t.Fatalf("seed entries = %d", len(existing))
	}

	m2, c2 := importMeeting(t, env,
		resolve.CandidateInput{Category: "scope_and_constraints", Content: "Must use PostgreSQL"},
	)
	matched := existing[0].ID
	summary, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: m2.ID,
		Decisions: []resolve.DecisionInput{{
			CandidateItemID: c2[0].ID,
			Kind:            domain.DecisionSkippedDuplicate,
			MatchedEntryID:  &matched,
		}},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if summary.Skipped != 1 || summary.Added != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	after, _ := env.Proc.Repo.ListBaselineByCategory(env.Ctx, "proj-1", "scope_and_constraints")
	if len(after) != 1 {
		t.Fatalf("baseline mutated: %d entries", len(after))
	}
	decisions, _ := env.Proc.Repo.ListDecisions(env.Ctx, m2.ID)
	if len(decisions) != 1 || decisions[0].Kind != domain.DecisionSkippedDuplicate || *decisions[0].MatchedEntryID != matched {
		t.Fatalf("decisions = %+v", decisions)
	}
}

func TestResolveReplaceOverwritesContent(t *testing.T) {
	env := newTestEnv(t)
	m1, c1 := importMeeting(t, env,
		resolve.CandidateInput{Category: "requirements", Content: "Support CSV export"},
	)
	if _, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: m1.ID, Decisions: []resolve.DecisionInput{added(c1[0].ID)}, ActorID: "tester",
	}); err != nil {
		t.Fatalf("seed resolve: %v", err)
	}
	entries, _ := env.Proc.Repo.ListBaselineByCategory(env.Ctx, "proj-1", "requirements")
	matched := entries[0].ID

	m2, c2 := importMeeting(t, env,
		resolve.CandidateInput{Category: "requirements", Content: "Support CSV and XLSX export"},
	)
	summary, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: m2.ID,
		Decisions: []resolve.DecisionInput{{
			CandidateItemID: c2[0].ID,
			Kind:            domain.DecisionConflictReplaced,
			MatchedEntryID:  &matched,
		}},
		ActorID: "tester",
	})
	if err != nil || summary.Replaced != 1 {
		t.Fatalf("resolve: %+v, %v", summary, err)
	}

	entry, err := env.Proc.Repo.GetBaselineEntry(env.Ctx, matched)
	if err != nil || entry.Content != "Support CSV and XLSX export" {
		t.Fatalf("entry = %+v, %v", entry, err)
	}
	hist, _ := env.Proc.Repo.ListHistory(env.Ctx, matched)
	if len(hist) != 2 {
		t.Fatalf("history = %d entries, want 2", len(hist))
	}
	last := hist[1]
	if last.Action != domain.HistoryModified || last.OldContent != "Support CSV export" || last.NewContent != "Support CSV and XLSX export" {
		t.Fatalf("history = %+v", last)
	}
}

func TestResolveMergedUsesSuppliedText(t *testing.T) {
	env := newTestEnv(t)
	m1, c1 := importMeeting(t, env,
		resolve.CandidateInput{Category: "non_functional", Content: "P95 latency under 300ms"},
	)
	if _, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: m1.ID, Decisions: []resolve.DecisionInput{added(c1[0].ID)}, ActorID: "tester",
	}); err != nil {
		t.Fatalf("seed resolve: %v", err)
	}
	entries, _ := env.Proc.Repo.ListBaselineByCategory(env.Ctx, "proj-1", "non_functional")
	matched := entries[0].ID

	m2, c2 := importMeeting(t, env,
		resolve.CandidateInput{Category: "non_functional", Content: "P99 latency under 500ms"},
	)
	mergedText := "P95 latency under 300ms, P99 under 500ms"
	summary, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: m2.ID,
		Decisions: []resolve.DecisionInput{{
			CandidateItemID: c2[0].ID,
			Kind:            domain.DecisionConflictMerged,
			MatchedEntryID:  &matched,
			MergedText:      &mergedText,
		}},
		ActorID: "tester",
	})
	if err != nil || summary.Merged != 1 {
		t.Fatalf("resolve: %+v, %v", summary, err)
	}
	entry, _ := env.Proc.Repo.GetBaselineEntry(env.Ctx, matched)
	if entry.Content != mergedText {
		t.Fatalf("content = %q", entry.Content)
	}
	hist, _ := env.Proc.Repo.ListHistory(env.Ctx, matched)
	last := hist[len(hist)-1]
	if last.Action != domain.HistoryMerged || last.Actor != domain.ActorAutoMerge {
		t.Fatalf("history = %+v", last)
	}
}

func TestResolveAtomicityOnMidBatchFailure(t *testing.T) {
	env := newTestEnv(t)
	meeting, cands := importMeeting(t, env,
		resolve.CandidateInput{Category: "requirements", Content: "First"},
		resolve.CandidateInput{Category: "requirements", Content: "Second"},
	)
	// merged without merged_text fails after the first decision already wrote.
	_, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: meeting.ID,
		Decisions: []resolve.DecisionInput{
			added(cands[0].ID),
			{CandidateItemID: cands[1].ID, Kind: domain.DecisionConflictMerged},
		},
		ActorID: "tester",
	})
	if err == nil {
		t.Fatal("expected error")
	}

	entries, _ := env.Proc.Repo.ListBaselineEntries(env.Ctx, "proj-1", false)
	if len(entries) != 0 {
		t.Fatalf("baseline not rolled back: %d entries", len(entries))
	}
	decisions, _ := env.Proc.Repo.ListDecisions(env.Ctx, meeting.ID)
	if len(decisions) != 0 {
		t.Fatalf("decisions not rolled back: %d", len(decisions))
	}
	m, _ := env.Proc.Repo.GetMeeting(env.Ctx, meeting.ID)
	if m.Status != domain.MeetingAwaitingResolution {
		t.Fatalf("meeting status = %s, want awaiting_resolution", m.Status)
	}
}

func TestResolveUnhandledDecisionKind(t *testing.T) {
	env := newTestEnv(t)
	meeting, cands := importMeeting(t, env,
		resolve.CandidateInput{Category: "requirements", Content: "x"},
	)
	_, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: meeting.ID,
		Decisions: []resolve.DecisionInput{{CandidateItemID: cands[0].ID, Kind: "bogus"}},
		ActorID:   "tester",
	})
	if err == nil || !strings.Contains(err.Error(), "unhandled decision kind") {
		t.Fatalf("err = %v", err)
	}
}

func TestResolveSilentlySkipsUnknownCandidate(t *testing.T) {
	env := newTestEnv(t)
	meeting, cands := importMeeting(t, env,
		resolve.CandidateInput{Category: "requirements", Content: "Real item"},
	)
	summary, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: meeting.ID,
		Decisions: []resolve.DecisionInput{
			{CandidateItemID: "no-such-candidate", Kind: domain.DecisionAdded},
			added(cands[0].ID),
		},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if summary.Added != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestResolvePreconditionOnNonAwaitingMeeting(t *testing.T) {
	env := newTestEnv(t)
	meeting, cands := importMeeting(t, env,
		resolve.CandidateInput{Category: "requirements", Content: "x"},
	)
	if _, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: meeting.ID, Decisions: []resolve.DecisionInput{added(cands[0].ID)}, ActorID: "tester",
	}); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	_, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: meeting.ID, Decisions: nil, ActorID: "tester",
	})
	var pre *resolve.PreconditionError
	if err == nil || !errors.As(err, &pre) {
		t.Fatalf("err = %v, want precondition error", err)
	}
}

func TestDeactivateAndReactivateEntry(t *testing.T) {
	env := newTestEnv(t)
	meeting, cands := importMeeting(t, env,
		resolve.CandidateInput{Category: "requirements", Content: "Keep me"},
	)
	if _, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: meeting.ID, Decisions: []resolve.DecisionInput{added(cands[0].ID)}, ActorID: "tester",
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	entries, _ := env.Proc.Repo.ListBaselineByCategory(env.Ctx, "proj-1", "requirements")
	id := entries[0].ID

	if err := env.Proc.DeactivateEntry(env.Ctx, id, "tester"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	active, _ := env.Proc.Repo.ListBaselineByCategory(env.Ctx, "proj-1", "requirements")
	if len(active) != 0 {
		t.Fatalf("entry still active")
	}
	if err := env.Proc.DeactivateEntry(env.Ctx, id, "tester"); err == nil {
		t.Fatal("second deactivate should fail")
	}

	if err := env.Proc.ReactivateEntry(env.Ctx, id, "tester"); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	hist, _ := env.Proc.Repo.ListHistory(env.Ctx, id)
	if len(hist) != 3 {
		t.Fatalf("history = %d entries, want 3", len(hist))
	}
	if hist[1].Action != domain.HistoryDeactivated || hist[2].Action != domain.HistoryReactivated {
		t.Fatalf("history actions = %s, %s", hist[1].Action, hist[2].Action)
	}
}

type noCallClassifier struct{ t *testing.T }

func (n noCallClassifier) Classify(ctx context.Context, req llm.ClassifyRequest) (llm.ClassifyResult, error) {
	n.t.Fatalf("collaborator must not be called for %q", req.CandidateContent)
	return llm.ClassifyResult{}, nil
}

func TestReviewMeetingProposals(t *testing.T) {
	env := newTestEnv(t)
	env.Proc.Classifier = &classify.Classifier{Collaborator: noCallClassifier{t: t}}

	m1, c1 := importMeeting(t, env,
		resolve.CandidateInput{Category: "scope_and_constraints", Content: "Must use PostgreSQL"},
	)
	if _, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: m1.ID, Decisions: []resolve.DecisionInput{added(c1[0].ID)}, ActorID: "tester",
	}); err != nil {
		t.Fatalf("seed resolve: %v", err)
	}

	m2, _ := importMeeting(t, env,
		resolve.CandidateInput{Category: "scope_and_constraints", Content: "Must use PostgreSQL"},
		resolve.CandidateInput{Category: "goals", Content: "Grow revenue"},
	)
	proposals, err := env.Proc.ReviewMeeting(env.Ctx, m2.ID)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if len(proposals) != 2 {
		t.Fatalf("proposals = %d, want 2", len(proposals))
	}
	if proposals[0].Outcome != classify.OutcomeDuplicate || proposals[0].SuggestedKind != domain.DecisionSkippedDuplicate || proposals[0].MatchedEntryID == nil {
		t.Fatalf("proposal 0 = %+v", proposals[0])
	}
	if proposals[1].Outcome != classify.OutcomeNew || proposals[1].SuggestedKind != domain.DecisionAdded {
		t.Fatalf("proposal 1 = %+v", proposals[1])
	}
}

func TestReviewMeetingPrecondition(t *testing.T) {
	env := newTestEnv(t)
	env.Proc.Classifier = &classify.Classifier{Collaborator: noCallClassifier{t: t}}
	meeting, cands := importMeeting(t, env,
		resolve.CandidateInput{Category: "requirements", Content: "x"},
	)
	if _, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: meeting.ID, Decisions: []resolve.DecisionInput{added(cands[0].ID)}, ActorID: "tester",
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var pre *resolve.PreconditionError
	if _, err := env.Proc.ReviewMeeting(env.Ctx, meeting.ID); !errors.As(err, &pre) {
		t.Fatalf("err = %v, want precondition error", err)
	}
}

func TestRecomputeRequirementsStage(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Proc.RecomputeRequirementsStage(env.Ctx, "proj-1"); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	p, _ := env.Proc.Repo.GetProject(env.Ctx, "proj-1")
	if p.RequirementsStage != "empty" {
		t.Fatalf("stage = %s, want empty", p.RequirementsStage)
	}

	meeting, cands := importMeeting(t, env,
		resolve.CandidateInput{Category: "requirements", Content: "x"},
	)
	if err := env.Proc.RecomputeRequirementsStage(env.Ctx, "proj-1"); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if _, err := env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{
		MeetingID: meeting.ID, Decisions: []resolve.DecisionInput{added(cands[0].ID)}, ActorID: "tester",
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := env.Proc.RecomputeRequirementsStage(env.Ctx, "proj-1"); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	p, _ = env.Proc.Repo.GetProject(env.Ctx, "proj-1")
	if p.RequirementsStage != "baselined" {
		t.Fatalf("stage = %s, want baselined", p.RequirementsStage)
	}
}
