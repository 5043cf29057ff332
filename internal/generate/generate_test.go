package generate_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specline/internal/config"
	"specline/internal/db"
	"specline/internal/domain"
	"specline/internal/generate"
	"specline/internal/migrate"
	"specline/internal/repo"
	"specline/internal/resolve"
)

var sectionIDRe = regexp.MustCompile(`\(id: ([a-z_]+)\)`)

// stubGenerator answers per section id, parsed back out of the prompt.
type stubGenerator struct {
	mu      sync.Mutex
	prompts map[string]string
	respond func(sectionID string) (string, error)
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string, onChunk func(string)) (string, error) {
	m := sectionIDRe.FindStringSubmatch(prompt)
	if m == nil {
		return "", errors.New("prompt missing section id")
	}
	id := m[1]
	s.mu.Lock()
	if s.prompts == nil {
		s.prompts = map[string]string{}
	}
	s.prompts[id] = prompt
	s.mu.Unlock()

	out, err := s.respond(id)
	if err != nil {
		return "", err
	}
	if onChunk != nil {
		onChunk(out)
	}
	return out, nil
}

func (s *stubGenerator) promptFor(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[id]
}

func sectionJSON(id string) string {
	return fmt.Sprintf(`{"content": "Generated body of %s with enough substance to matter."}`, id)
}

type testEnv struct {
	DB   *sql.DB
	Orch generate.Orchestrator
	Proc resolve.Processor
	Ctx  context.Context
}

func newTestEnv(t *testing.T, gen *stubGenerator) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default("proj-1")
	cfg.Generation.MaxAttempts = 1

	proc := resolve.New(conn, cfg, nil)
	proc.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	_, err = proc.InitProject(ctx, "proj-1", "Atlas", "tester")
	require.NoError(t, err)

	orch := generate.New(conn, cfg, gen)
	return testEnv{DB: conn, Orch: orch, Proc: proc, Ctx: ctx}
}

func seedBaseline(t *testing.T, env testEnv, contents ...string) {
	t.Helper()
	items := make([]resolve.CandidateInput, 0, len(contents))
	for _, c := range contents {
		items = append(items, resolve.CandidateInput{Category: "requirements", Content: c})
	}
	meeting, cands, err := env.Proc.ImportMeeting(env.Ctx, resolve.MeetingImportOptions{
		ProjectID: "proj-1", Title: "Kickoff", Items: items, ActorID: "tester",
	})
	require.NoError(t, err)
	decisions := make([]resolve.DecisionInput, 0, len(cands))
	for _, c := range cands {
		decisions = append(decisions, resolve.DecisionInput{CandidateItemID: c.ID, Kind: domain.DecisionAdded})
	}
	_, err = env.Proc.Resolve(env.Ctx, resolve.ResolveOptions{MeetingID: meeting.ID, Decisions: decisions, ActorID: "tester"})
	require.NoError(t, err)
}

type eventLog struct {
	mu     sync.Mutex
	events []generate.Event
}

func (l *eventLog) add(e generate.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(typ string) []generate.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []generate.Event
	for _, e := range l.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) last() generate.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

func TestGenerateDraftDocumentReady(t *testing.T) {
	gen := &stubGenerator{respond: func(id string) (string, error) {
		if id == "executive_summary" {
			return `{"content": "Atlas turns scattered meeting notes into a living PRD. Details follow."}`, nil
		}
		return sectionJSON(id), nil
	}}
	env := newTestEnv(t, gen)
	seedBaseline(t, env, "Add dark mode", "Export CSV")

	var log eventLog
	doc, err := env.Orch.Generate(env.Ctx, generate.GenerateOptions{
		ProjectID: "proj-1", Mode: "draft", ActorID: "tester", OnEvent: log.add,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.DocReady, doc.Status)
	require.NotNil(t, doc.Version)
	assert.Equal(t, 1, *doc.Version)
	assert.Equal(t, "Atlas turns scattered meeting notes into a living PRD", doc.Title)
	assert.Equal(t, 7, doc.SectionsTotal)
	assert.Equal(t, 7, doc.SectionsCompleted)
	require.Len(t, doc.Sections, 7)
	for _, s := range doc.Sections {
		assert.Equal(t, domain.SectionCompleted, s.Status, s.ID)
		assert.NotEmpty(t, s.Content, s.ID)
	}

	stages := log.ofType(generate.EventStage)
	require.Len(t, stages, 3)
	assert.Equal(t, []string{"overview", "problem_statement", "objectives"}, stages[0].SectionIDs)
	assert.Equal(t, 3, stages[2].Stage)

	complete := log.last()
	assert.Equal(t, generate.EventComplete, complete.Type)
	assert.Equal(t, 1, complete.Version)
	assert.Equal(t, 7, complete.SectionCount)
	assert.Equal(t, 0, complete.FailedCount)
	assert.Equal(t, domain.DocReady, complete.Status)

	assert.NotEmpty(t, log.ofType(generate.EventChunk))
	assert.Len(t, log.ofType(generate.EventSectionComplete), 7)
}

func TestStage3ContextContainsAllCompletedSections(t *testing.T) {
	gen := &stubGenerator{respond: func(id string) (string, error) {
		return sectionJSON(id), nil
	}}
	env := newTestEnv(t, gen)
	seedBaseline(t, env, "Add dark mode")

	_, err := env.Orch.Generate(env.Ctx, generate.GenerateOptions{ProjectID: "proj-1", Mode: "draft", ActorID: "tester"})
	require.NoError(t, err)

	summaryPrompt := gen.promptFor("executive_summary")
	require.NotEmpty(t, summaryPrompt)
	for _, id := range []string{"overview", "problem_statement", "objectives", "functional_requirements", "scope_and_constraints", "success_metrics"} {
		assert.Contains(t, summaryPrompt, fmt.Sprintf("Generated body of %s", id), "stage-3 prompt must carry %s", id)
	}
}

func TestOneStage2FailureYieldsPartial(t *testing.T) {
	gen := &stubGenerator{respond: func(id string) (string, error) {
		if id == "scope_and_constraints" {
			return "", errors.New("generator unreachable")
		}
		return sectionJSON(id), nil
	}}
	env := newTestEnv(t, gen)
	seedBaseline(t, env, "Add dark mode")

	var log eventLog
	doc, err := env.Orch.Generate(env.Ctx, generate.GenerateOptions{
		ProjectID: "proj-1", Mode: "draft", ActorID: "tester", OnEvent: log.add,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.DocPartial, doc.Status)
	require.NotNil(t, doc.Version)
	assert.Equal(t, 6, doc.SectionsCompleted)

	var failedSection domain.Section
	for _, s := range doc.Sections {
		if s.ID == "scope_and_constraints" {
			failedSection = s
			continue
		}
		assert.Equal(t, domain.SectionCompleted, s.Status, s.ID)
	}
	assert.Equal(t, domain.SectionFailed, failedSection.Status)
	assert.Contains(t, failedSection.Error, "generator unreachable")

	failures := log.ofType(generate.EventSectionFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, "scope_and_constraints", failures[0].SectionID)
	assert.Equal(t, 1, log.last().FailedCount)
}

func TestAllSectionsFailedYieldsFailed(t *testing.T) {
	gen := &stubGenerator{respond: func(id string) (string, error) {
		return "", errors.New("down")
	}}
	env := newTestEnv(t, gen)
	seedBaseline(t, env, "Add dark mode")

	doc, err := env.Orch.Generate(env.Ctx, generate.GenerateOptions{ProjectID: "proj-1", Mode: "draft", ActorID: "tester"})
	require.NoError(t, err)
	assert.Equal(t, domain.DocFailed, doc.Status)
	require.NotNil(t, doc.Version)
	assert.Equal(t, 1, *doc.Version)
	assert.Equal(t, 0, doc.SectionsCompleted)
}

func TestGenerateEmptyBaselinePrecondition(t *testing.T) {
	gen := &stubGenerator{respond: func(id string) (string, error) { return sectionJSON(id), nil }}
	env := newTestEnv(t, gen)

	_, err := env.Orch.Generate(env.Ctx, generate.GenerateOptions{ProjectID: "proj-1", Mode: "draft", ActorID: "tester"})
	var pre *domain.PreconditionError
	require.ErrorAs(t, err, &pre)
}

func TestConcurrentFinalizeAssignsDistinctVersions(t *testing.T) {
	gen := &stubGenerator{respond: func(id string) (string, error) { return sectionJSON(id), nil }}
	env := newTestEnv(t, gen)

	r := repo.Repo{DB: env.DB}
	const n = 3
	ids := make([]string, n)
	now := time.Now().UTC().Format(time.RFC3339)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("doc-%d", i)
		tx, err := env.DB.BeginTx(env.Ctx, nil)
		require.NoError(t, err)
		require.NoError(t, r.InsertDocumentTx(env.Ctx, tx, domain.Document{
			ID: ids[i], ProjectID: "proj-1", Mode: "draft", Status: domain.DocGenerating,
			SectionsTotal: 7, CreatedAt: now, UpdatedAt: now,
		}))
		require.NoError(t, tx.Commit())
	}

	versions := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			v, err := env.Orch.Allocator.Finalize(env.Ctx, id, "proj-1", "T", "body", domain.DocReady, "tester")
			assert.NoError(t, err)
			versions <- v
		}(ids[i])
	}
	wg.Wait()
	close(versions)

	var got []int
	for v := range versions {
		got = append(got, v)
	}
	sort.Ints(got)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestRegenerateSectionPreservesSiblingsAndReportsAffected(t *testing.T) {
	gen := &stubGenerator{respond: func(id string) (string, error) { return sectionJSON(id), nil }}
	env := newTestEnv(t, gen)
	seedBaseline(t, env, "Add dark mode")

	doc, err := env.Orch.Generate(env.Ctx, generate.GenerateOptions{ProjectID: "proj-1", Mode: "draft", ActorID: "tester"})
	require.NoError(t, err)
	require.Equal(t, domain.DocReady, doc.Status)

	before := map[string]domain.Section{}
	for _, s := range doc.Sections {
		before[s.ID] = s
	}

	gen.respond = func(id string) (string, error) {
		return `{"content": "Rewritten functional requirements, sharper this time around."}`, nil
	}
	res, err := env.Orch.RegenerateSection(env.Ctx, generate.RegenerateOptions{
		DocumentID: doc.ID, SectionID: "functional_requirements", ActorID: "tester",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SectionCompleted, res.Section.Status)
	assert.Equal(t, before["functional_requirements"].Order, res.Section.Order)
	assert.Equal(t, []string{"executive_summary"}, res.Affected)

	// Prompt context comes from earlier stages only: stage-1 content in,
	// stage-2 siblings out.
	prompt := gen.promptFor("functional_requirements")
	assert.Contains(t, prompt, "Generated body of overview")
	assert.NotContains(t, prompt, "Generated body of success_metrics")

	after, err := env.Orch.GetDocumentWithSections(env.Ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, after.Version)
	assert.Equal(t, *doc.Version, *after.Version, "regeneration must not re-version")
	assert.Equal(t, domain.DocReady, after.Status)
	for _, s := range after.Sections {
		if s.ID == "functional_requirements" {
			assert.Contains(t, s.Content, "Rewritten functional requirements")
			continue
		}
		assert.Equal(t, before[s.ID].Content, s.Content, "sibling %s must be untouched", s.ID)
	}
	assert.Contains(t, after.Content, "Rewritten functional requirements")
}

func TestCancelFinalizedDocumentRefused(t *testing.T) {
	gen := &stubGenerator{respond: func(id string) (string, error) { return sectionJSON(id), nil }}
	env := newTestEnv(t, gen)
	seedBaseline(t, env, "Add dark mode")

	doc, err := env.Orch.Generate(env.Ctx, generate.GenerateOptions{ProjectID: "proj-1", Mode: "draft", ActorID: "tester"})
	require.NoError(t, err)

	err = env.Orch.CancelDocument(env.Ctx, doc.ID, "tester")
	var pre *domain.PreconditionError
	require.ErrorAs(t, err, &pre)
}

func TestCancelledContextStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	var mu sync.Mutex
	gen := &stubGenerator{respond: func(id string) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		if id == "overview" {
			cancel()
		}
		return sectionJSON(id), nil
	}}
	env := newTestEnv(t, gen)
	seedBaseline(t, env, "Add dark mode")

	doc, err := env.Orch.Generate(ctx, generate.GenerateOptions{ProjectID: "proj-1", Mode: "draft", ActorID: "tester"})
	require.NoError(t, err)
	assert.Equal(t, domain.DocCancelled, doc.Status)
	assert.Nil(t, doc.Version)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), calls, "no new sections after cancellation checkpoint")
}

func TestArchiveDocument(t *testing.T) {
	gen := &stubGenerator{respond: func(id string) (string, error) { return sectionJSON(id), nil }}
	env := newTestEnv(t, gen)
	seedBaseline(t, env, "Add dark mode")

	doc, err := env.Orch.Generate(env.Ctx, generate.GenerateOptions{ProjectID: "proj-1", Mode: "draft", ActorID: "tester"})
	require.NoError(t, err)

	require.NoError(t, env.Orch.ArchiveDocument(env.Ctx, doc.ID, "tester"))
	got, err := env.Orch.Repo.GetDocument(env.Ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)
	assert.Equal(t, domain.DocArchived, got.Status)

	var pre *domain.PreconditionError
	require.ErrorAs(t, env.Orch.ArchiveDocument(env.Ctx, doc.ID, "tester"), &pre)
}

func TestDetailedModeStageTwoFanOut(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	gen := &stubGenerator{respond: func(id string) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return sectionJSON(id), nil
	}}
	env := newTestEnv(t, gen)
	seedBaseline(t, env, "Add dark mode")

	doc, err := env.Orch.Generate(env.Ctx, generate.GenerateOptions{ProjectID: "proj-1", Mode: "detailed", ActorID: "tester"})
	require.NoError(t, err)
	assert.Equal(t, domain.DocReady, doc.Status)
	assert.Equal(t, 12, doc.SectionsTotal)
	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, maxInFlight, 1, "stage 2 must actually run concurrently")
	assert.LessOrEqual(t, maxInFlight, 7)
}
