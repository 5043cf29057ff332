// Package generate compiles a project's requirement baseline into a staged,
// multi-section document: stage 1 runs sequentially while accumulating shared
// context, stage 2 fans out concurrently, stage 3 summarizes everything.
// Partial documents are a valid terminal state; one failed section never
// aborts its siblings.
package generate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"specline/internal/config"
	"specline/internal/domain"
	"specline/internal/events"
	"specline/internal/llm"
	"specline/internal/plan"
	"specline/internal/repo"
)

// backoffBase is the starting delay between generation retries. Tests
// override it to avoid real sleeps.
var backoffBase = time.Second

type Orchestrator struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Generator llm.Generator
	Allocator Allocator
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, gen llm.Generator) Orchestrator {
	r := repo.Repo{DB: db}
	w := events.Writer{DB: db}
	return Orchestrator{
		DB:        db,
		Repo:      r,
		Events:    w,
		Config:    cfg,
		Generator: gen,
		Allocator: Allocator{DB: db, Repo: r, Events: w},
		Now:       time.Now,
	}
}

func (o Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

type GenerateOptions struct {
	ProjectID string
	Mode      string
	ActorID   string
	// OnEvent must be safe for concurrent use: chunk events arrive from
	// parallel stage-2 sections.
	OnEvent func(Event)
}

// runState tracks one generation run in memory; persisted counters mirror it
// after every section settles.
type runState struct {
	doc       domain.Document
	plan      []plan.SectionPlanEntry
	sections  map[string]domain.Section
	completed int
	failed    int
	onEvent   func(Event)
}

func (s *runState) emit(e Event) {
	if s.onEvent != nil {
		s.onEvent(e)
	}
}

// Generate runs the full staged pipeline for one document and returns the
// finalized (or cancelled) document. Cancellation is cooperative: it is
// checked between sections and stages only, never mid-stream.
func (o Orchestrator) Generate(ctx context.Context, opts GenerateOptions) (domain.Document, error) {
	project, err := o.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Document{}, err
	}
	entries, err := o.Repo.ListBaselineEntries(ctx, opts.ProjectID, true)
	if err != nil {
		return domain.Document{}, err
	}
	if len(entries) == 0 {
		return domain.Document{}, &domain.PreconditionError{Msg: fmt.Sprintf("project %s has no active baseline entries to document", opts.ProjectID)}
	}
	mode := opts.Mode
	if mode == "" && o.Config != nil {
		mode = o.Config.DefaultMode()
	}
	if mode != domain.ModeDraft && mode != domain.ModeDetailed {
		return domain.Document{}, fmt.Errorf("unknown document mode %q", mode)
	}

	planEntries := plan.SectionsForMode(mode)
	doc, err := o.queueDocument(ctx, opts, mode, planEntries)
	if err != nil {
		return domain.Document{}, err
	}

	state := &runState{
		doc:      doc,
		plan:     planEntries,
		sections: map[string]domain.Section{},
		onEvent:  opts.OnEvent,
	}
	state.emit(Event{Type: EventStatus, Status: domain.DocQueued, DocumentID: doc.ID})

	// Writes after client disconnect still have to land.
	persistCtx := context.WithoutCancel(ctx)

	if err := o.Repo.UpdateDocumentStatus(persistCtx, doc.ID, domain.DocGenerating, o.nowString()); err != nil {
		return domain.Document{}, err
	}
	state.emit(Event{Type: EventStatus, Status: domain.DocGenerating, DocumentID: doc.ID})

	shared := baselineContext(project.Name, entries)
	priorContext := ""

	// Stage 1: sequential, each completed section feeds the next prompt.
	stage1 := plan.SectionsForStage(planEntries, 1)
	if cancelled := o.announceStage(ctx, persistCtx, state, 1, stage1); cancelled {
		return o.finishCancelled(persistCtx, state)
	}
	for _, entry := range stage1 {
		if o.cancelled(ctx, persistCtx, doc.ID) {
			return o.finishCancelled(persistCtx, state)
		}
		s := o.generateSection(ctx, shared, entry, priorContext, state.onEvent)
		o.settleSection(persistCtx, state, s)
		if s.Status == domain.SectionCompleted {
			priorContext += sectionContext(entry.Title, s.Content)
		}
	}

	// Stage 2: concurrent fan-out over a shared prior-context snapshot,
	// results settled in arrival order.
	stage2 := plan.SectionsForStage(planEntries, 2)
	if cancelled := o.announceStage(ctx, persistCtx, state, 2, stage2); cancelled {
		return o.finishCancelled(persistCtx, state)
	}
	results := make(chan domain.Section, len(stage2))
	var g errgroup.Group
	for _, entry := range stage2 {
		entry := entry
		g.Go(func() error {
			results <- o.generateSection(ctx, shared, entry, priorContext, state.onEvent)
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()
	for s := range results {
		o.settleSection(persistCtx, state, s)
	}

	// Stage 3: full context in plan order, sequential.
	stage3 := plan.SectionsForStage(planEntries, 3)
	if cancelled := o.announceStage(ctx, persistCtx, state, 3, stage3); cancelled {
		return o.finishCancelled(persistCtx, state)
	}
	fullContext := ""
	for _, entry := range planEntries {
		if entry.Stage == 3 {
			continue
		}
		if s, ok := state.sections[entry.ID]; ok && s.Status == domain.SectionCompleted {
			fullContext += sectionContext(entry.Title, s.Content)
		}
	}
	for _, entry := range stage3 {
		if o.cancelled(ctx, persistCtx, doc.ID) {
			return o.finishCancelled(persistCtx, state)
		}
		s := o.generateSection(ctx, shared, entry, fullContext, state.onEvent)
		o.settleSection(persistCtx, state, s)
	}

	return o.finalize(persistCtx, project, state, opts.ActorID)
}

func (o Orchestrator) nowString() string {
	return o.now().UTC().Format(time.RFC3339)
}

func (o Orchestrator) queueDocument(ctx context.Context, opts GenerateOptions, mode string, planEntries []plan.SectionPlanEntry) (domain.Document, error) {
	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	now := o.nowString()
	doc := domain.Document{
		ID:            uuid.NewString(),
		ProjectID:     opts.ProjectID,
		Mode:          mode,
		Status:        domain.DocQueued,
		SectionsTotal: len(planEntries),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.Repo.InsertDocumentTx(ctx, tx, doc); err != nil {
		return domain.Document{}, fmt.Errorf("insert document: %w", err)
	}
	for _, entry := range planEntries {
		if err := o.Repo.UpsertSection(ctx, tx, doc.ID, domain.Section{
			ID:     entry.ID,
			Title:  entry.Title,
			Order:  entry.Order,
			Status: domain.SectionPending,
		}); err != nil {
			return domain.Document{}, fmt.Errorf("insert section %s: %w", entry.ID, err)
		}
	}
	if err := o.Events.Append(ctx, tx, events.TypeDocumentQueued, opts.ProjectID, "document", doc.ID, opts.ActorID,
		events.EventPayload{"mode": mode, "sections": len(planEntries)}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

// announceStage persists the stage counter and emits the stage event. It
// reports whether the run was cancelled before the stage started.
func (o Orchestrator) announceStage(ctx, persistCtx context.Context, state *runState, stage int, entries []plan.SectionPlanEntry) bool {
	if o.cancelled(ctx, persistCtx, state.doc.ID) {
		return true
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	if err := o.Repo.UpdateDocumentProgress(persistCtx, state.doc.ID, stage, state.completed, o.nowString()); err != nil {
		log.Printf("persist stage progress for %s: %v", state.doc.ID, err)
	}
	state.emit(Event{Type: EventStage, Stage: stage, SectionIDs: ids, DocumentID: state.doc.ID})
	state.doc.CurrentStage = stage
	return false
}

// cancelled reports whether the caller went away or the document was
// cancelled out-of-band.
func (o Orchestrator) cancelled(ctx, persistCtx context.Context, documentID string) bool {
	if ctx.Err() != nil {
		return true
	}
	doc, err := o.Repo.GetDocument(persistCtx, documentID)
	if err != nil {
		return false
	}
	return doc.Status == domain.DocCancelled
}

func (o Orchestrator) finishCancelled(persistCtx context.Context, state *runState) (domain.Document, error) {
	now := o.nowString()
	if err := o.Repo.UpdateDocumentStatus(persistCtx, state.doc.ID, domain.DocCancelled, now); err != nil && !errors.Is(err, repo.ErrNotFound) {
		log.Printf("persist cancelled status for %s: %v", state.doc.ID, err)
	}
	state.emit(Event{Type: EventStatus, Status: domain.DocCancelled, DocumentID: state.doc.ID})
	return o.Repo.GetDocument(persistCtx, state.doc.ID)
}

// generateSection calls the generator with a bounded retry budget, streaming
// chunks as they arrive, and returns the settled section. Failures are
// encoded in the section status, never as an error: one section's failure
// must not disturb its siblings.
func (o Orchestrator) generateSection(ctx context.Context, shared string, entry plan.SectionPlanEntry, priorContext string, onEvent func(Event)) domain.Section {
	section := domain.Section{
		ID:    entry.ID,
		Title: entry.Title,
		Order: entry.Order,
	}
	prompt := sectionPrompt(shared, entry, priorContext)
	attempts := 2
	if o.Config != nil {
		attempts = o.Config.GenerationAttempts()
	}

	var raw string
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := backoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				section.Status = domain.SectionFailed
				section.Error = ctx.Err().Error()
				return section
			case <-time.After(backoff):
			}
		}
		raw, err = o.Generator.Generate(ctx, prompt, func(text string) {
			if onEvent != nil {
				onEvent(Event{Type: EventChunk, SectionID: entry.ID, Text: text})
			}
		})
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		section.Status = domain.SectionFailed
		section.Error = err.Error()
		return section
	}

	content, err := parseSectionContent(raw)
	if err != nil {
		section.Status = domain.SectionFailed
		section.Error = err.Error()
		return section
	}
	section.Status = domain.SectionCompleted
	section.Content = content
	section.GeneratedAt = o.nowString()
	return section
}

// settleSection persists one settled section, updates counters, and emits the
// terminal event for it.
func (o Orchestrator) settleSection(persistCtx context.Context, state *runState, s domain.Section) {
	state.sections[s.ID] = s
	switch s.Status {
	case domain.SectionCompleted:
		state.completed++
		state.emit(Event{Type: EventSectionComplete, SectionID: s.ID, Title: s.Title, Content: s.Content, Order: s.Order, DocumentID: state.doc.ID})
	case domain.SectionFailed:
		state.failed++
		state.emit(Event{Type: EventSectionFailed, SectionID: s.ID, Error: s.Error, DocumentID: state.doc.ID})
	}
	if err := o.Repo.UpsertSection(persistCtx, nil, state.doc.ID, s); err != nil {
		log.Printf("persist section %s/%s: %v", state.doc.ID, s.ID, err)
	}
	if err := o.Repo.UpdateDocumentProgress(persistCtx, state.doc.ID, state.doc.CurrentStage, state.completed, o.nowString()); err != nil {
		log.Printf("persist progress for %s: %v", state.doc.ID, err)
	}
}

func (o Orchestrator) finalize(persistCtx context.Context, project domain.Project, state *runState, actorID string) (domain.Document, error) {
	sections := make([]domain.Section, 0, len(state.sections))
	for _, entry := range state.plan {
		if s, ok := state.sections[entry.ID]; ok {
			sections = append(sections, s)
		}
	}
	title := deriveTitle(project.Name, sections)
	content := assembleContent(title, state.plan, sections)

	status := domain.DocPartial
	switch {
	case state.completed == 0:
		status = domain.DocFailed
	case state.failed == 0:
		status = domain.DocReady
	}

	version, err := o.Allocator.Finalize(persistCtx, state.doc.ID, state.doc.ProjectID, title, content, status, actorID)
	if err != nil {
		return domain.Document{}, err
	}
	state.emit(Event{
		Type:         EventComplete,
		DocumentID:   state.doc.ID,
		Version:      version,
		SectionCount: state.doc.SectionsTotal,
		FailedCount:  state.failed,
		Status:       status,
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.Repo.RecomputeRequirementsStage(ctx, project.ID); err != nil {
			log.Printf("requirements stage recompute for %s failed: %v", project.ID, err)
		}
	}()

	return o.GetDocumentWithSections(persistCtx, state.doc.ID)
}

// GetDocumentWithSections loads a document and its section rows.
func (o Orchestrator) GetDocumentWithSections(ctx context.Context, id string) (domain.Document, error) {
	doc, err := o.Repo.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	sections, err := o.Repo.ListSections(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	doc.Sections = sections
	return doc, nil
}

// CancelDocument flips an in-flight generation to cancelled. The running
// orchestrator observes the status at its next cancellation checkpoint.
func (o Orchestrator) CancelDocument(ctx context.Context, documentID, actorID string) error {
	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	doc, err := o.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != domain.DocQueued && doc.Status != domain.DocGenerating {
		return &domain.PreconditionError{Msg: fmt.Sprintf("document %s is %s, not cancellable", documentID, doc.Status)}
	}
	if err := o.Repo.UpdateDocumentStatusTx(ctx, tx, documentID, domain.DocCancelled, o.nowString()); err != nil {
		return err
	}
	if err := o.Events.Append(ctx, tx, events.TypeDocumentCancelled, doc.ProjectID, "document", documentID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ArchiveDocument soft-deletes a finalized document.
func (o Orchestrator) ArchiveDocument(ctx context.Context, documentID, actorID string) error {
	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	doc, err := o.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return err
	}
	if doc.Version == nil {
		return &domain.PreconditionError{Msg: fmt.Sprintf("document %s is not finalized", documentID)}
	}
	if doc.Archived {
		return &domain.PreconditionError{Msg: fmt.Sprintf("document %s already archived", documentID)}
	}
	if err := o.Repo.SetDocumentArchivedTx(ctx, tx, documentID, true, domain.DocArchived, o.nowString()); err != nil {
		return err
	}
	if err := o.Events.Append(ctx, tx, events.TypeDocumentArchived, doc.ProjectID, "document", documentID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func sectionContext(title, content string) string {
	return fmt.Sprintf("### %s\n%s\n\n", title, content)
}
