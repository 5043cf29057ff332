package generate

import (
	"context"
	"fmt"

	"specline/internal/domain"
	"specline/internal/events"
	"specline/internal/plan"
)

type RegenerateOptions struct {
	DocumentID string
	SectionID  string
	ActorID    string
	OnEvent    func(Event)
}

// RegenerateResult reports the replaced section and which later-stage
// sections are now stale. Affected sections are not regenerated
// automatically.
type RegenerateResult struct {
	Section  domain.Section `json:"section"`
	Affected []string       `json:"affected,omitempty"`
}

// RegenerateSection re-runs exactly one section of a finalized document. The
// prompt reuses completed context from earlier stages only; the section's
// record is replaced in place, keeping its id and plan order.
func (o Orchestrator) RegenerateSection(ctx context.Context, opts RegenerateOptions) (RegenerateResult, error) {
	doc, err := o.Repo.GetDocument(ctx, opts.DocumentID)
	if err != nil {
		return RegenerateResult{}, err
	}
	if doc.Version == nil {
		return RegenerateResult{}, &domain.PreconditionError{Msg: fmt.Sprintf("document %s is not finalized", opts.DocumentID)}
	}
	if doc.Archived {
		return RegenerateResult{}, &domain.PreconditionError{Msg: fmt.Sprintf("document %s is archived", opts.DocumentID)}
	}

	planEntries := plan.SectionsForMode(doc.Mode)
	target, ok := plan.SectionByID(planEntries, opts.SectionID)
	if !ok {
		return RegenerateResult{}, fmt.Errorf("section %q not in the %s plan", opts.SectionID, doc.Mode)
	}

	project, err := o.Repo.GetProject(ctx, doc.ProjectID)
	if err != nil {
		return RegenerateResult{}, err
	}
	entries, err := o.Repo.ListBaselineEntries(ctx, doc.ProjectID, true)
	if err != nil {
		return RegenerateResult{}, err
	}
	sections, err := o.Repo.ListSections(ctx, opts.DocumentID)
	if err != nil {
		return RegenerateResult{}, err
	}
	byID := map[string]domain.Section{}
	for _, s := range sections {
		byID[s.ID] = s
	}

	// Context strictly from earlier stages, in plan order.
	priorContext := ""
	for _, entry := range planEntries {
		if entry.Stage >= target.Stage {
			continue
		}
		if s, ok := byID[entry.ID]; ok && s.Status == domain.SectionCompleted {
			priorContext += sectionContext(entry.Title, s.Content)
		}
	}

	shared := baselineContext(project.Name, entries)
	section := o.generateSection(ctx, shared, target, priorContext, opts.OnEvent)
	if opts.OnEvent != nil {
		switch section.Status {
		case domain.SectionCompleted:
			opts.OnEvent(Event{Type: EventSectionComplete, SectionID: section.ID, Title: section.Title, Content: section.Content, Order: section.Order, DocumentID: doc.ID})
		case domain.SectionFailed:
			opts.OnEvent(Event{Type: EventSectionFailed, SectionID: section.ID, Error: section.Error, DocumentID: doc.ID})
		}
	}

	byID[section.ID] = section
	updated := make([]domain.Section, 0, len(byID))
	completed, failed := 0, 0
	for _, entry := range planEntries {
		s, ok := byID[entry.ID]
		if !ok {
			continue
		}
		updated = append(updated, s)
		switch s.Status {
		case domain.SectionCompleted:
			completed++
		case domain.SectionFailed:
			failed++
		}
	}
	status := domain.DocPartial
	switch {
	case completed == 0:
		status = domain.DocFailed
	case failed == 0:
		status = domain.DocReady
	}
	content := assembleContent(doc.Title, planEntries, updated)

	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return RegenerateResult{}, err
	}
	defer tx.Rollback()
	if err := o.Repo.UpsertSection(ctx, tx, doc.ID, section); err != nil {
		return RegenerateResult{}, fmt.Errorf("replace section: %w", err)
	}
	if err := o.Repo.UpdateDocumentContentTx(ctx, tx, doc.ID, content, status, o.nowString()); err != nil {
		return RegenerateResult{}, err
	}
	if err := o.Events.Append(ctx, tx, events.TypeSectionRegenerate, doc.ProjectID, "document", doc.ID, opts.ActorID,
		events.EventPayload{"section_id": section.ID, "status": section.Status}); err != nil {
		return RegenerateResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return RegenerateResult{}, err
	}

	var affected []string
	for _, entry := range planEntries {
		if entry.Stage <= target.Stage {
			continue
		}
		if s, ok := byID[entry.ID]; ok && s.Status == domain.SectionCompleted {
			affected = append(affected, entry.ID)
		}
	}
	return RegenerateResult{Section: section, Affected: affected}, nil
}
