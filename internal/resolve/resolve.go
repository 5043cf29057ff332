// Package resolve is the conflict-aware merge engine: it takes candidate
// requirement statements extracted from meetings, classifies them against the
// project baseline, and applies a batch of resolution decisions as one atomic
// transaction with full provenance and history.
package resolve

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"specline/internal/classify"
	"specline/internal/config"
	"specline/internal/domain"
	"specline/internal/events"
	"specline/internal/repo"
)

type Processor struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Classifier *classify.Classifier
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config, cls *classify.Classifier) Processor {
	return Processor{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Classifier: cls,
		Now:        time.Now,
	}
}

func (p Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// PreconditionError is re-exported for callers that branch on refused
// operations.
type PreconditionError = domain.PreconditionError

// InitProject creates a project with its default config.
func (p Processor) InitProject(ctx context.Context, projectID, name, actorID string) (domain.Project, error) {
	if projectID == "" {
		projectID = uuid.NewString()
	}
	if name == "" {
		name = projectID
	}
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	proj := domain.Project{
		ID:                projectID,
		Name:              name,
		Status:            "active",
		RequirementsStage: "empty",
		CreatedAt:         p.now().UTC().Format(time.RFC3339),
	}
	if err := p.Repo.InsertProject(ctx, tx, proj); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := p.Repo.UpsertProjectConfigTx(ctx, tx, proj.ID, config.Default(proj.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := p.Events.Append(ctx, tx, events.TypeProjectInit, proj.ID, "project", proj.ID, actorID, events.EventPayload{"name": proj.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return proj, nil
}

// CandidateInput is one extracted statement supplied by the extraction
// collaborator.
type CandidateInput struct {
	Category    string
	Content     string
	SourceQuote string
}

// MeetingImportOptions are parameters for importing a meeting's extracted
// candidates.
type MeetingImportOptions struct {
	ProjectID  string
	Title      string
	OccurredAt string
	Items      []CandidateInput
	ActorID    string
}

// ImportMeeting records a meeting and its candidate items in one transaction.
// A meeting with at least one candidate becomes awaiting_resolution; an empty
// import stays pending.
func (p Processor) ImportMeeting(ctx context.Context, opts MeetingImportOptions) (domain.Meeting, []domain.CandidateItem, error) {
	if opts.Title == "" {
		return domain.Meeting{}, nil, errors.New("title is required")
	}
	if _, err := p.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Meeting{}, nil, err
	}
	for _, item := range opts.Items {
		if item.Content == "" {
			return domain.Meeting{}, nil, errors.New("candidate content is required")
		}
		if item.Category == "" {
			return domain.Meeting{}, nil, errors.New("candidate category is required")
		}
		if p.Config != nil && !p.Config.KnownCategory(item.Category) {
			return domain.Meeting{}, nil, fmt.Errorf("unknown category %q", item.Category)
		}
	}

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Meeting{}, nil, err
	}
	defer tx.Rollback()

	now := p.now().UTC().Format(time.RFC3339)
	status := domain.MeetingPending
	if len(opts.Items) > 0 {
		status = domain.MeetingAwaitingResolution
	}
	meeting := domain.Meeting{
		ID:         uuid.NewString(),
		ProjectID:  opts.ProjectID,
		Title:      opts.Title,
		Status:     status,
		OccurredAt: opts.OccurredAt,
		CreatedAt:  now,
	}
	if err := p.Repo.InsertMeetingTx(ctx, tx, meeting); err != nil {
		return domain.Meeting{}, nil, fmt.Errorf("insert meeting: %w", err)
	}

	items := make([]domain.CandidateItem, 0, len(opts.Items))
	for _, in := range opts.Items {
		item := domain.CandidateItem{
			ID:          uuid.NewString(),
			MeetingID:   meeting.ID,
			Category:    in.Category,
			Content:     in.Content,
			SourceQuote: in.SourceQuote,
			Active:      true,
			CreatedAt:   now,
		}
		if err := p.Repo.InsertCandidateItemTx(ctx, tx, item); err != nil {
			return domain.Meeting{}, nil, fmt.Errorf("insert candidate: %w", err)
		}
		items = append(items, item)
	}
	if err := p.Events.Append(ctx, tx, events.TypeMeetingImported, opts.ProjectID, "meeting", meeting.ID, opts.ActorID,
		events.EventPayload{"title": meeting.Title, "candidates": len(items)}); err != nil {
		return domain.Meeting{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Meeting{}, nil, err
	}
	return meeting, items, nil
}

// Proposal is one candidate's classification outcome, offered for human
// review before resolution.
type Proposal struct {
	CandidateItemID string              `json:"candidate_item_id"`
	Category        string              `json:"category"`
	Content         string              `json:"content"`
	Outcome         classify.Outcome    `json:"outcome"`
	MatchedEntryID  *string             `json:"matched_entry_id,omitempty"`
	MatchedContent  string              `json:"matched_content,omitempty"`
	Reason          string              `json:"reason,omitempty"`
	SuggestedKind   domain.DecisionKind `json:"suggested_kind"`
}

// ReviewMeeting runs the classifier over every active candidate of a meeting,
// in import order, and returns proposed decisions. It writes nothing.
func (p Processor) ReviewMeeting(ctx context.Context, meetingID string) ([]Proposal, error) {
	meeting, err := p.Repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting.Status != domain.MeetingAwaitingResolution {
		return nil, &PreconditionError{Msg: fmt.Sprintf("meeting %s is %s, not awaiting_resolution", meetingID, meeting.Status)}
	}
	if p.Classifier == nil {
		return nil, errors.New("classifier not configured")
	}
	candidates, err := p.Repo.ListCandidateItems(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	baselines := map[string][]domain.BaselineEntry{}
	proposals := make([]Proposal, 0, len(candidates))
	for _, cand := range candidates {
		if !cand.Active {
			continue
		}
		entries, ok := baselines[cand.Category]
		if !ok {
			entries, err = p.Repo.ListBaselineByCategory(ctx, meeting.ProjectID, cand.Category)
			if err != nil {
				return nil, err
			}
			baselines[cand.Category] = entries
		}
		res, err := p.Classifier.Classify(ctx, cand, entries)
		if err != nil {
			return nil, err
		}
		prop := Proposal{
			CandidateItemID: cand.ID,
			Category:        cand.Category,
			Content:         cand.Content,
			Outcome:         res.Outcome,
			Reason:          res.Reason,
			SuggestedKind:   suggestedKind(res.Outcome),
		}
		if res.Matched != nil {
			id := res.Matched.ID
			prop.MatchedEntryID = &id
			prop.MatchedContent = res.Matched.Content
		}
		proposals = append(proposals, prop)
	}
	return proposals, nil
}

// suggestedKind maps a classifier outcome to the conservative default
// decision a reviewer starts from.
func suggestedKind(o classify.Outcome) domain.DecisionKind {
	switch o {
	case classify.OutcomeDuplicate:
		return domain.DecisionSkippedDuplicate
	case classify.OutcomeSemanticDuplicate:
		return domain.DecisionSkippedSemanticDup
	case classify.OutcomeConflict:
		return domain.DecisionConflictKeptExisting
	default:
		return domain.DecisionAdded
	}
}

// DecisionInput is one reviewed decision submitted for resolution.
type DecisionInput struct {
	CandidateItemID string              `json:"candidate_item_id"`
	Kind            domain.DecisionKind `json:"kind"`
	MatchedEntryID  *string             `json:"matched_entry_id,omitempty"`
	MergedText      *string             `json:"merged_text,omitempty"`
	Reason          string              `json:"reason,omitempty"`
}

type ResolveOptions struct {
	ProjectID string
	MeetingID string
	Decisions []DecisionInput
	ActorID   string
}

// Summary counts what a resolution pass did to the baseline.
type Summary struct {
	Added    int `json:"added"`
	Skipped  int `json:"skipped"`
	Replaced int `json:"replaced"`
	Merged   int `json:"merged"`
}

// Resolve applies a batch of decisions as one atomic unit: every write
// commits together or none do. Decisions referencing candidates outside the
// meeting's active item set are skipped silently. On success the meeting
// moves to resolved and the project's derived requirements stage is
// recomputed in the background.
func (p Processor) Resolve(ctx context.Context, opts ResolveOptions) (Summary, error) {
	var summary Summary

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return summary, err
	}
	defer tx.Rollback()

	meeting, err := p.Repo.GetMeetingTx(ctx, tx, opts.MeetingID)
	if err != nil {
		return summary, err
	}
	if opts.ProjectID != "" && meeting.ProjectID != opts.ProjectID {
		return summary, &PreconditionError{Msg: fmt.Sprintf("meeting %s not in project %s", opts.MeetingID, opts.ProjectID)}
	}
	if meeting.Status != domain.MeetingAwaitingResolution {
		return summary, &PreconditionError{Msg: fmt.Sprintf("meeting %s is %s, not awaiting_resolution", opts.MeetingID, meeting.Status)}
	}

	candidates, err := p.Repo.ListCandidateItemsTx(ctx, tx, opts.MeetingID)
	if err != nil {
		return summary, err
	}
	active := make(map[string]domain.CandidateItem, len(candidates))
	for _, c := range candidates {
		if c.Active {
			active[c.ID] = c
		}
	}

	// Per-category next-order counters, read once from committed state and
	// advanced in memory for the remainder of the batch.
	orders := map[string]int{}
	nextOrder := func(category string) (int, error) {
		if _, ok := orders[category]; !ok {
			maxOrder, err := p.Repo.MaxDisplayOrderTx(ctx, tx, meeting.ProjectID, category)
			if err != nil {
				return 0, err
			}
			orders[category] = maxOrder
		}
		orders[category]++
		return orders[category], nil
	}

	now := p.now().UTC().Format(time.RFC3339)
	for _, d := range opts.Decisions {
		cand, ok := active[d.CandidateItemID]
		if !ok {
			continue
		}

		switch d.Kind {
		case domain.DecisionAdded, domain.DecisionConflictKeptBoth:
			order, err := nextOrder(cand.Category)
			if err != nil {
				return Summary{}, err
			}
			entry := domain.BaselineEntry{
				ID:           uuid.NewString(),
				ProjectID:    meeting.ProjectID,
				Category:     cand.Category,
				Content:      cand.Content,
				DisplayOrder: order,
				Active:       true,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := p.Repo.InsertBaselineEntryTx(ctx, tx, entry); err != nil {
				return Summary{}, fmt.Errorf("insert baseline entry: %w", err)
			}
			if err := p.writeProvenance(ctx, tx, entry.ID, cand, now); err != nil {
				return Summary{}, err
			}
			if err := p.Repo.AppendHistoryTx(ctx, tx, domain.HistoryEntry{
				EntryID:    entry.ID,
				Actor:      domain.ActorAutoExtract,
				Action:     domain.HistoryCreated,
				NewContent: entry.Content,
				CreatedAt:  now,
			}); err != nil {
				return Summary{}, err
			}
			if err := p.writeDecision(ctx, tx, opts.MeetingID, d, now); err != nil {
				return Summary{}, err
			}
			summary.Added++

		case domain.DecisionSkippedDuplicate, domain.DecisionSkippedSemanticDup, domain.DecisionConflictKeptExisting:
			if err := p.writeDecision(ctx, tx, opts.MeetingID, d, now); err != nil {
				return Summary{}, err
			}
			summary.Skipped++

		case domain.DecisionConflictReplaced:
			entry, err := p.matchedEntry(ctx, tx, meeting.ProjectID, d)
			if err != nil {
				return Summary{}, err
			}
			if err := p.Repo.UpdateBaselineContentTx(ctx, tx, entry.ID, cand.Content, now); err != nil {
				return Summary{}, fmt.Errorf("replace entry content: %w", err)
			}
			if err := p.writeProvenance(ctx, tx, entry.ID, cand, now); err != nil {
				return Summary{}, err
			}
			if err := p.Repo.AppendHistoryTx(ctx, tx, domain.HistoryEntry{
				EntryID:    entry.ID,
				Actor:      domain.ActorAutoExtract,
				Action:     domain.HistoryModified,
				OldContent: entry.Content,
				NewContent: cand.Content,
				CreatedAt:  now,
			}); err != nil {
				return Summary{}, err
			}
			if err := p.writeDecision(ctx, tx, opts.MeetingID, d, now); err != nil {
				return Summary{}, err
			}
			summary.Replaced++

		case domain.DecisionConflictMerged:
			if d.MergedText == nil || *d.MergedText == "" {
				return Summary{}, fmt.Errorf("decision %s: merged_text is required for %s", d.CandidateItemID, d.Kind)
			}
			entry, err := p.matchedEntry(ctx, tx, meeting.ProjectID, d)
			if err != nil {
				return Summary{}, err
			}
			if err := p.Repo.UpdateBaselineContentTx(ctx, tx, entry.ID, *d.MergedText, now); err != nil {
				return Summary{}, fmt.Errorf("merge entry content: %w", err)
			}
			if err := p.writeProvenance(ctx, tx, entry.ID, cand, now); err != nil {
				return Summary{}, err
			}
			if err := p.Repo.AppendHistoryTx(ctx, tx, domain.HistoryEntry{
				EntryID:    entry.ID,
				Actor:      domain.ActorAutoMerge,
				Action:     domain.HistoryMerged,
				OldContent: entry.Content,
				NewContent: *d.MergedText,
				CreatedAt:  now,
			}); err != nil {
				return Summary{}, err
			}
			if err := p.writeDecision(ctx, tx, opts.MeetingID, d, now); err != nil {
				return Summary{}, err
			}
			summary.Merged++

		default:
			return Summary{}, fmt.Errorf("unhandled decision kind %q", d.Kind)
		}
	}

	if err := p.Repo.UpdateMeetingStatusTx(ctx, tx, opts.MeetingID, domain.MeetingResolved); err != nil {
		return Summary{}, err
	}
	if err := p.Events.Append(ctx, tx, events.TypeMeetingResolved, meeting.ProjectID, "meeting", opts.MeetingID, opts.ActorID,
		events.EventPayload{"added": summary.Added, "skipped": summary.Skipped, "replaced": summary.Replaced, "merged": summary.Merged}); err != nil {
		return Summary{}, err
	}
	if err := tx.Commit(); err != nil {
		return Summary{}, err
	}

	go p.recomputeStageAsync(meeting.ProjectID)
	return summary, nil
}

func (p Processor) matchedEntry(ctx context.Context, tx *sql.Tx, projectID string, d DecisionInput) (domain.BaselineEntry, error) {
	if d.MatchedEntryID == nil || *d.MatchedEntryID == "" {
		return domain.BaselineEntry{}, fmt.Errorf("decision %s: matched_entry_id is required for %s", d.CandidateItemID, d.Kind)
	}
	entry, err := p.Repo.GetBaselineEntryTx(ctx, tx, *d.MatchedEntryID)
	if err != nil {
		return domain.BaselineEntry{}, fmt.Errorf("matched entry %s: %w", *d.MatchedEntryID, err)
	}
	if entry.ProjectID != projectID {
		return domain.BaselineEntry{}, fmt.Errorf("matched entry %s not in project %s", entry.ID, projectID)
	}
	return entry, nil
}

func (p Processor) writeProvenance(ctx context.Context, tx *sql.Tx, entryID string, cand domain.CandidateItem, now string) error {
	return p.Repo.InsertProvenanceTx(ctx, tx, domain.ProvenanceRecord{
		ID:              uuid.NewString(),
		EntryID:         entryID,
		MeetingID:       cand.MeetingID,
		CandidateItemID: cand.ID,
		Quote:           cand.SourceQuote,
		CreatedAt:       now,
	})
}

func (p Processor) writeDecision(ctx context.Context, tx *sql.Tx, meetingID string, d DecisionInput, now string) error {
	return p.Repo.InsertDecisionTx(ctx, tx, domain.Decision{
		ID:              uuid.NewString(),
		MeetingID:       meetingID,
		CandidateItemID: d.CandidateItemID,
		Kind:            d.Kind,
		MatchedEntryID:  d.MatchedEntryID,
		MergedText:      d.MergedText,
		Reason:          d.Reason,
		CreatedAt:       now,
	})
}

// DeactivateEntry soft-deletes a baseline entry, keeping history.
func (p Processor) DeactivateEntry(ctx context.Context, entryID, actorID string) error {
	return p.setEntryActive(ctx, entryID, actorID, false)
}

// ReactivateEntry restores a deactivated baseline entry.
func (p Processor) ReactivateEntry(ctx context.Context, entryID, actorID string) error {
	return p.setEntryActive(ctx, entryID, actorID, true)
}

func (p Processor) setEntryActive(ctx context.Context, entryID, actorID string, active bool) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	entry, err := p.Repo.GetBaselineEntryTx(ctx, tx, entryID)
	if err != nil {
		return err
	}
	if entry.Active == active {
		return &PreconditionError{Msg: fmt.Sprintf("entry %s already %s", entryID, activeWord(active))}
	}
	now := p.now().UTC().Format(time.RFC3339)
	if err := p.Repo.SetBaselineActiveTx(ctx, tx, entryID, active, now); err != nil {
		return err
	}
	action := domain.HistoryDeactivated
	evtType := events.TypeEntryDeactivated
	if active {
		action = domain.HistoryReactivated
		evtType = events.TypeEntryReactivated
	}
	if err := p.Repo.AppendHistoryTx(ctx, tx, domain.HistoryEntry{
		EntryID:    entryID,
		Actor:      domain.ActorHuman,
		Action:     action,
		OldContent: entry.Content,
		NewContent: entry.Content,
		CreatedAt:  now,
	}); err != nil {
		return err
	}
	if err := p.Events.Append(ctx, tx, evtType, entry.ProjectID, "baseline_entry", entryID, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	go p.recomputeStageAsync(entry.ProjectID)
	return nil
}

func activeWord(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

// RecomputeRequirementsStage derives the project stage from committed counts.
func (p Processor) RecomputeRequirementsStage(ctx context.Context, projectID string) error {
	return p.Repo.RecomputeRequirementsStage(ctx, projectID)
}

func (p Processor) recomputeStageAsync(projectID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.RecomputeRequirementsStage(ctx, projectID); err != nil {
		log.Printf("requirements stage recompute for %s failed: %v", projectID, err)
	}
}
