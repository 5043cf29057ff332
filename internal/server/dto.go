package server

import (
	"specline/internal/domain"
	"specline/internal/resolve"
)

// Request payloads

type CreateProjectRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
}

type CandidateItemRequest struct {
	Category    string `json:"category"`
	Content     string `json:"content"`
	SourceQuote string `json:"source_quote,omitempty"`
}

type ImportMeetingRequest struct {
	Title      string                 `json:"title"`
	OccurredAt string                 `json:"occurred_at,omitempty" format:"date-time"`
	Items      []CandidateItemRequest `json:"items"`
}

type DecisionRequest struct {
	CandidateItemID string  `json:"candidate_item_id"`
	Kind            string  `json:"kind" enum:"added,skipped_duplicate,skipped_semantic_duplicate,conflict_kept_existing,conflict_replaced,conflict_kept_both,conflict_merged"`
	MatchedEntryID  *string `json:"matched_entry_id,omitempty"`
	MergedText      *string `json:"merged_text,omitempty"`
	Reason          string  `json:"reason,omitempty"`
}

type ResolveMeetingRequest struct {
	Decisions []DecisionRequest `json:"decisions"`
}

type GenerateDocumentRequest struct {
	Mode string `json:"mode,omitempty" enum:"draft,detailed"`
}

// Response payloads

type ProjectResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Status            string `json:"status"`
	RequirementsStage string `json:"requirements_stage"`
	CreatedAt         string `json:"created_at" format:"date-time"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:                p.ID,
		Name:              p.Name,
		Status:            p.Status,
		RequirementsStage: p.RequirementsStage,
		CreatedAt:         p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

type MeetingResponse struct {
	Meeting domain.Meeting         `json:"meeting"`
	Items   []domain.CandidateItem `json:"items,omitempty"`
}

type ResolveMeetingResponse struct {
	Summary resolve.Summary `json:"summary"`
}

type BaselineEntryResponse struct {
	Entry      domain.BaselineEntry      `json:"entry"`
	Provenance []domain.ProvenanceRecord `json:"provenance,omitempty"`
}

func decisionInputs(reqs []DecisionRequest) []resolve.DecisionInput {
	out := make([]resolve.DecisionInput, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, resolve.DecisionInput{
			CandidateItemID: r.CandidateItemID,
			Kind:            domain.DecisionKind(r.Kind),
			MatchedEntryID:  r.MatchedEntryID,
			MergedText:      r.MergedText,
			Reason:          r.Reason,
		})
	}
	return out
}

func candidateInputs(reqs []CandidateItemRequest) []resolve.CandidateInput {
	out := make([]resolve.CandidateInput, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, resolve.CandidateInput{
			Category:    r.Category,
			Content:     r.Content,
			SourceQuote: r.SourceQuote,
		})
	}
	return out
}
