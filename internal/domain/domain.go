package domain

// PreconditionError marks an operation refused because its parent entity is
// missing or not in the required state. No writes happen when it is returned.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string { return e.Msg }

type Project struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Status            string `json:"status"`
	RequirementsStage string `json:"requirements_stage" enum:"empty,draft,baselined,documented"`
	CreatedAt         string `json:"created_at" format:"date-time"`
}

type Meeting struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Title      string `json:"title"`
	Status     string `json:"status" enum:"pending,awaiting_resolution,resolved,failed"`
	OccurredAt string `json:"occurred_at,omitempty" format:"date-time"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Meeting statuses. A meeting may only be resolved while awaiting resolution.
const (
	MeetingPending            = "pending"
	MeetingAwaitingResolution = "awaiting_resolution"
	MeetingResolved           = "resolved"
	MeetingFailed             = "failed"
)

type CandidateItem struct {
	ID          string `json:"id"`
	MeetingID   string `json:"meeting_id"`
	Category    string `json:"category"`
	Content     string `json:"content"`
	SourceQuote string `json:"source_quote,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type BaselineEntry struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	Category     string `json:"category"`
	Content      string `json:"content"`
	DisplayOrder int    `json:"display_order"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type ProvenanceRecord struct {
	ID              string `json:"id"`
	EntryID         string `json:"entry_id"`
	MeetingID       string `json:"meeting_id"`
	CandidateItemID string `json:"candidate_item_id"`
	Quote           string `json:"quote,omitempty"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

// History actors.
const (
	ActorHuman       = "human"
	ActorAutoExtract = "automatic-extraction"
	ActorAutoMerge   = "automatic-merge"
)

// History actions.
const (
	HistoryCreated     = "created"
	HistoryModified    = "modified"
	HistoryDeactivated = "deactivated"
	HistoryReactivated = "reactivated"
	HistoryMerged      = "merged"
)

type HistoryEntry struct {
	ID         int64  `json:"id"`
	EntryID    string `json:"entry_id"`
	Actor      string `json:"actor" enum:"human,automatic-extraction,automatic-merge"`
	Action     string `json:"action" enum:"created,modified,deactivated,reactivated,merged"`
	OldContent string `json:"old_content,omitempty"`
	NewContent string `json:"new_content,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// DecisionKind is the categorical outcome recorded for one candidate item
// during a resolution pass.
type DecisionKind string

const (
	DecisionAdded                DecisionKind = "added"
	DecisionSkippedDuplicate     DecisionKind = "skipped_duplicate"
	DecisionSkippedSemanticDup   DecisionKind = "skipped_semantic_duplicate"
	DecisionConflictKeptExisting DecisionKind = "conflict_kept_existing"
	DecisionConflictReplaced     DecisionKind = "conflict_replaced"
	DecisionConflictKeptBoth     DecisionKind = "conflict_kept_both"
	DecisionConflictMerged       DecisionKind = "conflict_merged"
)

// DecisionKinds lists every valid kind, in display order.
var DecisionKinds = []DecisionKind{
	DecisionAdded,
	DecisionSkippedDuplicate,
	DecisionSkippedSemanticDup,
	DecisionConflictKeptExisting,
	DecisionConflictReplaced,
	DecisionConflictKeptBoth,
	DecisionConflictMerged,
}

// Valid reports whether k is one of the enumerated decision kinds.
func (k DecisionKind) Valid() bool {
	for _, known := range DecisionKinds {
		if k == known {
			return true
		}
	}
	return false
}

type Decision struct {
	ID              string       `json:"id"`
	MeetingID       string       `json:"meeting_id"`
	CandidateItemID string       `json:"candidate_item_id"`
	Kind            DecisionKind `json:"kind"`
	MatchedEntryID  *string      `json:"matched_entry_id,omitempty"`
	MergedText      *string      `json:"merged_text,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	CreatedAt       string       `json:"created_at" format:"date-time"`
}

// Document statuses.
const (
	DocQueued     = "queued"
	DocGenerating = "generating"
	DocPartial    = "partial"
	DocReady      = "ready"
	DocFailed     = "failed"
	DocCancelled  = "cancelled"
	DocArchived   = "archived"
)

// Document modes.
const (
	ModeDraft    = "draft"
	ModeDetailed = "detailed"
)

type Document struct {
	ID                string    `json:"id"`
	ProjectID         string    `json:"project_id"`
	Version           *int      `json:"version,omitempty"`
	Mode              string    `json:"mode" enum:"draft,detailed"`
	Title             string    `json:"title,omitempty"`
	Content           string    `json:"content,omitempty"`
	Status            string    `json:"status" enum:"queued,generating,partial,ready,failed,cancelled,archived"`
	CurrentStage      int       `json:"current_stage"`
	SectionsCompleted int       `json:"sections_completed"`
	SectionsTotal     int       `json:"sections_total"`
	Archived          bool      `json:"archived"`
	Sections          []Section `json:"sections,omitempty"`
	CreatedAt         string    `json:"created_at" format:"date-time"`
	UpdatedAt         string    `json:"updated_at" format:"date-time"`
}

// Section statuses.
const (
	SectionPending   = "pending"
	SectionCompleted = "completed"
	SectionFailed    = "failed"
)

type Section struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content,omitempty"`
	Order       int    `json:"order"`
	Status      string `json:"status" enum:"pending,completed,failed"`
	Error       string `json:"error,omitempty"`
	GeneratedAt string `json:"generated_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
