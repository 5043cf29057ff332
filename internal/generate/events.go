package generate

// Event is one frame of the generation stream a client observes. Type decides
// which fields carry meaning.
type Event struct {
	Type         string   `json:"type" enum:"status,stage,chunk,section_complete,section_failed,complete"`
	Status       string   `json:"status,omitempty"`
	Stage        int      `json:"stage,omitempty"`
	SectionIDs   []string `json:"section_ids,omitempty"`
	SectionID    string   `json:"section_id,omitempty"`
	Title        string   `json:"title,omitempty"`
	Text         string   `json:"text,omitempty"`
	Content      string   `json:"content,omitempty"`
	Order        int      `json:"order,omitempty"`
	Error        string   `json:"error,omitempty"`
	DocumentID   string   `json:"document_id,omitempty"`
	Version      int      `json:"version,omitempty"`
	SectionCount int      `json:"section_count,omitempty"`
	FailedCount  int      `json:"failed_count,omitempty"`
}

// Event types.
const (
	EventStatus          = "status"
	EventStage           = "stage"
	EventChunk           = "chunk"
	EventSectionComplete = "section_complete"
	EventSectionFailed   = "section_failed"
	EventComplete        = "complete"
)
