package speclinesdk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Specline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Meeting represents the API meeting model.
type Meeting struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	OccurredAt string `json:"occurred_at,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// CandidateItem is one extracted statement from a meeting.
type CandidateItem struct {
	ID          string `json:"id"`
	MeetingID   string `json:"meeting_id"`
	Category    string `json:"category"`
	Content     string `json:"content"`
	SourceQuote string `json:"source_quote,omitempty"`
}

// ImportedMeeting pairs a meeting with its candidate items.
type ImportedMeeting struct {
	Meeting Meeting         `json:"meeting"`
	Items   []CandidateItem `json:"items,omitempty"`
}

// Proposal is a suggested decision for one candidate item.
type Proposal struct {
	CandidateItemID string  `json:"candidate_item_id"`
	Category        string  `json:"category"`
	Content         string  `json:"content"`
	Outcome         string  `json:"outcome"`
	MatchedEntryID  *string `json:"matched_entry_id,omitempty"`
	MatchedContent  string  `json:"matched_content,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	SuggestedKind   string  `json:"suggested_kind"`
}

// Decision is the instruction applied to one candidate item during resolve.
type Decision struct {
	CandidateItemID string  `json:"candidate_item_id"`
	Kind            string  `json:"kind"`
	MatchedEntryID  *string `json:"matched_entry_id,omitempty"`
	MergedText      *string `json:"merged_text,omitempty"`
	Reason          string  `json:"reason,omitempty"`
}

// Summary counts what a resolution pass did to the baseline.
type Summary struct {
	Added    int `json:"added"`
	Skipped  int `json:"skipped"`
	Replaced int `json:"replaced"`
	Merged   int `json:"merged"`
}

// BaselineEntry is one deduplicated requirement.
type BaselineEntry struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	Category     string `json:"category"`
	Content      string `json:"content"`
	DisplayOrder int    `json:"display_order"`
	Active       bool   `json:"active"`
}

// Section is one generated document section.
type Section struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
	Order   int    `json:"order"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Document represents the API document model.
type Document struct {
	ID       string    `json:"id"`
	Version  *int      `json:"version,omitempty"`
	Mode     string    `json:"mode"`
	Title    string    `json:"title,omitempty"`
	Content  string    `json:"content,omitempty"`
	Status   string    `json:"status"`
	Sections []Section `json:"sections,omitempty"`
}

// GenerationEvent is one frame of the generation stream.
type GenerationEvent struct {
	Type         string   `json:"type"`
	Status       string   `json:"status,omitempty"`
	Stage        int      `json:"stage,omitempty"`
	SectionIDs   []string `json:"section_ids,omitempty"`
	SectionID    string   `json:"section_id,omitempty"`
	Text         string   `json:"text,omitempty"`
	Content      string   `json:"content,omitempty"`
	Error        string   `json:"error,omitempty"`
	DocumentID   string   `json:"document_id,omitempty"`
	Version      int      `json:"version,omitempty"`
	SectionCount int      `json:"section_count,omitempty"`
	FailedCount  int      `json:"failed_count,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ImportMeeting posts meeting notes with candidate items.
func (c *Client) ImportMeeting(ctx context.Context, title string, items []CandidateItem) (ImportedMeeting, error) {
	body := map[string]any{
		"title": title,
		"items": items,
	}
	var resp ImportedMeeting
	err := c.do(ctx, http.MethodPost, c.projectPath("meetings"), body, &resp)
	return resp, err
}

// ReviewMeeting runs the classifier and returns proposed decisions.
func (c *Client) ReviewMeeting(ctx context.Context, meetingID string) ([]Proposal, error) {
	var resp []Proposal
	endpoint := fmt.Sprintf("v0/meetings/%s/review", url.PathEscape(meetingID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ResolveMeeting applies decisions to the baseline.
func (c *Client) ResolveMeeting(ctx context.Context, meetingID string, decisions []Decision) (Summary, error) {
	body := map[string]any{"decisions": decisions}
	var resp struct {
		Summary Summary `json:"summary"`
	}
	endpoint := fmt.Sprintf("v0/meetings/%s/resolve", url.PathEscape(meetingID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Summary, err
}

// Baseline lists active baseline entries.
func (c *Client) Baseline(ctx context.Context) ([]BaselineEntry, error) {
	var resp []BaselineEntry
	err := c.do(ctx, http.MethodGet, c.projectPath("baseline"), nil, &resp)
	return resp, err
}

// Documents lists the project's documents.
func (c *Client) Documents(ctx context.Context) ([]Document, error) {
	var resp []Document
	err := c.do(ctx, http.MethodGet, c.projectPath("documents"), nil, &resp)
	return resp, err
}

// GetDocument fetches one document with its sections.
func (c *Client) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var resp Document
	endpoint := fmt.Sprintf("v0/documents/%s", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GenerateDocument starts generation and streams progress events to onEvent
// until the stream ends. The stream is not bounded by Client.Timeout; cancel
// ctx to abort. Returns the final complete event when the run finishes.
func (c *Client) GenerateDocument(ctx context.Context, mode string, onEvent func(GenerationEvent)) (GenerationEvent, error) {
	body, err := json.Marshal(map[string]string{"mode": mode})
	if err != nil {
		return GenerationEvent{}, err
	}
	endpoint := c.base() + "/" + c.projectPath("documents")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return GenerationEvent{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.setAuth(req)

	client := &http.Client{} // no timeout; generation streams can run long
	resp, err := client.Do(req)
	if err != nil {
		return GenerationEvent{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return GenerationEvent{}, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	var final GenerationEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev GenerationEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		if onEvent != nil {
			onEvent(ev)
		}
		if ev.Type == "complete" {
			final = ev
		}
	}
	if err := scanner.Err(); err != nil {
		return final, err
	}
	if final.Type == "" {
		return final, fmt.Errorf("stream ended without a complete event")
	}
	return final, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
