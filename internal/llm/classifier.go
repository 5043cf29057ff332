package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Classification is the enumerated verdict the text-classification
// collaborator returns for one existing/candidate content pair.
type Classification string

const (
	ClassDuplicate     Classification = "duplicate"
	ClassNew           Classification = "new"
	ClassRefinement    Classification = "refinement"
	ClassContradiction Classification = "contradiction"
)

func (c Classification) Valid() bool {
	switch c {
	case ClassDuplicate, ClassNew, ClassRefinement, ClassContradiction:
		return true
	}
	return false
}

type ClassifyRequest struct {
	ExistingContent  string `json:"existing_content"`
	CandidateContent string `json:"candidate_content"`
}

type ClassifyResult struct {
	Classification Classification `json:"classification"`
	Reason         string         `json:"reason"`
}

// ResponseError marks a malformed collaborator response: a non-enumerated
// classification value, a missing reason, or an undecodable body. Callers
// must not retry these; the payload will not get better on a second read.
type ResponseError struct {
	Msg string
}

func (e *ResponseError) Error() string { return "malformed collaborator response: " + e.Msg }

// TextClassifier is the text-classification collaborator boundary.
type TextClassifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error)
}

// HTTPClassifier talks to a classification endpoint over JSON/HTTP.
type HTTPClassifier struct {
	URL    string
	Client *http.Client
}

func NewHTTPClassifier(url string, timeout time.Duration) *HTTPClassifier {
	return &HTTPClassifier{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (c *HTTPClassifier) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ClassifyResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return ClassifyResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("classification request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return ClassifyResult{}, fmt.Errorf("classification request: status %d", resp.StatusCode)
	}

	var result ClassifyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ClassifyResult{}, &ResponseError{Msg: err.Error()}
	}
	if !result.Classification.Valid() {
		return ClassifyResult{}, &ResponseError{Msg: fmt.Sprintf("classification %q not in enumeration", result.Classification)}
	}
	if result.Reason == "" {
		return ClassifyResult{}, &ResponseError{Msg: "missing reason"}
	}
	return result, nil
}
