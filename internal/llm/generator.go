package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Generator is the text-generation collaborator boundary. Generate posts a
// prompt, forwards each incremental text chunk to onChunk as it arrives, and
// returns the full accumulated output once the stream ends.
type Generator interface {
	Generate(ctx context.Context, prompt string, onChunk func(text string)) (string, error)
}

// GenerateRequest is the payload posted to the generation endpoint.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// chunk is one incremental frame of a generation stream.
type chunk struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
	Err  string `json:"error,omitempty"`
}

// HTTPGenerator talks to a generation endpoint that streams server-sent
// events, one JSON chunk per data frame.
type HTTPGenerator struct {
	URL    string
	Client *http.Client
}

func NewHTTPGenerator(url string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (g *HTTPGenerator) Generate(ctx context.Context, prompt string, onChunk func(text string)) (string, error) {
	body, err := json.Marshal(GenerateRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return "", fmt.Errorf("generation request: status %d", resp.StatusCode)
	}

	var out strings.Builder
	for c := range readChunks(ctx, resp.Body) {
		if c.Err != "" {
			return "", fmt.Errorf("generation stream: %s", c.Err)
		}
		if c.Text != "" {
			out.WriteString(c.Text)
			if onChunk != nil {
				onChunk(c.Text)
			}
		}
		if c.Done {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return out.String(), nil
}
