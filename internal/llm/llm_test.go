package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClassifierRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		fmt.Fprint(w, `{"classification": "refinement", "reason": "narrows the latency budget"}`)
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, time.Second)
	res, err := c.Classify(context.Background(), ClassifyRequest{
		ExistingContent:  "P95 latency under 300ms",
		CandidateContent: "P95 latency under 200ms",
	})
	require.NoError(t, err)
	assert.Equal(t, ClassRefinement, res.Classification)
	assert.Equal(t, "narrows the latency budget", res.Reason)
}

func TestHTTPClassifierRejectsNonEnumeratedValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"classification": "maybe", "reason": "unsure"}`)
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, time.Second)
	_, err := c.Classify(context.Background(), ClassifyRequest{})
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Contains(t, respErr.Error(), "not in enumeration")
}

func TestHTTPClassifierRejectsMissingReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"classification": "duplicate"}`)
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, time.Second)
	_, err := c.Classify(context.Background(), ClassifyRequest{})
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
}

func TestHTTPClassifierNon200IsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, time.Second)
	_, err := c.Classify(context.Background(), ClassifyRequest{})
	require.Error(t, err)
	var respErr *ResponseError
	assert.False(t, errors.As(err, &respErr), "status errors are retryable, not malformed")
}

func TestHTTPGeneratorStreamsChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"text\": \"{\\\"content\\\": \\\"Hel\"}\n\n")
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, "data: {\"text\": \"lo\\\"}\"}\n\n")
		fmt.Fprint(w, "data: {\"done\": true}\n\n")
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, time.Second)
	var chunks []string
	out, err := g.Generate(context.Background(), "write something", func(text string) {
		chunks = append(chunks, text)
	})
	require.NoError(t, err)
	assert.Equal(t, `{"content": "Hello"}`, out)
	assert.Equal(t, []string{`{"content": "Hel`, `lo"}`}, chunks)
}

func TestHTTPGeneratorStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"text\": \"partial\"}\n\n")
		fmt.Fprint(w, "data: {\"error\": \"model overloaded\"}\n\n")
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, time.Second)
	_, err := g.Generate(context.Background(), "write", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestHTTPGeneratorNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, time.Second)
	_, err := g.Generate(context.Background(), "write", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestReadChunksEndOfStreamWithoutBlankLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Final event not terminated by a blank line.
		fmt.Fprint(w, "data: {\"text\": \"tail\"}")
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, time.Second)
	out, err := g.Generate(context.Background(), "write", nil)
	require.NoError(t, err)
	assert.Equal(t, "tail", out)
}
