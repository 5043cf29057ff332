package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specline/internal/domain"
	"specline/internal/llm"
)

type stubClassifier struct {
	calls     int
	responses []llm.ClassifyResult
	errs      []error
}

func (s *stubClassifier) Classify(ctx context.Context, req llm.ClassifyRequest) (llm.ClassifyResult, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var res llm.ClassifyResult
	if i < len(s.responses) {
		res = s.responses[i]
	}
	return res, err
}

func entry(id, content string) domain.BaselineEntry {
	return domain.BaselineEntry{ID: id, Category: "requirements", Content: content}
}

func TestClassifyEmptyCategoryIsNewWithoutCall(t *testing.T) {
	stub := &stubClassifier{}
	c := &Classifier{Collaborator: stub}

	res, err := c.Classify(context.Background(), domain.CandidateItem{Content: "Add dark mode"}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, res.Outcome)
	assert.Equal(t, "no existing entries in category", res.Reason)
	assert.Nil(t, res.Matched)
	assert.Zero(t, stub.calls)
}

func TestClassifyTrimmedIdenticalIsDuplicateWithoutCall(t *testing.T) {
	stub := &stubClassifier{}
	c := &Classifier{Collaborator: stub}
	entries := []domain.BaselineEntry{
		entry("e1", "Must support SSO"),
		entry("e2", "Must use PostgreSQL"),
	}

	res, err := c.Classify(context.Background(), domain.CandidateItem{Content: "  Must use PostgreSQL\n"}, entries)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	require.NotNil(t, res.Matched)
	assert.Equal(t, "e2", res.Matched.ID)
	assert.Zero(t, stub.calls)
}

func TestClassifyFirstNonNewShortCircuits(t *testing.T) {
	stub := &stubClassifier{responses: []llm.ClassifyResult{
		{Classification: llm.ClassNew, Reason: "unrelated"},
		{Classification: llm.ClassContradiction, Reason: "contradicts retention policy"},
	}}
	c := &Classifier{Collaborator: stub}
	entries := []domain.BaselineEntry{entry("e1", "a"), entry("e2", "b"), entry("e3", "c")}

	res, err := c.Classify(context.Background(), domain.CandidateItem{Content: "keep data forever"}, entries)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	require.NotNil(t, res.Matched)
	assert.Equal(t, "e2", res.Matched.ID)
	assert.Equal(t, "contradicts retention policy", res.Reason)
	assert.Equal(t, 2, stub.calls, "third entry must not be consulted")
}

func TestClassifySemanticDuplicate(t *testing.T) {
	stub := &stubClassifier{responses: []llm.ClassifyResult{
		{Classification: llm.ClassDuplicate, Reason: "same requirement, different words"},
	}}
	c := &Classifier{Collaborator: stub}

	res, err := c.Classify(context.Background(), domain.CandidateItem{Content: "Store data in Postgres"},
		[]domain.BaselineEntry{entry("e1", "Must use PostgreSQL")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSemanticDuplicate, res.Outcome)
	assert.Equal(t, "e1", res.Matched.ID)
}

func TestClassifyAllNewResponses(t *testing.T) {
	stub := &stubClassifier{responses: []llm.ClassifyResult{
		{Classification: llm.ClassNew, Reason: "unrelated"},
		{Classification: llm.ClassNew, Reason: "unrelated"},
	}}
	c := &Classifier{Collaborator: stub}

	res, err := c.Classify(context.Background(), domain.CandidateItem{Content: "Add dark mode"},
		[]domain.BaselineEntry{entry("e1", "a"), entry("e2", "b")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, res.Outcome)
	assert.Nil(t, res.Matched)
	assert.Equal(t, 2, stub.calls)
}

func TestClassifyMalformedResponseIsTerminalConflict(t *testing.T) {
	stub := &stubClassifier{errs: []error{&llm.ResponseError{Msg: "classification \"maybe\" not in enumeration"}}}
	c := &Classifier{Collaborator: stub, MaxAttempts: 3}

	res, err := c.Classify(context.Background(), domain.CandidateItem{Content: "x"},
		[]domain.BaselineEntry{entry("e1", "a")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	assert.Equal(t, "e1", res.Matched.ID)
	assert.Equal(t, ManualReviewReason, res.Reason)
	assert.Equal(t, 1, stub.calls, "malformed responses must not be retried")
}

func TestClassifyExhaustedRetriesDegradeToConflict(t *testing.T) {
	old := backoffBase
	backoffBase = time.Millisecond
	defer func() { backoffBase = old }()

	transient := errors.New("connection refused")
	stub := &stubClassifier{errs: []error{transient, transient, transient}}
	c := &Classifier{Collaborator: stub, MaxAttempts: 3}

	res, err := c.Classify(context.Background(), domain.CandidateItem{Content: "x"},
		[]domain.BaselineEntry{entry("e1", "a")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	assert.Equal(t, "e1", res.Matched.ID)
	assert.Equal(t, ManualReviewReason, res.Reason)
	assert.Equal(t, 3, stub.calls)
}

func TestClassifyContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stub := &stubClassifier{errs: []error{context.Canceled}}
	c := &Classifier{Collaborator: stub}

	_, err := c.Classify(ctx, domain.CandidateItem{Content: "x"},
		[]domain.BaselineEntry{entry("e1", "a")})
	require.ErrorIs(t, err, context.Canceled)
}
