// Package classify decides how one candidate statement relates to the
// existing baseline entries of its category: duplicate, new, or a conflict
// needing human resolution. It is a pure decision function over its inputs
// and the text-classification collaborator; it writes nothing.
package classify

import (
	"context"
	"errors"
	"strings"
	"time"

	"specline/internal/domain"
	"specline/internal/llm"
)

// Outcome is the classifier's verdict for one candidate.
type Outcome string

const (
	OutcomeNew               Outcome = "new"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeSemanticDuplicate Outcome = "semantic_duplicate"
	OutcomeConflict          Outcome = "conflict"
)

// ManualReviewReason is attached to the defensive conflict outcome produced
// when the collaborator cannot be consulted or answers garbage.
const ManualReviewReason = "unable to automatically classify — requires manual review"

// Result carries the verdict, the baseline entry it was decided against (nil
// for new), and the collaborator's free-text reason.
type Result struct {
	Outcome Outcome
	Matched *domain.BaselineEntry
	Reason  string
}

// backoffBase is the starting delay between collaborator retries. Tests
// override it to avoid real sleeps.
var backoffBase = 500 * time.Millisecond

type Classifier struct {
	Collaborator llm.TextClassifier
	// MaxAttempts bounds collaborator calls per baseline entry. Zero means 3.
	MaxAttempts int
}

// Classify decides the outcome for candidate against the baseline entries of
// its category, in stored order. The only returned error is context
// cancellation; every collaborator failure degrades to a conflict outcome so
// no item is ever silently dropped.
func (c *Classifier) Classify(ctx context.Context, candidate domain.CandidateItem, entries []domain.BaselineEntry) (Result, error) {
	if len(entries) == 0 {
		return Result{Outcome: OutcomeNew, Reason: "no existing entries in category"}, nil
	}

	want := strings.TrimSpace(candidate.Content)
	for i := range entries {
		if strings.TrimSpace(entries[i].Content) == want {
			return Result{Outcome: OutcomeDuplicate, Matched: &entries[i], Reason: "identical content"}, nil
		}
	}

	for i := range entries {
		entry := &entries[i]
		verdict, err := c.classifyPair(ctx, entry.Content, candidate.Content)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{Outcome: OutcomeConflict, Matched: entry, Reason: ManualReviewReason}, nil
		}
		switch verdict.Classification {
		case llm.ClassNew:
			continue
		case llm.ClassDuplicate:
			return Result{Outcome: OutcomeSemanticDuplicate, Matched: entry, Reason: verdict.Reason}, nil
		case llm.ClassRefinement, llm.ClassContradiction:
			return Result{Outcome: OutcomeConflict, Matched: entry, Reason: verdict.Reason}, nil
		}
	}
	return Result{Outcome: OutcomeNew, Reason: "no conflicts with existing entries"}, nil
}

// classifyPair calls the collaborator with a bounded retry budget. Malformed
// responses are terminal on first sight; transient errors back off and retry.
func (c *Classifier) classifyPair(ctx context.Context, existing, candidate string) (llm.ClassifyResult, error) {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	req := llm.ClassifyRequest{ExistingContent: existing, CandidateContent: candidate}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := backoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return llm.ClassifyResult{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
		result, err := c.Collaborator.Classify(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		var respErr *llm.ResponseError
		if errors.As(err, &respErr) {
			return llm.ClassifyResult{}, err
		}
		if ctx.Err() != nil {
			return llm.ClassifyResult{}, ctx.Err()
		}
	}
	return llm.ClassifyResult{}, lastErr
}
