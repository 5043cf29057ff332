package generate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"specline/internal/events"
	"specline/internal/repo"
)

// Allocator assigns the permanent, strictly increasing per-project version to
// a document at finalization. The lease row write is the first statement of
// the transaction: it takes sqlite's exclusive write lock, so at most one
// finalize per database proceeds at a time and version computation plus the
// version write are a single critical section.
type Allocator struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Owner  string
	Now    func() time.Time
}

func (a Allocator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Finalize stamps version, title, content and terminal status on a document
// in one atomic unit and returns the assigned version. In-flight documents
// carry no version, so the max-version query never observes them; a project
// with no finalized documents yields version 1.
func (a Allocator) Finalize(ctx context.Context, documentID, projectID, title, content, status, actorID string) (int, error) {
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := a.now().UTC().Format(time.RFC3339)
	owner := a.Owner
	if owner == "" {
		owner = documentID
	}
	if err := a.Repo.TouchLeaseTx(ctx, tx, projectID, owner, now); err != nil {
		return 0, fmt.Errorf("acquire version lease: %w", err)
	}
	version, err := a.Repo.NextVersionTx(ctx, tx, projectID)
	if err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	if err := a.Repo.FinalizeDocumentTx(ctx, tx, documentID, version, title, content, status, now); err != nil {
		return 0, fmt.Errorf("finalize document: %w", err)
	}
	if err := a.Events.Append(ctx, tx, events.TypeDocumentFinalized, projectID, "document", documentID, actorID,
		events.EventPayload{"version": version, "status": status}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}
