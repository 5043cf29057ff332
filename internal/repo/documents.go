package repo

import (
	"context"
	"database/sql"

	"specline/internal/domain"
)

const documentColumns = `id,project_id,version,mode,title,content,status,current_stage,sections_completed,sections_total,archived,created_at,updated_at`

func scanDocument(scan func(dest ...any) error) (domain.Document, error) {
	var d domain.Document
	var version sql.NullInt64
	var title, content sql.NullString
	var archived int
	err := scan(&d.ID, &d.ProjectID, &version, &d.Mode, &title, &content, &d.Status,
		&d.CurrentStage, &d.SectionsCompleted, &d.SectionsTotal, &archived, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if version.Valid {
		v := int(version.Int64)
		d.Version = &v
	}
	d.Title = title.String
	d.Content = content.String
	d.Archived = archived != 0
	return d, nil
}

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(id,project_id,version,mode,title,content,status,current_stage,sections_completed,sections_total,archived,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, versionArg(d.Version), d.Mode, nullable(d.Title), nullable(d.Content), d.Status,
		d.CurrentStage, d.SectionsCompleted, d.SectionsTotal, boolToInt(d.Archived), d.CreatedAt, d.UpdatedAt)
	return err
}

func versionArg(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

func (r Repo) GetDocumentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

// ListDocuments returns a project's documents, newest first. Versioned
// documents sort ahead of in-flight ones, which carry no version yet.
func (r Repo) ListDocuments(ctx context.Context, projectID string, includeArchived bool) ([]domain.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE project_id=?`
	if !includeArchived {
		q += ` AND archived=0`
	}
	q += ` ORDER BY version IS NULL, version DESC, created_at DESC`
	rows, err := r.DB.QueryContext(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpdateDocumentStatus(ctx context.Context, id, status, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE documents SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateDocumentStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE documents SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateDocumentProgress(ctx context.Context, id string, stage, completed int, updatedAt string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE documents SET current_stage=?, sections_completed=?, updated_at=? WHERE id=?`,
		stage, completed, updatedAt, id)
	return err
}

func (r Repo) SetDocumentArchivedTx(ctx context.Context, tx *sql.Tx, id string, archived bool, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE documents SET archived=?, status=?, updated_at=? WHERE id=?`,
		boolToInt(archived), status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinalizeDocumentTx stamps the allocated version, title, assembled content
// and terminal status in one statement inside the caller's transaction.
func (r Repo) FinalizeDocumentTx(ctx context.Context, tx *sql.Tx, id string, version int, title, content, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE documents SET version=?, title=?, content=?, status=?, updated_at=? WHERE id=?`,
		version, title, nullable(content), status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// NextVersionTx computes the next version number over finalized documents
// only. Callers must hold the project lease within the same transaction.
func (r Repo) NextVersionTx(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version),0)+1 FROM documents WHERE project_id=? AND version IS NOT NULL`, projectID).Scan(&next)
	return next, err
}

func (r Repo) CountFinalizedDocuments(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE project_id=? AND version IS NOT NULL AND archived=0`, projectID).Scan(&n)
	return n, err
}

// TouchLeaseTx upserts the project lease row as the first write of a
// finalization transaction. The write takes sqlite's exclusive lock, so
// concurrent finalizers for any project queue behind busy_timeout.
func (r Repo) TouchLeaseTx(ctx context.Context, tx *sql.Tx, projectID, owner, acquiredAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_leases(project_id,owner,acquired_at) VALUES (?,?,?)
ON CONFLICT(project_id) DO UPDATE SET owner=excluded.owner, acquired_at=excluded.acquired_at`, projectID, owner, acquiredAt)
	return err
}

// UpsertSection writes one section row. tx may be nil, in which case the
// write goes straight to the database; mid-run section persistence is
// intentionally outside any transaction so progress survives a crash.
func (r Repo) UpsertSection(ctx context.Context, tx *sql.Tx, documentID string, s domain.Section) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO document_sections(document_id,section_id,title,content,display_order,status,error,generated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(document_id,section_id) DO UPDATE SET title=excluded.title, content=excluded.content, display_order=excluded.display_order,
status=excluded.status, error=excluded.error, generated_at=excluded.generated_at`,
		documentID, s.ID, s.Title, nullable(s.Content), s.Order, s.Status, nullable(s.Error), nullable(s.GeneratedAt))
	return err
}

// UpdateDocumentContentTx rewrites assembled content and status without
// touching the version, used after single-section regeneration.
func (r Repo) UpdateDocumentContentTx(ctx context.Context, tx *sql.Tx, id, content, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE documents SET content=?, status=?, updated_at=? WHERE id=?`,
		nullable(content), status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListSections(ctx context.Context, documentID string) ([]domain.Section, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT section_id,title,content,display_order,status,error,generated_at FROM document_sections WHERE document_id=? ORDER BY display_order`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Section
	for rows.Next() {
		var s domain.Section
		var content, errMsg, generatedAt sql.NullString
		if err := rows.Scan(&s.ID, &s.Title, &content, &s.Order, &s.Status, &errMsg, &generatedAt); err != nil {
			return nil, err
		}
		s.Content = content.String
		s.Error = errMsg.String
		s.GeneratedAt = generatedAt.String
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) GetSection(ctx context.Context, documentID, sectionID string) (domain.Section, error) {
	var s domain.Section
	var content, errMsg, generatedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT section_id,title,content,display_order,status,error,generated_at FROM document_sections WHERE document_id=? AND section_id=?`,
		documentID, sectionID).Scan(&s.ID, &s.Title, &content, &s.Order, &s.Status, &errMsg, &generatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Content = content.String
	s.Error = errMsg.String
	s.GeneratedAt = generatedAt.String
	return s, nil
}
