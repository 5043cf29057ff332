package repo

import (
	"context"
	"database/sql"

	"specline/internal/domain"
)

const baselineColumns = `id,project_id,category,content,display_order,active,created_at,updated_at`

func scanBaselineEntry(scan func(dest ...any) error) (domain.BaselineEntry, error) {
	var e domain.BaselineEntry
	var active int
	err := scan(&e.ID, &e.ProjectID, &e.Category, &e.Content, &e.DisplayOrder, &active, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.Active = active != 0
	return e, nil
}

func collectBaselineEntries(rows *sql.Rows) ([]domain.BaselineEntry, error) {
	defer rows.Close()
	var res []domain.BaselineEntry
	for rows.Next() {
		e, err := scanBaselineEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) InsertBaselineEntryTx(ctx context.Context, tx *sql.Tx, e domain.BaselineEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO baseline_entries(`+baselineColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.Category, e.Content, e.DisplayOrder, boolToInt(e.Active), e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) GetBaselineEntry(ctx context.Context, id string) (domain.BaselineEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+baselineColumns+` FROM baseline_entries WHERE id=?`, id)
	return scanBaselineEntry(row.Scan)
}

func (r Repo) GetBaselineEntryTx(ctx context.Context, tx *sql.Tx, id string) (domain.BaselineEntry, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+baselineColumns+` FROM baseline_entries WHERE id=?`, id)
	return scanBaselineEntry(row.Scan)
}

// ListBaselineEntries returns entries for a project ordered by category then
// display order. Pass activeOnly=false to include deactivated entries.
func (r Repo) ListBaselineEntries(ctx context.Context, projectID string, activeOnly bool) ([]domain.BaselineEntry, error) {
	q := `SELECT ` + baselineColumns + ` FROM baseline_entries WHERE project_id=?`
	if activeOnly {
		q += ` AND active=1`
	}
	q += ` ORDER BY category, display_order`
	rows, err := r.DB.QueryContext(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	return collectBaselineEntries(rows)
}

func (r Repo) ListBaselineByCategory(ctx context.Context, projectID, category string) ([]domain.BaselineEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+baselineColumns+` FROM baseline_entries WHERE project_id=? AND category=? AND active=1 ORDER BY display_order`, projectID, category)
	if err != nil {
		return nil, err
	}
	return collectBaselineEntries(rows)
}

func (r Repo) ListBaselineByCategoryTx(ctx context.Context, tx *sql.Tx, projectID, category string) ([]domain.BaselineEntry, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+baselineColumns+` FROM baseline_entries WHERE project_id=? AND category=? AND active=1 ORDER BY display_order`, projectID, category)
	if err != nil {
		return nil, err
	}
	return collectBaselineEntries(rows)
}

// MaxDisplayOrderTx returns the highest display order in a category, active or
// not, so reactivated entries never collide with later additions.
func (r Repo) MaxDisplayOrderTx(ctx context.Context, tx *sql.Tx, projectID, category string) (int, error) {
	var maxOrder int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(display_order),0) FROM baseline_entries WHERE project_id=? AND category=?`, projectID, category).Scan(&maxOrder)
	return maxOrder, err
}

func (r Repo) UpdateBaselineContentTx(ctx context.Context, tx *sql.Tx, id, content, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE baseline_entries SET content=?, updated_at=? WHERE id=?`, content, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetBaselineActiveTx(ctx context.Context, tx *sql.Tx, id string, active bool, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE baseline_entries SET active=?, updated_at=? WHERE id=?`, boolToInt(active), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountActiveBaselineEntries(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM baseline_entries WHERE project_id=? AND active=1`, projectID).Scan(&n)
	return n, err
}

func (r Repo) InsertProvenanceTx(ctx context.Context, tx *sql.Tx, p domain.ProvenanceRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO provenance_records(id,entry_id,meeting_id,candidate_item_id,quote,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.EntryID, p.MeetingID, p.CandidateItemID, nullable(p.Quote), p.CreatedAt)
	return err
}

func (r Repo) ListProvenance(ctx context.Context, entryID string) ([]domain.ProvenanceRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,entry_id,meeting_id,candidate_item_id,quote,created_at FROM provenance_records WHERE entry_id=? ORDER BY created_at, id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProvenanceRecord
	for rows.Next() {
		var p domain.ProvenanceRecord
		var quote sql.NullString
		if err := rows.Scan(&p.ID, &p.EntryID, &p.MeetingID, &p.CandidateItemID, &quote, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Quote = quote.String
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) AppendHistoryTx(ctx context.Context, tx *sql.Tx, h domain.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO history_entries(entry_id,actor,action,old_content,new_content,created_at) VALUES (?,?,?,?,?,?)`,
		h.EntryID, h.Actor, h.Action, nullable(h.OldContent), nullable(h.NewContent), h.CreatedAt)
	return err
}

func (r Repo) ListHistory(ctx context.Context, entryID string) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,entry_id,actor,action,old_content,new_content,created_at FROM history_entries WHERE entry_id=? ORDER BY id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		var oldContent, newContent sql.NullString
		if err := rows.Scan(&h.ID, &h.EntryID, &h.Actor, &h.Action, &oldContent, &newContent, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.OldContent = oldContent.String
		h.NewContent = newContent.String
		res = append(res, h)
	}
	return res, rows.Err()
}
