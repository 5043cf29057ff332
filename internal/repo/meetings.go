package repo

import (
	"context"
	"database/sql"

	"specline/internal/domain"
)

func (r Repo) InsertMeetingTx(ctx context.Context, tx *sql.Tx, m domain.Meeting) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO meetings(id,project_id,title,status,occurred_at,created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.Title, m.Status, nullable(m.OccurredAt), m.CreatedAt)
	return err
}

func scanMeeting(scan func(dest ...any) error) (domain.Meeting, error) {
	var m domain.Meeting
	var occurredAt sql.NullString
	err := scan(&m.ID, &m.ProjectID, &m.Title, &m.Status, &occurredAt, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.OccurredAt = occurredAt.String
	return m, nil
}

func (r Repo) GetMeeting(ctx context.Context, id string) (domain.Meeting, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,project_id,title,status,occurred_at,created_at FROM meetings WHERE id=?`, id)
	return scanMeeting(row.Scan)
}

func (r Repo) GetMeetingTx(ctx context.Context, tx *sql.Tx, id string) (domain.Meeting, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,project_id,title,status,occurred_at,created_at FROM meetings WHERE id=?`, id)
	return scanMeeting(row.Scan)
}

func (r Repo) ListMeetings(ctx context.Context, projectID string) ([]domain.Meeting, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,title,status,occurred_at,created_at FROM meetings WHERE project_id=? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) UpdateMeetingStatusTx(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE meetings SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateMeetingStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE meetings SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountUnresolvedMeetings(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM meetings WHERE project_id=? AND status IN (?,?)`,
		projectID, domain.MeetingPending, domain.MeetingAwaitingResolution).Scan(&n)
	return n, err
}

func (r Repo) InsertCandidateItemTx(ctx context.Context, tx *sql.Tx, c domain.CandidateItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO candidate_items(id,meeting_id,category,content,source_quote,active,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.MeetingID, c.Category, c.Content, nullable(c.SourceQuote), boolToInt(c.Active), c.CreatedAt)
	return err
}

func scanCandidate(scan func(dest ...any) error) (domain.CandidateItem, error) {
	var c domain.CandidateItem
	var quote sql.NullString
	var active int
	err := scan(&c.ID, &c.MeetingID, &c.Category, &c.Content, &quote, &active, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.SourceQuote = quote.String
	c.Active = active != 0
	return c, nil
}

func (r Repo) GetCandidateItem(ctx context.Context, id string) (domain.CandidateItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,meeting_id,category,content,source_quote,active,created_at FROM candidate_items WHERE id=?`, id)
	return scanCandidate(row.Scan)
}

const candidateColumns = `id,meeting_id,category,content,source_quote,active,created_at`

func collectCandidates(rows *sql.Rows) ([]domain.CandidateItem, error) {
	defer rows.Close()
	var res []domain.CandidateItem
	for rows.Next() {
		c, err := scanCandidate(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListCandidateItems returns a meeting's candidates in import order, which is
// the order the classifier and resolver must honor.
func (r Repo) ListCandidateItems(ctx context.Context, meetingID string) ([]domain.CandidateItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+candidateColumns+` FROM candidate_items WHERE meeting_id=? ORDER BY created_at, id`, meetingID)
	if err != nil {
		return nil, err
	}
	return collectCandidates(rows)
}

func (r Repo) ListCandidateItemsTx(ctx context.Context, tx *sql.Tx, meetingID string) ([]domain.CandidateItem, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+candidateColumns+` FROM candidate_items WHERE meeting_id=? ORDER BY created_at, id`, meetingID)
	if err != nil {
		return nil, err
	}
	return collectCandidates(rows)
}
