package repo

import (
	"context"
	"database/sql"

	"specline/internal/domain"
)

func (r Repo) InsertDecisionTx(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO decisions(id,meeting_id,candidate_item_id,kind,matched_entry_id,merged_text,reason,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, d.MeetingID, d.CandidateItemID, string(d.Kind), nullableStringPtr(d.MatchedEntryID), nullableStringPtr(d.MergedText), nullable(d.Reason), d.CreatedAt)
	return err
}

func scanDecision(scan func(dest ...any) error) (domain.Decision, error) {
	var d domain.Decision
	var kind string
	var matched, merged, reason sql.NullString
	err := scan(&d.ID, &d.MeetingID, &d.CandidateItemID, &kind, &matched, &merged, &reason, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Kind = domain.DecisionKind(kind)
	if matched.Valid {
		v := matched.String
		d.MatchedEntryID = &v
	}
	if merged.Valid {
		v := merged.String
		d.MergedText = &v
	}
	d.Reason = reason.String
	return d, nil
}

const decisionColumns = `id,meeting_id,candidate_item_id,kind,matched_entry_id,merged_text,reason,created_at`

func (r Repo) ListDecisions(ctx context.Context, meetingID string) ([]domain.Decision, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE meeting_id=? ORDER BY created_at, id`, meetingID)
	if err != nil {
		return nil, err
	}
	return collectDecisions(rows)
}

func (r Repo) ListDecisionsTx(ctx context.Context, tx *sql.Tx, meetingID string) ([]domain.Decision, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE meeting_id=? ORDER BY created_at, id`, meetingID)
	if err != nil {
		return nil, err
	}
	return collectDecisions(rows)
}

func collectDecisions(rows *sql.Rows) ([]domain.Decision, error) {
	defer rows.Close()
	var res []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// DeleteDecisionsTx clears stored decisions for a meeting so a review pass can
// be re-run before resolution.
func (r Repo) DeleteDecisionsTx(ctx context.Context, tx *sql.Tx, meetingID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM decisions WHERE meeting_id=?`, meetingID)
	return err
}
