package repo

import (
	"context"
	"database/sql"

	"specline/internal/domain"
)

// ListEvents returns the audit log for a project, most recent last. limit<=0
// means no limit.
func (r Repo) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	q := `SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE project_id=? ORDER BY id`
	args := []any{projectID}
	if limit > 0 {
		q = `SELECT * FROM (SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE project_id=? ORDER BY id DESC LIMIT ?) ORDER BY id`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.ProjectID = projID.String
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}
