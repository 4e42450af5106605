package repo

import (
	"context"
	"database/sql"

	"guardpost/internal/domain"
)

func (r Repo) AuditHistory(ctx context.Context, alertID string) ([]domain.AuditEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,alert_id,action,actor_id,actor_type,from_status,to_status,details_json,ts
FROM audit_log WHERE alert_id=? ORDER BY id ASC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var actorID, fromStatus, toStatus, detailsJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.AlertID, &e.Action, &actorID, &e.ActorType, &fromStatus, &toStatus, &detailsJSON, &e.TS); err != nil {
			return nil, err
		}
		e.ActorID = actorID.String
		e.FromStatus = fromStatus.String
		e.ToStatus = toStatus.String
		if err := unmarshalInto(detailsJSON, &e.Details); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
