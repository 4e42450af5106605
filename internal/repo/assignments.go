package repo

import (
	"context"
	"database/sql"

	"guardpost/internal/domain"
)

const assignmentColumns = `id,alert_id,staff_id,reason,score,proximity_score,workload_score,skill_score,is_active,is_backup,assigned_at,superseded_at,superseded_by`

func scanAssignment(row alertRow) (domain.Assignment, error) {
	var a domain.Assignment
	var reason, supersededAt, supersededBy sql.NullString
	err := row.Scan(&a.ID, &a.AlertID, &a.StaffID, &reason, &a.Score, &a.ProximityScore, &a.WorkloadScore, &a.SkillScore,
		&a.IsActive, &a.IsBackup, &a.AssignedAt, &supersededAt, &supersededBy)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Reason = reason.String
	if supersededAt.Valid {
		a.SupersededAt = &supersededAt.String
	}
	if supersededBy.Valid {
		a.SupersededBy = &supersededBy.String
	}
	return a, nil
}

func (r Repo) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignments(`+assignmentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.AlertID, a.StaffID, nullable(a.Reason), a.Score, a.ProximityScore, a.WorkloadScore, a.SkillScore,
		boolToInt(a.IsActive), boolToInt(a.IsBackup), a.AssignedAt,
		nullableStringPtr(a.SupersededAt), nullableStringPtr(a.SupersededBy))
	return err
}

// SupersedeActiveTx closes every active assignment record on an alert,
// recording who displaced them.
func (r Repo) SupersedeActiveTx(ctx context.Context, tx *sql.Tx, alertID, supersededBy, at string) error {
	_, err := tx.ExecContext(ctx, `UPDATE assignments SET is_active=0, superseded_at=?, superseded_by=?
WHERE alert_id=? AND is_active=1`, at, nullable(supersededBy), alertID)
	return err
}

func (r Repo) ListAssignments(ctx context.Context, alertID string) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE alert_id=? ORDER BY assigned_at ASC, id ASC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ActiveAssignment returns the current primary assignment for an alert.
func (r Repo) ActiveAssignment(ctx context.Context, alertID string) (domain.Assignment, error) {
	return scanAssignment(r.DB.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE alert_id=? AND is_active=1 AND is_backup=0 LIMIT 1`, alertID))
}
