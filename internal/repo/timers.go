package repo

import (
	"context"
	"database/sql"

	"guardpost/internal/domain"
)

const timerColumns = `id,alert_id,alert_version,deadline,reason,status,created_at,fired_at`

func scanTimer(row alertRow) (domain.EscalationTimer, error) {
	var t domain.EscalationTimer
	var firedAt sql.NullString
	err := row.Scan(&t.ID, &t.AlertID, &t.AlertVersion, &t.Deadline, &t.Reason, &t.Status, &t.CreatedAt, &firedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if firedAt.Valid {
		t.FiredAt = &firedAt.String
	}
	return t, nil
}

// ArmTimerTx cancels any armed timer on the alert and arms a new one.
// One armed timer per alert at most.
func (r Repo) ArmTimerTx(ctx context.Context, tx *sql.Tx, t domain.EscalationTimer) error {
	if _, err := tx.ExecContext(ctx, `UPDATE escalation_timers SET status='cancelled' WHERE alert_id=? AND status='armed'`, t.AlertID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO escalation_timers(alert_id,alert_version,deadline,reason,status,created_at)
VALUES (?,?,?,?,'armed',?)`, t.AlertID, t.AlertVersion, t.Deadline, t.Reason, t.CreatedAt)
	return err
}

// CancelTimersTx cancels all armed timers on an alert.
func (r Repo) CancelTimersTx(ctx context.Context, tx *sql.Tx, alertID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE escalation_timers SET status='cancelled' WHERE alert_id=? AND status='armed'`, alertID)
	return err
}

// DueTimers returns armed timers whose deadline has passed.
func (r Repo) DueTimers(ctx context.Context, now string, limit int) ([]domain.EscalationTimer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+timerColumns+` FROM escalation_timers
WHERE status='armed' AND deadline<=? ORDER BY deadline ASC, id ASC LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EscalationTimer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// MarkTimerFiredTx flips an armed timer to fired; zero rows means another
// scheduler pass claimed it first.
func (r Repo) MarkTimerFiredTx(ctx context.Context, tx *sql.Tx, id int64, at string) error {
	res, err := tx.ExecContext(ctx, `UPDATE escalation_timers SET status='fired', fired_at=? WHERE id=? AND status='armed'`, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleVersion
	}
	return nil
}

// MarkTimerCancelled records that a fire was discarded as stale.
func (r Repo) MarkTimerCancelled(ctx context.Context, id int64) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE escalation_timers SET status='cancelled' WHERE id=? AND status='armed'`, id)
	return err
}

// ArmedTimer returns the armed timer for an alert, if any.
func (r Repo) ArmedTimer(ctx context.Context, alertID string) (domain.EscalationTimer, error) {
	return scanTimer(r.DB.QueryRowContext(ctx, `SELECT `+timerColumns+` FROM escalation_timers
WHERE alert_id=? AND status='armed' LIMIT 1`, alertID))
}
