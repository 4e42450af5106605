package repo

import (
	"context"
	"database/sql"

	"guardpost/internal/domain"
)

const notificationColumns = `id,alert_id,target_id,channel,dedup_key,subject,body,payload_json,status,attempts,max_attempts,next_attempt_at,lease_until,leased_by,last_error,is_simulated,created_at,delivered_at`

func scanNotification(row alertRow) (domain.Notification, error) {
	var n domain.Notification
	var payloadJSON, leaseUntil, leasedBy, lastError, deliveredAt sql.NullString
	err := row.Scan(&n.ID, &n.AlertID, &n.TargetID, &n.Channel, &n.DedupKey, &n.Subject, &n.Body, &payloadJSON,
		&n.Status, &n.Attempts, &n.MaxAttempts, &n.NextAttempt, &leaseUntil, &leasedBy, &lastError,
		&n.IsSimulated, &n.CreatedAt, &deliveredAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if err := unmarshalInto(payloadJSON, &n.Payload); err != nil {
		return n, err
	}
	if leaseUntil.Valid {
		n.LeaseUntil = &leaseUntil.String
	}
	if leasedBy.Valid {
		n.LeasedBy = &leasedBy.String
	}
	if lastError.Valid {
		n.LastError = &lastError.String
	}
	if deliveredAt.Valid {
		n.DeliveredAt = &deliveredAt.String
	}
	return n, nil
}

func (r Repo) InsertNotificationTx(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	payload, err := jsonOrNull(n.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO notifications(`+notificationColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.AlertID, n.TargetID, n.Channel, n.DedupKey, n.Subject, n.Body, payload,
		n.Status, n.Attempts, n.MaxAttempts, n.NextAttempt,
		nullableStringPtr(n.LeaseUntil), nullableStringPtr(n.LeasedBy), nullableStringPtr(n.LastError),
		boolToInt(n.IsSimulated), n.CreatedAt, nullableStringPtr(n.DeliveredAt))
	return err
}

// ClaimNotifications leases up to limit pending items that are due. An item
// is skipped while an earlier sibling for the same (alert, target) is still
// pending or leased, which keeps delivery ordered per recipient even with
// several workers. Claims are ordered by id; ids are ULIDs so this is
// creation order.
func (r Repo) ClaimNotifications(ctx context.Context, workerID, now, leaseUntil string, limit int) ([]domain.Notification, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications n
WHERE n.status='pending' AND n.next_attempt_at<=?
AND NOT EXISTS (
	SELECT 1 FROM notifications prior
	WHERE prior.alert_id=n.alert_id AND prior.target_id=n.target_id
	AND prior.id<n.id AND prior.status IN ('pending','leased')
)
ORDER BY n.id ASC LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	var claimed []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range claimed {
		res, err := tx.ExecContext(ctx, `UPDATE notifications SET status='leased', lease_until=?, leased_by=?
WHERE id=? AND status='pending'`, leaseUntil, workerID, claimed[i].ID)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrStaleVersion
		}
		claimed[i].Status = domain.NotificationLeased
		claimed[i].LeaseUntil = &leaseUntil
		claimed[i].LeasedBy = &workerID
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r Repo) MarkNotificationDelivered(ctx context.Context, id, at string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET status='delivered', delivered_at=?, lease_until=NULL, leased_by=NULL, last_error=NULL
WHERE id=?`, at, id)
	return err
}

func (r Repo) MarkNotificationRetry(ctx context.Context, id, nextAttempt, lastError string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET status='pending', attempts=attempts+1, next_attempt_at=?, lease_until=NULL, leased_by=NULL, last_error=?
WHERE id=?`, nextAttempt, lastError, id)
	return err
}

func (r Repo) MarkNotificationDead(ctx context.Context, id, lastError string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET status='dead', attempts=attempts+1, lease_until=NULL, leased_by=NULL, last_error=?
WHERE id=?`, lastError, id)
	return err
}

// ReleaseExpiredLeases returns crashed workers' items to the pending pool.
func (r Repo) ReleaseExpiredLeases(ctx context.Context, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET status='pending', lease_until=NULL, leased_by=NULL
WHERE status='leased' AND lease_until<?`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	return scanNotification(r.DB.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=?`, id))
}

func (r Repo) ListNotifications(ctx context.Context, alertID string) ([]domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE alert_id=? ORDER BY id ASC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// NotificationCounts returns queue depth by status.
func (r Repo) NotificationCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM notifications GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
