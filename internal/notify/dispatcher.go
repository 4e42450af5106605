// Package notify implements at-least-once notification delivery. Engine
// transactions enqueue rows; a worker pool leases due rows, calls the
// channel adapter, and retries with backoff until delivery or the retry
// budget runs out.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"guardpost/internal/config"
	"guardpost/internal/domain"
	"guardpost/internal/metrics"
	"guardpost/internal/repo"
)

const (
	claimBatch   = 20
	pollInterval = time.Second
)

type Dispatcher struct {
	Repo     repo.Repo
	Config   *config.Config
	Channels map[string]Channel
	Log      zerolog.Logger
	Now      func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) nowRFC3339() string {
	return d.now().UTC().Format(time.RFC3339)
}

// Enqueue persists notifications in their own short transaction. Ids are
// ULIDs, which gives the queue a stable creation order per recipient.
func (d *Dispatcher) Enqueue(ctx context.Context, items []domain.Notification) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := d.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := d.nowRFC3339()
	for _, n := range items {
		n.ID = ulid.Make().String()
		n.Status = domain.NotificationPending
		n.Attempts = 0
		n.MaxAttempts = d.Config.Notify.MaxAttempts
		n.NextAttempt = now
		n.CreatedAt = now
		if err := d.Repo.InsertNotificationTx(ctx, tx, n); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Run starts the worker pool and the lease reaper, blocking until the
// context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	workers := d.Config.Notify.Workers
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("notify-%d", i)
		go func() {
			defer wg.Done()
			d.workerLoop(ctx, workerID)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.reaperLoop(ctx)
	}()
	d.Log.Info().Int("workers", workers).Msg("notification dispatcher started")
	wg.Wait()
	d.Log.Info().Msg("notification dispatcher stopped")
}

func (d *Dispatcher) workerLoop(ctx context.Context, workerID string) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Drain(ctx, workerID); err != nil {
				d.Log.Error().Err(err).Str("worker", workerID).Msg("notification claim failed")
			}
		}
	}
}

func (d *Dispatcher) reaperLoop(ctx context.Context) {
	interval := time.Duration(d.Config.Notify.LeaseSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := d.Repo.ReleaseExpiredLeases(ctx, d.nowRFC3339())
			if err != nil {
				d.Log.Error().Err(err).Msg("lease reap failed")
				continue
			}
			if released > 0 {
				d.Log.Warn().Int64("released", released).Msg("expired notification leases released")
			}
		}
	}
}

// Drain claims and processes one batch of due notifications. Exposed so
// tests can pump the queue without running the pool.
func (d *Dispatcher) Drain(ctx context.Context, workerID string) (int, error) {
	leaseUntil := d.now().Add(time.Duration(d.Config.Notify.LeaseSeconds) * time.Second).UTC().Format(time.RFC3339)
	claimed, err := d.Repo.ClaimNotifications(ctx, workerID, d.nowRFC3339(), leaseUntil, claimBatch)
	if err != nil {
		return 0, err
	}
	for _, n := range claimed {
		d.deliver(ctx, n)
	}
	return len(claimed), nil
}

func (d *Dispatcher) deliver(ctx context.Context, n domain.Notification) {
	// Rehearsal traffic never touches an adapter.
	if n.IsSimulated {
		if err := d.Repo.MarkNotificationDelivered(ctx, n.ID, d.nowRFC3339()); err != nil {
			d.Log.Error().Err(err).Str("notification_id", n.ID).Msg("mark delivered failed")
		}
		return
	}

	ch, ok := d.Channels[n.Channel]
	if !ok {
		d.fail(ctx, n, fmt.Errorf("unknown channel %q", n.Channel))
		return
	}

	timeout := time.Duration(d.Config.Notify.SendTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	err := ch.Send(sendCtx, n)
	cancel()
	metrics.DeliveryDuration.WithLabelValues(n.Channel).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.NotificationsFailed.WithLabelValues(n.Channel).Inc()
		d.fail(ctx, n, err)
		return
	}
	metrics.NotificationsDelivered.WithLabelValues(n.Channel).Inc()
	if err := d.Repo.MarkNotificationDelivered(ctx, n.ID, d.nowRFC3339()); err != nil {
		d.Log.Error().Err(err).Str("notification_id", n.ID).Msg("mark delivered failed")
	}
}

func (d *Dispatcher) fail(ctx context.Context, n domain.Notification, sendErr error) {
	attempts := n.Attempts + 1
	if attempts < n.MaxAttempts {
		next := d.now().Add(d.Config.Backoff(attempts)).UTC().Format(time.RFC3339)
		d.Log.Warn().Err(sendErr).Str("notification_id", n.ID).
			Int("attempt", attempts).Str("next_attempt", next).Msg("delivery failed, will retry")
		if err := d.Repo.MarkNotificationRetry(ctx, n.ID, next, sendErr.Error()); err != nil {
			d.Log.Error().Err(err).Str("notification_id", n.ID).Msg("mark retry failed")
		}
		return
	}

	metrics.NotificationsDead.Inc()
	d.Log.Warn().Err(sendErr).Str("notification_id", n.ID).
		Str("target_id", n.TargetID).Msg("delivery permanently failed")
	if err := d.Repo.MarkNotificationDead(ctx, n.ID, sendErr.Error()); err != nil {
		d.Log.Error().Err(err).Str("notification_id", n.ID).Msg("mark dead failed")
		return
	}
	// Raise an operator notice, unless the dead item was itself a notice.
	if isNotice, _ := n.Payload["notice"].(bool); isNotice {
		return
	}
	notice := domain.Notification{
		AlertID:  n.AlertID,
		TargetID: "admins",
		Channel:  "log",
		DedupKey: fmt.Sprintf("%s:delivery_failed:%s", n.AlertID, n.ID),
		Subject:  "Notification delivery failed",
		Body: fmt.Sprintf("notification %s to %s via %s failed after %d attempts: %v",
			n.ID, n.TargetID, n.Channel, attempts, sendErr),
		Payload:     map[string]any{"alert_id": n.AlertID, "notice": true},
		IsSimulated: n.IsSimulated,
	}
	if err := d.Enqueue(ctx, []domain.Notification{notice}); err != nil {
		d.Log.Error().Err(err).Msg("delivery failure notice enqueue failed")
	}
}
