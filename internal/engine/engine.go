// Package engine orchestrates the alert lifecycle: every state change runs
// in one transaction together with its assignment, timer, and audit writes.
// Notifications are enqueued after commit so a queue problem never rolls
// back a transition.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"guardpost/internal/assign"
	"guardpost/internal/audit"
	"guardpost/internal/config"
	"guardpost/internal/domain"
	"guardpost/internal/metrics"
	"guardpost/internal/repo"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict: alert changed concurrently")
	ErrValidation  = errors.New("validation failed")
	ErrForbidden   = errors.New("forbidden")
	ErrNoCandidate = assign.ErrNoCandidate
)

// Notifier enqueues notification work decoupled from delivery.
type Notifier interface {
	Enqueue(ctx context.Context, items []domain.Notification) error
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Assign assign.Engine
	Notify Notifier
	Config *config.Config
	Log    zerolog.Logger
	Now    func() time.Time
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// mapErr translates storage sentinels into the engine's public errors.
func mapErr(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	}
	if errors.Is(err, repo.ErrStaleVersion) {
		metrics.AssignmentConflicts.Inc()
		return ErrConflict
	}
	return err
}

// enqueue hands notifications to the dispatcher. Called after commit; a
// failure here is logged, not returned, because the transition already
// happened.
func (e Engine) enqueue(ctx context.Context, items []domain.Notification) {
	if e.Notify == nil || len(items) == 0 {
		return
	}
	if err := e.Notify.Enqueue(ctx, items); err != nil {
		e.Log.Error().Err(err).Int("count", len(items)).Msg("notification enqueue failed")
	}
}

// armAckTimer arms the acknowledgment deadline, anchored at assigned_at.
func (e Engine) armAckTimer(ctx context.Context, tx *sql.Tx, a domain.Alert) error {
	assignedAt, err := time.Parse(time.RFC3339, *a.AssignedAt)
	if err != nil {
		return err
	}
	return e.Repo.ArmTimerTx(ctx, tx, domain.EscalationTimer{
		AlertID:      a.ID,
		AlertVersion: a.Version,
		Deadline:     assignedAt.Add(e.Config.AckDeadline()).UTC().Format(time.RFC3339),
		Reason:       domain.ReasonNoAcknowledgment,
		CreatedAt:    e.nowRFC3339(),
	})
}

// armResolutionTimer arms the resolution deadline, anchored at
// acknowledged_at so re-arming after a version bump keeps the same deadline.
func (e Engine) armResolutionTimer(ctx context.Context, tx *sql.Tx, a domain.Alert) error {
	ackedAt, err := time.Parse(time.RFC3339, *a.AcknowledgedAt)
	if err != nil {
		return err
	}
	return e.Repo.ArmTimerTx(ctx, tx, domain.EscalationTimer{
		AlertID:      a.ID,
		AlertVersion: a.Version,
		Deadline:     ackedAt.Add(e.Config.ResolutionDeadline(a.Severity)).UTC().Format(time.RFC3339),
		Reason:       domain.ReasonNoResolution,
		CreatedAt:    e.nowRFC3339(),
	})
}

// rearmTimers arms whichever deadline applies to the alert's current status.
// Needed after any update that bumps the version while a timer is armed.
func (e Engine) rearmTimers(ctx context.Context, tx *sql.Tx, a domain.Alert) error {
	switch a.Status {
	case domain.StatusAssigned:
		return e.armAckTimer(ctx, tx, a)
	case domain.StatusAcknowledged, domain.StatusInvestigating:
		return e.armResolutionTimer(ctx, tx, a)
	}
	return e.Repo.CancelTimersTx(ctx, tx, a.ID)
}

// staffNotifications builds one notification per contact channel for a
// responder. Staff without channels get the log channel.
func staffNotifications(a domain.Alert, s domain.Staff, action, subject, body string) []domain.Notification {
	channels := s.ContactChannels
	if len(channels) == 0 {
		channels = []string{"log"}
	}
	items := make([]domain.Notification, 0, len(channels))
	for _, ch := range channels {
		items = append(items, domain.Notification{
			AlertID:     a.ID,
			TargetID:    s.ID,
			Channel:     ch,
			DedupKey:    fmt.Sprintf("%s:%s:%s", a.ID, action, s.ID),
			Subject:     subject,
			Body:        body,
			Payload: map[string]any{
				"alert_id": a.ID,
				"severity": string(a.Severity),
				"status":   string(a.Status),
				"zone_id":  a.Location.ZoneID,
				"action":   action,
			},
			IsSimulated: a.IsSimulated,
		})
	}
	return items
}

// adminNotice builds a log-channel notice for operators. The payload flag
// keeps the dispatcher from raising a delivery-failure notice about a
// notice.
func adminNotice(a domain.Alert, action, subject, body string) domain.Notification {
	return domain.Notification{
		AlertID:  a.ID,
		TargetID: "admins",
		Channel:  "log",
		DedupKey: fmt.Sprintf("%s:%s", a.ID, action),
		Subject:  subject,
		Body:     body,
		Payload: map[string]any{
			"alert_id": a.ID,
			"severity": string(a.Severity),
			"action":   action,
			"notice":   true,
		},
		IsSimulated: a.IsSimulated,
	}
}
