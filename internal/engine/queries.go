package engine

import (
	"context"
	"time"

	"guardpost/internal/domain"
	"guardpost/internal/repo"
)

func (e Engine) GetAlert(ctx context.Context, id string) (domain.Alert, error) {
	a, err := e.Repo.GetAlert(ctx, id)
	return a, mapErr(err)
}

func (e Engine) ListAlerts(ctx context.Context, f repo.AlertFilters) ([]domain.Alert, error) {
	return e.Repo.ListAlerts(ctx, f)
}

// History returns the alert's full audit trail, oldest first.
func (e Engine) History(ctx context.Context, alertID string) ([]domain.AuditEntry, error) {
	if _, err := e.Repo.GetAlert(ctx, alertID); err != nil {
		return nil, mapErr(err)
	}
	return e.Repo.AuditHistory(ctx, alertID)
}

func (e Engine) ListAssignments(ctx context.Context, alertID string) ([]domain.Assignment, error) {
	if _, err := e.Repo.GetAlert(ctx, alertID); err != nil {
		return nil, mapErr(err)
	}
	return e.Repo.ListAssignments(ctx, alertID)
}

// QueueStatus reports notification queue depth by status.
func (e Engine) QueueStatus(ctx context.Context) (map[string]int, error) {
	return e.Repo.NotificationCounts(ctx)
}

// Dashboard summarizes one responder's standing.
type Dashboard struct {
	Staff         domain.Staff   `json:"staff"`
	ActiveAlerts  []domain.Alert `json:"active_alerts"`
	ActiveCount   int            `json:"active_count"`
	ResolvedCount int            `json:"resolved_count"`
	CapacityUsed  float64        `json:"capacity_used"`
	AvgAckSeconds float64        `json:"avg_ack_seconds"`
}

// StaffDashboard returns a responder's active alerts and response stats.
func (e Engine) StaffDashboard(ctx context.Context, staffID string) (Dashboard, error) {
	s, err := e.Repo.GetStaff(ctx, staffID)
	if err != nil {
		return Dashboard{}, mapErr(err)
	}
	active, err := e.Repo.ListAlerts(ctx, repo.AlertFilters{
		Statuses:         []domain.Status{domain.StatusAssigned, domain.StatusAcknowledged, domain.StatusInvestigating},
		AssignedTo:       staffID,
		IncludeSimulated: s.IsSimulated,
	})
	if err != nil {
		return Dashboard{}, err
	}
	resolved, err := e.Repo.CountResolvedBy(ctx, staffID)
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{
		Staff:         s,
		ActiveAlerts:  active,
		ActiveCount:   len(active),
		ResolvedCount: resolved,
	}
	if s.MaxConcurrent > 0 {
		d.CapacityUsed = float64(len(active)) / float64(s.MaxConcurrent)
	}

	// Mean assignment-to-acknowledgment latency over current active alerts.
	var total time.Duration
	var n int
	for _, a := range active {
		if a.AssignedAt == nil || a.AcknowledgedAt == nil {
			continue
		}
		assigned, err1 := time.Parse(time.RFC3339, *a.AssignedAt)
		acked, err2 := time.Parse(time.RFC3339, *a.AcknowledgedAt)
		if err1 != nil || err2 != nil {
			continue
		}
		total += acked.Sub(assigned)
		n++
	}
	if n > 0 {
		d.AvgAckSeconds = total.Seconds() / float64(n)
	}
	return d, nil
}
