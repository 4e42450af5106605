package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"guardpost/internal/assign"
	"guardpost/internal/domain"
	"guardpost/internal/lifecycle"
	"guardpost/internal/metrics"
	"guardpost/internal/repo"
)

// alertNamespace makes alert ids deterministic per anomaly, which is what
// lets replayed anomaly events land on the same row.
var alertNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("guardpost/alerts"))

type AlertCreateOptions struct {
	AnomalyID        string
	AnomalyType      string
	Title            string
	Description      string
	Severity         domain.Severity
	Location         domain.Location
	AffectedEntities []string
	DataSources      []string
	Evidence         map[string]any
	IsSimulated      bool
	Scenario         string
	ActorID          string
	ActorType        domain.ActorType
}

func validSeverity(s domain.Severity) bool {
	switch s {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
		return true
	}
	return false
}

// CreateAlert creates an alert in status created. Idempotent on anomaly_id:
// replaying the same anomaly returns the existing alert untouched.
func (e Engine) CreateAlert(ctx context.Context, opts AlertCreateOptions) (domain.Alert, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Alert{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if !validSeverity(opts.Severity) {
		return domain.Alert{}, fmt.Errorf("%w: unknown severity %q", ErrValidation, opts.Severity)
	}
	if opts.Location.ZoneID == "" {
		return domain.Alert{}, fmt.Errorf("%w: location zone_id is required", ErrValidation)
	}

	if opts.AnomalyID != "" {
		existing, err := e.Repo.GetAlertByAnomalyID(ctx, opts.AnomalyID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.Alert{}, err
		}
	}

	now := e.nowRFC3339()
	a := domain.Alert{
		ID:               uuid.NewString(),
		AnomalyID:        opts.AnomalyID,
		AnomalyType:      opts.AnomalyType,
		Title:            opts.Title,
		Description:      opts.Description,
		Severity:         opts.Severity,
		Status:           domain.StatusCreated,
		Version:          1,
		Location:         opts.Location,
		AffectedEntities: opts.AffectedEntities,
		DataSources:      opts.DataSources,
		Evidence:         opts.Evidence,
		IsSimulated:      opts.IsSimulated,
		Scenario:         opts.Scenario,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if opts.AnomalyID != "" {
		a.ID = uuid.NewSHA1(alertNamespace, []byte(opts.AnomalyID)).String()
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Alert{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertAlertTx(ctx, tx, a); err != nil {
		// A concurrent ingest of the same anomaly wins the unique index.
		if opts.AnomalyID != "" {
			if existing, lookupErr := e.Repo.GetAlertByAnomalyID(ctx, opts.AnomalyID); lookupErr == nil {
				return existing, nil
			}
		}
		return domain.Alert{}, err
	}
	if _, err := e.Audit.Append(ctx, tx, domain.AuditEntry{
		AlertID:   a.ID,
		Action:    "alert.created",
		ActorID:   opts.ActorID,
		ActorType: opts.ActorType,
		ToStatus:  string(domain.StatusCreated),
		Details: map[string]any{
			"anomaly_id": opts.AnomalyID,
			"severity":   string(opts.Severity),
			"zone_id":    opts.Location.ZoneID,
		},
	}); err != nil {
		return domain.Alert{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Alert{}, err
	}
	metrics.AlertsCreated.Inc()
	e.Log.Info().Str("alert_id", a.ID).Str("severity", string(a.Severity)).Msg("alert created")
	return a, nil
}

// Ingest turns an anomaly event into an alert and auto-assigns it. When no
// responder is eligible the alert stays in created and an admin notice is
// queued; ingestion itself never fails for lack of responders.
func (e Engine) Ingest(ctx context.Context, ev domain.AnomalyEvent, simulated bool, scenario string) (domain.Alert, error) {
	if ev.AnomalyID == "" {
		return domain.Alert{}, fmt.Errorf("%w: anomaly_id is required", ErrValidation)
	}
	title := fmt.Sprintf("%s in %s", strings.ReplaceAll(ev.Type, "_", " "), ev.ZoneID)
	loc := domain.Location{ZoneID: ev.ZoneID, Coordinates: ev.Coordinates}
	a, err := e.CreateAlert(ctx, AlertCreateOptions{
		AnomalyID:        ev.AnomalyID,
		AnomalyType:      ev.Type,
		Title:            title,
		Description:      fmt.Sprintf("anomaly %s detected with confidence %.2f", ev.AnomalyID, ev.Confidence),
		Severity:         ev.Severity,
		Location:         loc,
		AffectedEntities: ev.AffectedEntityIDs,
		DataSources:      ev.DataSources,
		Evidence:         ev.Evidence,
		IsSimulated:      simulated,
		Scenario:         scenario,
		ActorType:        domain.ActorSystem,
	})
	if err != nil {
		return domain.Alert{}, err
	}
	if a.Status != domain.StatusCreated {
		// Replayed anomaly, alert already moving through its lifecycle.
		return a, nil
	}

	assigned, err := e.AssignAlert(ctx, AssignOptions{AlertID: a.ID, ActorType: domain.ActorSystem})
	if err == nil {
		return assigned, nil
	}
	if errors.Is(err, ErrNoCandidate) {
		e.Log.Warn().Str("alert_id", a.ID).Msg("no eligible responder, alert left unassigned")
		e.enqueue(ctx, []domain.Notification{adminNotice(a, "unassigned",
			"Alert has no eligible responder",
			fmt.Sprintf("alert %s (%s) could not be assigned: no eligible responder on duty", a.ID, a.Severity))})
		return a, nil
	}
	if errors.Is(err, ErrConflict) {
		fresh, gerr := e.Repo.GetAlert(ctx, a.ID)
		if gerr != nil {
			return domain.Alert{}, mapErr(gerr)
		}
		return fresh, nil
	}
	return domain.Alert{}, err
}

type AssignOptions struct {
	AlertID string
	// StaffID forces a specific responder; empty means score the pool.
	StaffID string
	// ExcludeIDs removes responders from the auto-selection pool.
	ExcludeIDs []string
	// Roles restricts the auto-selection pool.
	Roles     []domain.Role
	Reason    string
	ActorID   string
	ActorType domain.ActorType
}

// AssignAlert moves an alert to assigned, picking the responder by score
// unless one is forced. Critical alerts fan out to backup responders who
// get assignment records and notifications without taking the workload.
func (e Engine) AssignAlert(ctx context.Context, opts AssignOptions) (domain.Alert, error) {
	a, err := e.Repo.GetAlert(ctx, opts.AlertID)
	if err != nil {
		return domain.Alert{}, mapErr(err)
	}
	if err := lifecycle.Validate(a.Status, domain.StatusAssigned); err != nil {
		return domain.Alert{}, err
	}

	if opts.StaffID != "" {
		return e.assignForced(ctx, a, opts)
	}
	return e.assignAuto(ctx, a, opts)
}

func (e Engine) assignForced(ctx context.Context, a domain.Alert, opts AssignOptions) (domain.Alert, error) {
	s, err := e.Repo.GetStaff(ctx, opts.StaffID)
	if err != nil {
		return domain.Alert{}, mapErr(err)
	}
	if !s.OnDuty {
		return domain.Alert{}, fmt.Errorf("%w: %s is not on duty", ErrValidation, s.ID)
	}
	reason := opts.Reason
	if reason == "" {
		reason = "manual"
	}
	return e.commitAssignment(ctx, a, primaryPick{Staff: s, Reason: reason}, nil, opts)
}

func (e Engine) assignAuto(ctx context.Context, a domain.Alert, opts AssignOptions) (domain.Alert, error) {
	candidates, err := e.Assign.Select(ctx, a, assign.Options{
		Roles:      opts.Roles,
		ExcludeIDs: opts.ExcludeIDs,
		Simulated:  a.IsSimulated,
	})
	if err != nil {
		return domain.Alert{}, err
	}

	var backups []primaryPick
	if a.Severity == domain.SeverityCritical && len(candidates) > 1 {
		n := e.Config.Scoring.CriticalFanout
		if n > len(candidates) {
			n = len(candidates)
		}
		for _, c := range candidates[1:n] {
			backups = append(backups, pickFromCandidate(c, "backup"))
		}
	}

	// Try candidates best first; the capacity re-check inside the
	// transaction loses races to concurrent assignments, in which case the
	// next candidate gets the alert.
	for _, c := range candidates {
		result, err := e.commitAssignment(ctx, a, pickFromCandidate(c, opts.Reason), backups, opts)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, errCandidateFull) {
			continue
		}
		return domain.Alert{}, err
	}
	return domain.Alert{}, ErrNoCandidate
}

var errCandidateFull = errors.New("candidate at capacity")

type primaryPick struct {
	Staff     domain.Staff
	Reason    string
	Score     float64
	Proximity float64
	Workload  float64
	Skill     float64
}

func pickFromCandidate(c assign.Candidate, reason string) primaryPick {
	if reason == "" {
		reason = "scored"
	}
	return primaryPick{
		Staff:     c.Staff,
		Reason:    reason,
		Score:     c.Score,
		Proximity: c.Proximity,
		Workload:  c.Workload,
		Skill:     c.Skill,
	}
}

func (e Engine) commitAssignment(ctx context.Context, a domain.Alert, pick primaryPick, backups []primaryPick, opts AssignOptions) (domain.Alert, error) {
	now := e.nowRFC3339()
	fromStatus := a.Status

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Alert{}, err
	}
	defer tx.Rollback()

	if pick.Reason != "manual" && pick.Staff.MaxConcurrent > 0 {
		active, err := e.Repo.CountActiveAssignedTx(ctx, tx, pick.Staff.ID, a.IsSimulated)
		if err != nil {
			return domain.Alert{}, err
		}
		if active >= pick.Staff.MaxConcurrent {
			return domain.Alert{}, errCandidateFull
		}
	}

	if err := e.Repo.SupersedeActiveTx(ctx, tx, a.ID, pick.Staff.ID, now); err != nil {
		return domain.Alert{}, err
	}

	updated := a
	updated.Status = domain.StatusAssigned
	updated.Version = a.Version + 1
	updated.AssignedTo = &pick.Staff.ID
	updated.AssignedAt = &now
	updated.AcknowledgedAt = nil
	updated.InvestigatingAt = nil
	updated.UpdatedAt = now
	if err := e.Repo.UpdateAlertTx(ctx, tx, updated); err != nil {
		return domain.Alert{}, mapErr(err)
	}

	if err := e.Repo.InsertAssignmentTx(ctx, tx, domain.Assignment{
		ID:             ulid.Make().String(),
		AlertID:        a.ID,
		StaffID:        pick.Staff.ID,
		Reason:         pick.Reason,
		Score:          pick.Score,
		ProximityScore: pick.Proximity,
		WorkloadScore:  pick.Workload,
		SkillScore:     pick.Skill,
		IsActive:       true,
		AssignedAt:     now,
	}); err != nil {
		return domain.Alert{}, err
	}
	for _, b := range backups {
		if b.Staff.ID == pick.Staff.ID {
			continue
		}
		if err := e.Repo.InsertAssignmentTx(ctx, tx, domain.Assignment{
			ID:             ulid.Make().String(),
			AlertID:        a.ID,
			StaffID:        b.Staff.ID,
			Reason:         b.Reason,
			Score:          b.Score,
			ProximityScore: b.Proximity,
			WorkloadScore:  b.Workload,
			SkillScore:     b.Skill,
			IsActive:       true,
			IsBackup:       true,
			AssignedAt:     now,
		}); err != nil {
			return domain.Alert{}, err
		}
	}

	if err := e.armAckTimer(ctx, tx, updated); err != nil {
		return domain.Alert{}, err
	}

	if _, err := e.Audit.Append(ctx, tx, domain.AuditEntry{
		AlertID:    a.ID,
		Action:     "alert.assigned",
		ActorID:    opts.ActorID,
		ActorType:  opts.ActorType,
		FromStatus: string(fromStatus),
		ToStatus:   string(domain.StatusAssigned),
		Details: map[string]any{
			"staff_id":  pick.Staff.ID,
			"reason":    pick.Reason,
			"score":     pick.Score,
			"proximity": pick.Proximity,
			"workload":  pick.Workload,
			"skill":     pick.Skill,
		},
	}); err != nil {
		return domain.Alert{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Alert{}, err
	}

	items := staffNotifications(updated, pick.Staff, "assigned",
		fmt.Sprintf("Alert assigned: %s", a.Title),
		fmt.Sprintf("you are assigned to alert %s (%s) in zone %s", a.ID, a.Severity, a.Location.ZoneID))
	for _, b := range backups {
		if b.Staff.ID == pick.Staff.ID {
			continue
		}
		items = append(items, staffNotifications(updated, b.Staff, "backup",
			fmt.Sprintf("Backup responder: %s", a.Title),
			fmt.Sprintf("you are backup for alert %s (%s) in zone %s", a.ID, a.Severity, a.Location.ZoneID))...)
	}
	e.enqueue(ctx, items)

	e.Log.Info().Str("alert_id", a.ID).Str("staff_id", pick.Staff.ID).
		Float64("score", pick.Score).Msg("alert assigned")
	return updated, nil
}
