package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guardpost/internal/domain"
	"guardpost/internal/lifecycle"
	"guardpost/internal/metrics"
	"guardpost/internal/repo"
)

type TransitionOptions struct {
	AlertID   string
	ActorID   string
	ActorType domain.ActorType
}

// requireAssigneeOrAdmin rejects staff actors that are not the current
// assignee. System and admin actors pass.
func requireAssigneeOrAdmin(a domain.Alert, actorID string, actorType domain.ActorType) error {
	if actorType == domain.ActorAdmin || actorType == domain.ActorSystem {
		return nil
	}
	if a.AssignedTo == nil || *a.AssignedTo != actorID {
		return fmt.Errorf("%w: only the assigned responder may act on this alert", ErrForbidden)
	}
	return nil
}

// Acknowledge moves assigned -> acknowledged and swaps the acknowledgment
// deadline for a resolution deadline.
func (e Engine) Acknowledge(ctx context.Context, opts TransitionOptions) (domain.Alert, error) {
	a, err := e.Repo.GetAlert(ctx, opts.AlertID)
	if err != nil {
		return domain.Alert{}, mapErr(err)
	}
	if err := requireAssigneeOrAdmin(a, opts.ActorID, opts.ActorType); err != nil {
		return domain.Alert{}, err
	}
	if err := lifecycle.Validate(a.Status, domain.StatusAcknowledged); err != nil {
		return domain.Alert{}, err
	}

	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Alert{}, err
	}
	defer tx.Rollback()

	updated := a
	updated.Status = domain.StatusAcknowledged
	updated.Version = a.Version + 1
	updated.AcknowledgedAt = &now
	updated.UpdatedAt = now
	if err := e.Repo.UpdateAlertTx(ctx, tx, updated); err != nil {
		return domain.Alert{}, mapErr(err)
	}
	if err := e.armResolutionTimer(ctx, tx, updated); err != nil {
		return domain.Alert{}, err
	}
	if _, err := e.Audit.Append(ctx, tx, domain.AuditEntry{
		AlertID:    a.ID,
		Action:     "alert.acknowledged",
		ActorID:    opts.ActorID,
		ActorType:  opts.ActorType,
		FromStatus: string(a.Status),
		ToStatus:   string(domain.StatusAcknowledged),
	}); err != nil {
		return domain.Alert{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Alert{}, err
	}
	e.Log.Info().Str("alert_id", a.ID).Str("actor_id", opts.ActorID).Msg("alert acknowledged")
	return updated, nil
}

// StartInvestigation moves acknowledged -> investigating. The resolution
// deadline is re-armed against the new version; it stays anchored at the
// acknowledgment time, so the deadline itself does not move.
func (e Engine) StartInvestigation(ctx context.Context, opts TransitionOptions) (domain.Alert, error) {
	a, err := e.Repo.GetAlert(ctx, opts.AlertID)
	if err != nil {
		return domain.Alert{}, mapErr(err)
	}
	if err := requireAssigneeOrAdmin(a, opts.ActorID, opts.ActorType); err != nil {
		return domain.Alert{}, err
	}
	if err := lifecycle.Validate(a.Status, domain.StatusInvestigating); err != nil {
		return domain.Alert{}, err
	}

	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Alert{}, err
	}
	defer tx.Rollback()

	updated := a
	updated.Status = domain.StatusInvestigating
	updated.Version = a.Version + 1
	updated.InvestigatingAt = &now
	updated.UpdatedAt = now
	if err := e.Repo.UpdateAlertTx(ctx, tx, updated); err != nil {
		return domain.Alert{}, mapErr(err)
	}
	if err := e.armResolutionTimer(ctx, tx, updated); err != nil {
		return domain.Alert{}, err
	}
	if _, err := e.Audit.Append(ctx, tx, domain.AuditEntry{
		AlertID:    a.ID,
		Action:     "alert.investigating",
		ActorID:    opts.ActorID,
		ActorType:  opts.ActorType,
		FromStatus: string(a.Status),
		ToStatus:   string(domain.StatusInvestigating),
	}); err != nil {
		return domain.Alert{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Alert{}, err
	}
	e.Log.Info().Str("alert_id", a.ID).Str("actor_id", opts.ActorID).Msg("investigation started")
	return updated, nil
}

type NoteOptions struct {
	AlertID   string
	Note      string
	ActorID   string
	ActorType domain.ActorType
}

// AddNote records an investigation note in the audit log. Notes do not
// change the alert row, so they never invalidate a deadline or a version.
func (e Engine) AddNote(ctx context.Context, opts NoteOptions) error {
	if strings.TrimSpace(opts.Note) == "" {
		return fmt.Errorf("%w: note must not be empty", ErrValidation)
	}
	a, err := e.Repo.GetAlert(ctx, opts.AlertID)
	if err != nil {
		return mapErr(err)
	}
	if a.Status == domain.StatusResolved {
		return fmt.Errorf("%w: alert is resolved", ErrValidation)
	}
	if err := requireAssigneeOrAdmin(a, opts.ActorID, opts.ActorType); err != nil {
		return err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Audit.Append(ctx, tx, domain.AuditEntry{
		AlertID:   a.ID,
		Action:    "alert.note",
		ActorID:   opts.ActorID,
		ActorType: opts.ActorType,
		Details:   map[string]any{"note": opts.Note},
	}); err != nil {
		return err
	}
	return tx.Commit()
}

type ResolveOptions struct {
	AlertID   string
	Type      domain.ResolutionType
	Notes     string
	ActorID   string
	ActorType domain.ActorType
}

func validResolutionType(t domain.ResolutionType) bool {
	switch t {
	case domain.ResolutionResolved, domain.ResolutionFalseAlarm, domain.ResolutionNoActionRequired:
		return true
	}
	return false
}

// Resolve closes an investigating alert. A resolution type and non-empty
// notes are required; rejected resolutions leave the alert untouched.
func (e Engine) Resolve(ctx context.Context, opts ResolveOptions) (domain.Alert, error) {
	if !validResolutionType(opts.Type) {
		return domain.Alert{}, fmt.Errorf("%w: unknown resolution type %q", ErrValidation, opts.Type)
	}
	if strings.TrimSpace(opts.Notes) == "" {
		return domain.Alert{}, fmt.Errorf("%w: resolution notes must not be empty", ErrValidation)
	}
	a, err := e.Repo.GetAlert(ctx, opts.AlertID)
	if err != nil {
		return domain.Alert{}, mapErr(err)
	}
	if err := requireAssigneeOrAdmin(a, opts.ActorID, opts.ActorType); err != nil {
		return domain.Alert{}, err
	}
	if err := lifecycle.Validate(a.Status, domain.StatusResolved); err != nil {
		return domain.Alert{}, err
	}

	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Alert{}, err
	}
	defer tx.Rollback()

	resType := string(opts.Type)
	updated := a
	updated.Status = domain.StatusResolved
	updated.Version = a.Version + 1
	updated.ResolvedAt = &now
	updated.ResolvedBy = &opts.ActorID
	updated.ResolutionType = &resType
	updated.ResolutionNotes = &opts.Notes
	updated.UpdatedAt = now
	if err := e.Repo.UpdateAlertTx(ctx, tx, updated); err != nil {
		return domain.Alert{}, mapErr(err)
	}
	if err := e.Repo.CancelTimersTx(ctx, tx, a.ID); err != nil {
		return domain.Alert{}, err
	}
	if err := e.Repo.SupersedeActiveTx(ctx, tx, a.ID, "", now); err != nil {
		return domain.Alert{}, err
	}
	if _, err := e.Audit.Append(ctx, tx, domain.AuditEntry{
		AlertID:    a.ID,
		Action:     "alert.resolved",
		ActorID:    opts.ActorID,
		ActorType:  opts.ActorType,
		FromStatus: string(a.Status),
		ToStatus:   string(domain.StatusResolved),
		Details: map[string]any{
			"resolution_type": resType,
			"notes":           opts.Notes,
		},
	}); err != nil {
		return domain.Alert{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Alert{}, err
	}
	e.Log.Info().Str("alert_id", a.ID).Str("resolution_type", resType).Msg("alert resolved")
	return updated, nil
}

type EscalateOptions struct {
	AlertID   string
	Reason    string
	ActorID   string
	ActorType domain.ActorType
}

// Escalate manually pushes an alert up the chain: transition to escalated,
// then reassignment among supervisors and admins.
func (e Engine) Escalate(ctx context.Context, opts EscalateOptions) (domain.Alert, error) {
	a, err := e.Repo.GetAlert(ctx, opts.AlertID)
	if err != nil {
		return domain.Alert{}, mapErr(err)
	}
	if opts.Reason == "" {
		opts.Reason = "manual"
	}
	return e.escalateCore(ctx, a, opts, 0)
}

// EscalateAuto is the deadline scheduler's entry point. A fire is stale when
// the alert moved since the timer was armed, either by version or by leaving
// the status the deadline was watching; stale fires cancel the timer and do
// nothing else.
func (e Engine) EscalateAuto(ctx context.Context, timer domain.EscalationTimer) error {
	a, err := e.Repo.GetAlert(ctx, timer.AlertID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return e.Repo.MarkTimerCancelled(ctx, timer.ID)
		}
		return err
	}
	if a.Version != timer.AlertVersion || !statusMatchesReason(a.Status, timer.Reason) {
		e.Log.Debug().Str("alert_id", a.ID).Int64("timer_id", timer.ID).Msg("stale timer fire discarded")
		return e.Repo.MarkTimerCancelled(ctx, timer.ID)
	}

	_, err = e.escalateCore(ctx, a, EscalateOptions{
		AlertID:   a.ID,
		Reason:    timer.Reason,
		ActorType: domain.ActorSystem,
	}, timer.ID)
	if errors.Is(err, ErrConflict) || errors.Is(err, errTimerClaimed) {
		// Lost the race to a human transition or a concurrent tick.
		return nil
	}
	return err
}

func statusMatchesReason(s domain.Status, reason string) bool {
	switch reason {
	case domain.ReasonNoAcknowledgment:
		return s == domain.StatusAssigned
	case domain.ReasonNoResolution:
		return s == domain.StatusAcknowledged || s == domain.StatusInvestigating
	}
	return false
}

var errTimerClaimed = errors.New("timer already claimed")

func (e Engine) escalateCore(ctx context.Context, a domain.Alert, opts EscalateOptions, timerID int64) (domain.Alert, error) {
	if err := lifecycle.Validate(a.Status, domain.StatusEscalated); err != nil {
		return domain.Alert{}, err
	}
	var priorAssignee string
	if a.AssignedTo != nil {
		priorAssignee = *a.AssignedTo
	}

	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Alert{}, err
	}
	defer tx.Rollback()

	if timerID > 0 {
		if err := e.Repo.MarkTimerFiredTx(ctx, tx, timerID, now); err != nil {
			if errors.Is(err, repo.ErrStaleVersion) {
				return domain.Alert{}, errTimerClaimed
			}
			return domain.Alert{}, err
		}
	} else if err := e.Repo.CancelTimersTx(ctx, tx, a.ID); err != nil {
		return domain.Alert{}, err
	}

	updated := a
	updated.Status = domain.StatusEscalated
	updated.Version = a.Version + 1
	updated.EscalationCount = a.EscalationCount + 1
	updated.AssignedTo = nil
	updated.UpdatedAt = now
	if err := e.Repo.UpdateAlertTx(ctx, tx, updated); err != nil {
		return domain.Alert{}, mapErr(err)
	}
	if err := e.Repo.SupersedeActiveTx(ctx, tx, a.ID, "", now); err != nil {
		return domain.Alert{}, err
	}
	if _, err := e.Audit.Append(ctx, tx, domain.AuditEntry{
		AlertID:    a.ID,
		Action:     "alert.escalated",
		ActorID:    opts.ActorID,
		ActorType:  opts.ActorType,
		FromStatus: string(a.Status),
		ToStatus:   string(domain.StatusEscalated),
		Details: map[string]any{
			"reason":           opts.Reason,
			"escalation_count": updated.EscalationCount,
			"prior_assignee":   priorAssignee,
		},
	}); err != nil {
		return domain.Alert{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Alert{}, err
	}
	metrics.AlertsEscalated.Inc()
	e.Log.Info().Str("alert_id", a.ID).Int("escalation_count", updated.EscalationCount).
		Str("reason", opts.Reason).Msg("alert escalated")

	if updated.EscalationCount > e.Config.Escalation.MaxEscalations {
		e.Log.Warn().Str("alert_id", a.ID).Msg("escalation cap reached, manual intervention required")
		e.enqueue(ctx, []domain.Notification{adminNotice(updated, "escalation_cap",
			"Alert exceeded escalation cap",
			fmt.Sprintf("alert %s escalated %d times and remains unresolved, manual intervention required",
				a.ID, updated.EscalationCount))})
		return updated, nil
	}

	var exclude []string
	if priorAssignee != "" {
		exclude = append(exclude, priorAssignee)
	}
	reassigned, err := e.AssignAlert(ctx, AssignOptions{
		AlertID:    a.ID,
		Roles:      []domain.Role{domain.RoleSupervisor, domain.RoleAdmin},
		ExcludeIDs: exclude,
		Reason:     "escalation",
		ActorID:    opts.ActorID,
		ActorType:  opts.ActorType,
	})
	if errors.Is(err, ErrNoCandidate) {
		e.enqueue(ctx, []domain.Notification{adminNotice(updated, "escalation_unassigned",
			"Escalated alert has no eligible responder",
			fmt.Sprintf("alert %s escalated but no supervisor or admin is available", a.ID))})
		return updated, nil
	}
	if err != nil {
		return domain.Alert{}, err
	}
	return reassigned, nil
}

type SeverityOptions struct {
	AlertID   string
	Severity  domain.Severity
	ActorID   string
	ActorType domain.ActorType
}

// ChangeSeverity lets an admin correct an alert's severity. Any armed
// deadline is re-armed so the resolution window tracks the new severity.
func (e Engine) ChangeSeverity(ctx context.Context, opts SeverityOptions) (domain.Alert, error) {
	if opts.ActorType != domain.ActorAdmin {
		return domain.Alert{}, fmt.Errorf("%w: severity changes require admin", ErrForbidden)
	}
	if !validSeverity(opts.Severity) {
		return domain.Alert{}, fmt.Errorf("%w: unknown severity %q", ErrValidation, opts.Severity)
	}
	a, err := e.Repo.GetAlert(ctx, opts.AlertID)
	if err != nil {
		return domain.Alert{}, mapErr(err)
	}
	if a.Severity == opts.Severity {
		return a, nil
	}
	if a.Status == domain.StatusResolved {
		return domain.Alert{}, fmt.Errorf("%w: alert is resolved", ErrValidation)
	}

	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Alert{}, err
	}
	defer tx.Rollback()

	updated := a
	updated.Severity = opts.Severity
	updated.Version = a.Version + 1
	updated.UpdatedAt = now
	if err := e.Repo.UpdateAlertTx(ctx, tx, updated); err != nil {
		return domain.Alert{}, mapErr(err)
	}
	if err := e.rearmTimers(ctx, tx, updated); err != nil {
		return domain.Alert{}, err
	}
	if _, err := e.Audit.Append(ctx, tx, domain.AuditEntry{
		AlertID:   a.ID,
		Action:    "alert.severity_changed",
		ActorID:   opts.ActorID,
		ActorType: opts.ActorType,
		Details: map[string]any{
			"from": string(a.Severity),
			"to":   string(opts.Severity),
		},
	}); err != nil {
		return domain.Alert{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Alert{}, err
	}
	return updated, nil
}
