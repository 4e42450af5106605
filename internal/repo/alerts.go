package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"guardpost/internal/domain"
)

// ErrStaleVersion signals an optimistic-concurrency failure on an alert
// update. The engine maps it to its public conflict error.
var ErrStaleVersion = errors.New("stale alert version")

const alertColumns = `id,anomaly_id,anomaly_type,title,description,severity,status,version,location_json,affected_entities_json,data_sources_json,evidence_json,assigned_to,assigned_at,acknowledged_at,investigating_at,resolved_at,resolved_by,resolution_type,resolution_notes,escalation_count,is_simulated,scenario,created_at,updated_at`

type alertRow interface {
	Scan(dest ...any) error
}

func scanAlert(row alertRow) (domain.Alert, error) {
	var a domain.Alert
	var anomalyID, anomalyType, description, scenario sql.NullString
	var locJSON string
	var entitiesJSON, sourcesJSON, evidenceJSON sql.NullString
	var assignedTo, assignedAt, ackedAt, investigatingAt, resolvedAt, resolvedBy, resType, resNotes sql.NullString
	err := row.Scan(&a.ID, &anomalyID, &anomalyType, &a.Title, &description, &a.Severity, &a.Status, &a.Version,
		&locJSON, &entitiesJSON, &sourcesJSON, &evidenceJSON,
		&assignedTo, &assignedAt, &ackedAt, &investigatingAt, &resolvedAt, &resolvedBy, &resType, &resNotes,
		&a.EscalationCount, &a.IsSimulated, &scenario, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.AnomalyID = anomalyID.String
	a.AnomalyType = anomalyType.String
	a.Description = description.String
	a.Scenario = scenario.String
	if err := json.Unmarshal([]byte(locJSON), &a.Location); err != nil {
		return a, fmt.Errorf("alert %s location: %w", a.ID, err)
	}
	if err := unmarshalInto(entitiesJSON, &a.AffectedEntities); err != nil {
		return a, err
	}
	if err := unmarshalInto(sourcesJSON, &a.DataSources); err != nil {
		return a, err
	}
	if err := unmarshalInto(evidenceJSON, &a.Evidence); err != nil {
		return a, err
	}
	if assignedTo.Valid {
		a.AssignedTo = &assignedTo.String
	}
	if assignedAt.Valid {
		a.AssignedAt = &assignedAt.String
	}
	if ackedAt.Valid {
		a.AcknowledgedAt = &ackedAt.String
	}
	if investigatingAt.Valid {
		a.InvestigatingAt = &investigatingAt.String
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.String
	}
	if resolvedBy.Valid {
		a.ResolvedBy = &resolvedBy.String
	}
	if resType.Valid {
		a.ResolutionType = &resType.String
	}
	if resNotes.Valid {
		a.ResolutionNotes = &resNotes.String
	}
	return a, nil
}

func (r Repo) InsertAlertTx(ctx context.Context, tx *sql.Tx, a domain.Alert) error {
	locJSON, err := json.Marshal(a.Location)
	if err != nil {
		return err
	}
	entities, err := jsonOrNull(a.AffectedEntities)
	if err != nil {
		return err
	}
	sources, err := jsonOrNull(a.DataSources)
	if err != nil {
		return err
	}
	evidence, err := jsonOrNull(a.Evidence)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO alerts(`+alertColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, nullable(a.AnomalyID), nullable(a.AnomalyType), a.Title, nullable(a.Description), a.Severity, a.Status, a.Version,
		string(locJSON), entities, sources, evidence,
		nullableStringPtr(a.AssignedTo), nullableStringPtr(a.AssignedAt), nullableStringPtr(a.AcknowledgedAt),
		nullableStringPtr(a.InvestigatingAt), nullableStringPtr(a.ResolvedAt), nullableStringPtr(a.ResolvedBy),
		nullableStringPtr(a.ResolutionType), nullableStringPtr(a.ResolutionNotes),
		a.EscalationCount, boolToInt(a.IsSimulated), nullable(a.Scenario), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAlert(ctx context.Context, id string) (domain.Alert, error) {
	return scanAlert(r.DB.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=?`, id))
}

func (r Repo) GetAlertTx(ctx context.Context, tx *sql.Tx, id string) (domain.Alert, error) {
	return scanAlert(tx.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=?`, id))
}

func (r Repo) GetAlertByAnomalyID(ctx context.Context, anomalyID string) (domain.Alert, error) {
	return scanAlert(r.DB.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE anomaly_id=?`, anomalyID))
}

// UpdateAlertTx writes the alert back with an optimistic version check.
// The row is matched on (id, version-1) and the version column has already
// been bumped on the passed struct; zero rows affected means another writer
// got there first and the caller must retry from a fresh read.
func (r Repo) UpdateAlertTx(ctx context.Context, tx *sql.Tx, a domain.Alert) error {
	entities, err := jsonOrNull(a.AffectedEntities)
	if err != nil {
		return err
	}
	sources, err := jsonOrNull(a.DataSources)
	if err != nil {
		return err
	}
	evidence, err := jsonOrNull(a.Evidence)
	if err != nil {
		return err
	}
	locJSON, err := json.Marshal(a.Location)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE alerts SET
severity=?, status=?, version=?, location_json=?, affected_entities_json=?, data_sources_json=?, evidence_json=?,
assigned_to=?, assigned_at=?, acknowledged_at=?, investigating_at=?, resolved_at=?, resolved_by=?,
resolution_type=?, resolution_notes=?, escalation_count=?, updated_at=?
WHERE id=? AND version=?`,
		a.Severity, a.Status, a.Version, string(locJSON), entities, sources, evidence,
		nullableStringPtr(a.AssignedTo), nullableStringPtr(a.AssignedAt), nullableStringPtr(a.AcknowledgedAt),
		nullableStringPtr(a.InvestigatingAt), nullableStringPtr(a.ResolvedAt), nullableStringPtr(a.ResolvedBy),
		nullableStringPtr(a.ResolutionType), nullableStringPtr(a.ResolutionNotes),
		a.EscalationCount, a.UpdatedAt,
		a.ID, a.Version-1)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleVersion
	}
	return nil
}

type AlertFilters struct {
	Statuses         []domain.Status
	Severities       []domain.Severity
	AssignedTo       string
	CreatedFrom      string
	CreatedTo        string
	IncludeSimulated bool
	Limit            int
	Offset           int
}

// ListAlerts returns alerts ordered by severity (critical first) then recency.
func (r Repo) ListAlerts(ctx context.Context, f AlertFilters) ([]domain.Alert, error) {
	var clauses []string
	var args []any
	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			ph[i] = "?"
			args = append(args, s)
		}
		clauses = append(clauses, "status IN ("+strings.Join(ph, ",")+")")
	}
	if len(f.Severities) > 0 {
		ph := make([]string, len(f.Severities))
		for i, s := range f.Severities {
			ph[i] = "?"
			args = append(args, s)
		}
		clauses = append(clauses, "severity IN ("+strings.Join(ph, ",")+")")
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.CreatedFrom != "" {
		clauses = append(clauses, "created_at>=?")
		args = append(args, f.CreatedFrom)
	}
	if f.CreatedTo != "" {
		clauses = append(clauses, "created_at<=?")
		args = append(args, f.CreatedTo)
	}
	if !f.IncludeSimulated {
		clauses = append(clauses, "is_simulated=0")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + alertColumns + ` FROM alerts ` + where + `
ORDER BY CASE severity WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END, created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CountActiveAssigned returns how many capacity-occupying alerts a responder
// holds. Workload is always derived from this count, never stored.
func (r Repo) CountActiveAssigned(ctx context.Context, staffID string, simulated bool) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts
WHERE assigned_to=? AND status IN ('assigned','acknowledged','investigating') AND is_simulated=?`,
		staffID, boolToInt(simulated)).Scan(&n)
	return n, err
}

// CountActiveAssignedTx is the in-transaction variant used to re-check
// capacity before committing an assignment.
func (r Repo) CountActiveAssignedTx(ctx context.Context, tx *sql.Tx, staffID string, simulated bool) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts
WHERE assigned_to=? AND status IN ('assigned','acknowledged','investigating') AND is_simulated=?`,
		staffID, boolToInt(simulated)).Scan(&n)
	return n, err
}

// CountResolvedBy returns how many alerts a responder has resolved.
func (r Repo) CountResolvedBy(ctx context.Context, staffID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE resolved_by=? AND status='resolved'`, staffID).Scan(&n)
	return n, err
}
