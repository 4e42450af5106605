package engine

import (
	"context"
	"fmt"

	"guardpost/internal/domain"
)

// Rehearsal scenarios. Simulated alerts run the real lifecycle against the
// simulated staff pool and are delivered without touching external channels.
var scenarios = map[string][]domain.AnomalyEvent{
	"intrusion-basic": {
		{Type: "intrusion", Severity: domain.SeverityHigh, ZoneID: "entrance", Confidence: 0.92},
	},
	"critical-cascade": {
		{Type: "intrusion", Severity: domain.SeverityCritical, ZoneID: "lab-1", Confidence: 0.97},
		{Type: "unauthorized_access", Severity: domain.SeverityHigh, ZoneID: "corridor-a", Confidence: 0.88},
		{Type: "equipment_failure", Severity: domain.SeverityMedium, ZoneID: "lab-2", Confidence: 0.75},
	},
	"environmental": {
		{Type: "environmental", Severity: domain.SeverityMedium, ZoneID: "storage", Confidence: 0.81},
	},
}

// Scenarios lists the available rehearsal scenarios.
func Scenarios() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	return names
}

// Simulate runs a rehearsal scenario, ingesting its anomalies as simulated
// alerts. Returns the alerts created.
func (e Engine) Simulate(ctx context.Context, scenario string) ([]domain.Alert, error) {
	events, ok := scenarios[scenario]
	if !ok {
		return nil, fmt.Errorf("%w: unknown scenario %q", ErrValidation, scenario)
	}
	var alerts []domain.Alert
	for i, ev := range events {
		ev.AnomalyID = fmt.Sprintf("sim-%s-%d-%d", scenario, e.now().Unix(), i)
		a, err := e.Ingest(ctx, ev, true, scenario)
		if err != nil {
			return alerts, err
		}
		alerts = append(alerts, a)
	}
	e.Log.Info().Str("scenario", scenario).Int("alerts", len(alerts)).Msg("simulation scenario ingested")
	return alerts, nil
}
