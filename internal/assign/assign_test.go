package assign_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"guardpost/internal/assign"
	"guardpost/internal/config"
	"guardpost/internal/db"
	"guardpost/internal/domain"
	"guardpost/internal/migrate"
	"guardpost/internal/repo"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine assign.Engine
	Repo   repo.Repo
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	return testEnv{
		Engine: assign.Engine{
			Repo:   r,
			Config: config.Default(),
			Log:    zerolog.Nop(),
			Now:    func() time.Time { return testNow },
		},
		Repo: r,
		Ctx:  context.Background(),
	}
}

func (env testEnv) seedStaff(t *testing.T, id string, role domain.Role, zone string) domain.Staff {
	t.Helper()
	now := testNow.Format(time.RFC3339)
	s := domain.Staff{
		ID:            id,
		Name:          id,
		Email:         id + "@guardpost.test",
		Role:          role,
		OnDuty:        true,
		MaxConcurrent: 3,
		ZoneID:        zone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if zone != "" {
		s.ZoneSeenAt = now
	}
	if err := env.Repo.InsertStaff(env.Ctx, s); err != nil {
		t.Fatalf("seed staff %s: %v", id, err)
	}
	return s
}

func (env testEnv) seedActiveAlert(t *testing.T, id, staffID string) {
	t.Helper()
	now := testNow.Format(time.RFC3339)
	tx, err := env.Repo.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = env.Repo.InsertAlertTx(env.Ctx, tx, domain.Alert{
		ID:         id,
		Title:      "seed",
		Severity:   domain.SeverityMedium,
		Status:     domain.StatusAssigned,
		Version:    2,
		Location:   domain.Location{ZoneID: "lobby"},
		AssignedTo: &staffID,
		AssignedAt: &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("seed alert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func intrusionAlert(zone string, sev domain.Severity) domain.Alert {
	return domain.Alert{
		ID:          "alert-1",
		AnomalyType: "intrusion",
		Severity:    sev,
		Location:    domain.Location{ZoneID: zone},
	}
}

func TestRankPrefersCloserResponder(t *testing.T) {
	env := newTestEnv(t)
	env.seedStaff(t, "near", domain.RoleSecurity, "lab-1")
	env.seedStaff(t, "far", domain.RoleSecurity, "entrance")

	// lab-1 is adjacent to corridor-a, entrance is two hops out.
	got, err := env.Engine.Rank(env.Ctx, intrusionAlert("corridor-a", domain.SeverityHigh), assign.Options{})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Staff.ID != "near" {
		t.Fatalf("best candidate = %s, want near", got[0].Staff.ID)
	}
	if got[0].Proximity >= got[1].Proximity {
		t.Fatalf("proximity costs not ordered: %v vs %v", got[0].Proximity, got[1].Proximity)
	}
}

func TestRankWorkloadBreaksProximityTie(t *testing.T) {
	env := newTestEnv(t)
	env.seedStaff(t, "busy", domain.RoleSecurity, "lobby")
	env.seedStaff(t, "idle", domain.RoleSecurity, "lobby")
	env.seedActiveAlert(t, "held-1", "busy")

	got, err := env.Engine.Rank(env.Ctx, intrusionAlert("lobby", domain.SeverityHigh), assign.Options{})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if got[0].Staff.ID != "idle" {
		t.Fatalf("best candidate = %s, want idle", got[0].Staff.ID)
	}
}

func TestRankTieBreaksOnStaffID(t *testing.T) {
	env := newTestEnv(t)
	env.seedStaff(t, "s-b", domain.RoleSecurity, "lobby")
	env.seedStaff(t, "s-a", domain.RoleSecurity, "lobby")

	got, err := env.Engine.Rank(env.Ctx, intrusionAlert("lobby", domain.SeverityHigh), assign.Options{})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if got[0].Staff.ID != "s-a" || got[1].Staff.ID != "s-b" {
		t.Fatalf("tie not broken lexicographically: %s, %s", got[0].Staff.ID, got[1].Staff.ID)
	}
}

func TestRankSkillPreferenceByAnomalyType(t *testing.T) {
	env := newTestEnv(t)
	env.seedStaff(t, "guard", domain.RoleSecurity, "lab-2")
	env.seedStaff(t, "tech", domain.RoleLabSupervisor, "lab-2")

	a := intrusionAlert("lab-2", domain.SeverityHigh)
	a.AnomalyType = "equipment_failure"
	got, err := env.Engine.Rank(env.Ctx, a, assign.Options{})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if got[0].Staff.ID != "tech" {
		t.Fatalf("best candidate = %s, want tech", got[0].Staff.ID)
	}
}

func TestRankExcludesFullResponder(t *testing.T) {
	env := newTestEnv(t)
	full := env.seedStaff(t, "full", domain.RoleSecurity, "lobby")
	for _, id := range []string{"h1", "h2", "h3"} {
		env.seedActiveAlert(t, id, full.ID)
	}

	got, err := env.Engine.Rank(env.Ctx, intrusionAlert("lobby", domain.SeverityHigh), assign.Options{})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected responder at capacity to be excluded, got %d candidates", len(got))
	}
}

func TestRankStaleLocationCostsMaximumButStaysEligible(t *testing.T) {
	env := newTestEnv(t)
	stale := env.seedStaff(t, "stale", domain.RoleSecurity, "lobby")
	stale.ZoneSeenAt = testNow.Add(-31 * time.Minute).Format(time.RFC3339)
	if err := env.Repo.UpdateStaff(env.Ctx, stale); err != nil {
		t.Fatal(err)
	}
	env.seedStaff(t, "fresh", domain.RoleSecurity, "corridor-a")

	got, err := env.Engine.Rank(env.Ctx, intrusionAlert("lobby", domain.SeverityHigh), assign.Options{})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("stale responder dropped from pool: %d candidates", len(got))
	}
	if got[0].Staff.ID != "fresh" {
		t.Fatalf("best candidate = %s, want fresh", got[0].Staff.ID)
	}
	if got[1].Proximity != 1.0 {
		t.Fatalf("stale proximity cost = %v, want 1.0", got[1].Proximity)
	}
}

func TestRankCriticalRoleBonus(t *testing.T) {
	env := newTestEnv(t)
	env.seedStaff(t, "sup", domain.RoleSupervisor, "lobby")

	find := func(sev domain.Severity) float64 {
		got, err := env.Engine.Rank(env.Ctx, intrusionAlert("lobby", sev), assign.Options{})
		if err != nil || len(got) != 1 {
			t.Fatalf("rank %s: %v (%d candidates)", sev, err, len(got))
		}
		return got[0].Score
	}
	high := find(domain.SeverityHigh)
	critical := find(domain.SeverityCritical)
	want := high * env.Engine.Config.Scoring.CriticalRoleBonus
	if diff := critical - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("critical score = %v, want %v", critical, want)
	}
}

func TestSelectWidensRadius(t *testing.T) {
	env := newTestEnv(t)
	// storage is four hops from entrance, outside the configured radius of 3
	// but inside the widened radius of 5.
	env.seedStaff(t, "remote", domain.RoleSecurity, "storage")

	got, err := env.Engine.Select(env.Ctx, intrusionAlert("entrance", domain.SeverityHigh), assign.Options{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got[0].Staff.ID != "remote" {
		t.Fatalf("widened search picked %s, want remote", got[0].Staff.ID)
	}
}

func TestSelectFallsBackToSupervisors(t *testing.T) {
	env := newTestEnv(t)
	// The roof is not in the adjacency map, so neither responder is
	// reachable by radius. Only the supervisor qualifies for the fallback.
	env.seedStaff(t, "guard", domain.RoleSecurity, "roof")
	env.seedStaff(t, "sup", domain.RoleSupervisor, "roof")

	got, err := env.Engine.Select(env.Ctx, intrusionAlert("lobby", domain.SeverityHigh), assign.Options{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 1 || got[0].Staff.ID != "sup" {
		t.Fatalf("fallback candidates = %v, want just sup", got)
	}
}

func TestSelectNoCandidate(t *testing.T) {
	env := newTestEnv(t)
	off := env.seedStaff(t, "off", domain.RoleSecurity, "lobby")
	off.OnDuty = false
	if err := env.Repo.UpdateStaff(env.Ctx, off); err != nil {
		t.Fatal(err)
	}

	_, err := env.Engine.Select(env.Ctx, intrusionAlert("lobby", domain.SeverityHigh), assign.Options{})
	if !errors.Is(err, assign.ErrNoCandidate) {
		t.Fatalf("expected ErrNoCandidate, got %v", err)
	}
}

func TestSelectExcludesPriorAssignee(t *testing.T) {
	env := newTestEnv(t)
	env.seedStaff(t, "prior", domain.RoleSupervisor, "lobby")
	env.seedStaff(t, "next", domain.RoleSupervisor, "lobby")

	got, err := env.Engine.Select(env.Ctx, intrusionAlert("lobby", domain.SeverityHigh), assign.Options{
		Roles:      []domain.Role{domain.RoleSupervisor, domain.RoleAdmin},
		ExcludeIDs: []string{"prior"},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	for _, c := range got {
		if c.Staff.ID == "prior" {
			t.Fatalf("excluded responder returned")
		}
	}
}
