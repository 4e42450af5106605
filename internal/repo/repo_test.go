package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"guardpost/internal/db"
	"guardpost/internal/domain"
	"guardpost/internal/migrate"
	"guardpost/internal/repo"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func inTx(t *testing.T, r repo.Repo, ctx context.Context, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func seedAlert(t *testing.T, r repo.Repo, ctx context.Context, id string) domain.Alert {
	t.Helper()
	now := testNow.Format(time.RFC3339)
	a := domain.Alert{
		ID:        id,
		Title:     "seed alert",
		Severity:  domain.SeverityHigh,
		Status:    domain.StatusCreated,
		Version:   1,
		Location:  domain.Location{ZoneID: "lobby"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.InsertAlertTx(ctx, tx, a)
	})
	return a
}

func TestUpdateAlertStaleVersion(t *testing.T) {
	r, ctx := newRepo(t)
	a := seedAlert(t, r, ctx, "alert-1")

	// Two writers load version 1 and both try to bump to 2. The second
	// write must fail the optimistic check.
	first := a
	first.Status = domain.StatusAssigned
	first.Version = 2
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.UpdateAlertTx(ctx, tx, first)
	})

	second := a
	second.Status = domain.StatusAssigned
	second.Version = 2
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.UpdateAlertTx(ctx, tx, second); !errors.Is(err, repo.ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}
}

func TestGetAlertNotFound(t *testing.T) {
	r, ctx := newRepo(t)
	if _, err := r.GetAlert(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAnomalyIDUniqueness(t *testing.T) {
	r, ctx := newRepo(t)
	now := testNow.Format(time.RFC3339)
	a := domain.Alert{
		ID: "alert-1", AnomalyID: "anom-1", Title: "one",
		Severity: domain.SeverityLow, Status: domain.StatusCreated, Version: 1,
		Location: domain.Location{ZoneID: "lobby"}, CreatedAt: now, UpdatedAt: now,
	}
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.InsertAlertTx(ctx, tx, a)
	})

	dup := a
	dup.ID = "alert-2"
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.InsertAlertTx(ctx, tx, dup); err == nil {
		t.Fatalf("expected unique index violation on anomaly_id")
	}
}

func TestArmTimerReplacesPrior(t *testing.T) {
	r, ctx := newRepo(t)
	a := seedAlert(t, r, ctx, "alert-1")

	arm := func(version int64, deadline time.Time) {
		inTx(t, r, ctx, func(tx *sql.Tx) error {
			return r.ArmTimerTx(ctx, tx, domain.EscalationTimer{
				AlertID:      a.ID,
				AlertVersion: version,
				Deadline:     deadline.Format(time.RFC3339),
				Reason:       domain.ReasonNoAcknowledgment,
				CreatedAt:    testNow.Format(time.RFC3339),
			})
		})
	}
	arm(1, testNow.Add(5*time.Minute))
	arm(2, testNow.Add(10*time.Minute))

	timer, err := r.ArmedTimer(ctx, a.ID)
	if err != nil {
		t.Fatalf("armed timer: %v", err)
	}
	if timer.AlertVersion != 2 {
		t.Fatalf("armed timer version = %d, want the replacement", timer.AlertVersion)
	}

	due, err := r.DueTimers(ctx, testNow.Add(time.Hour).Format(time.RFC3339), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("%d armed timers due, want 1", len(due))
	}
}

func TestMarkTimerFiredClaimsOnce(t *testing.T) {
	r, ctx := newRepo(t)
	a := seedAlert(t, r, ctx, "alert-1")
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.ArmTimerTx(ctx, tx, domain.EscalationTimer{
			AlertID:      a.ID,
			AlertVersion: 1,
			Deadline:     testNow.Format(time.RFC3339),
			Reason:       domain.ReasonNoAcknowledgment,
			CreatedAt:    testNow.Format(time.RFC3339),
		})
	})
	timer, err := r.ArmedTimer(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}

	at := testNow.Add(5 * time.Minute).Format(time.RFC3339)
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.MarkTimerFiredTx(ctx, tx, timer.ID, at)
	})

	// A second claim on the same timer loses.
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.MarkTimerFiredTx(ctx, tx, timer.ID, at); !errors.Is(err, repo.ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion on second claim, got %v", err)
	}
}

func TestSupersedeActive(t *testing.T) {
	r, ctx := newRepo(t)
	a := seedAlert(t, r, ctx, "alert-1")
	now := testNow.Format(time.RFC3339)
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.InsertAssignmentTx(ctx, tx, domain.Assignment{
			ID: "as-1", AlertID: a.ID, StaffID: "staff-1", Reason: "scored",
			IsActive: true, AssignedAt: now,
		})
	})
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.SupersedeActiveTx(ctx, tx, a.ID, "staff-2", now)
	})

	items, err := r.ListAssignments(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].IsActive {
		t.Fatalf("assignment not superseded: %+v", items)
	}
	if items[0].SupersededBy == nil || *items[0].SupersededBy != "staff-2" {
		t.Fatalf("superseded_by not recorded: %+v", items[0])
	}
}
