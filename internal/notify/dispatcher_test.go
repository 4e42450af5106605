package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"guardpost/internal/config"
	"guardpost/internal/db"
	"guardpost/internal/domain"
	"guardpost/internal/migrate"
	"guardpost/internal/notify"
	"guardpost/internal/repo"
)

type stubChannel struct {
	err  error
	sent []domain.Notification
}

func (s *stubChannel) Name() string { return "stub" }

func (s *stubChannel) Send(_ context.Context, n domain.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

type testEnv struct {
	Dispatcher *notify.Dispatcher
	Repo       repo.Repo
	Channel    *stubChannel
	Ctx        context.Context
	now        time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &testEnv{
		Repo:    repo.Repo{DB: conn},
		Channel: &stubChannel{},
		Ctx:     context.Background(),
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	env.Dispatcher = &notify.Dispatcher{
		Repo:     env.Repo,
		Config:   config.Default(),
		Channels: map[string]notify.Channel{"stub": env.Channel},
		Log:      zerolog.Nop(),
		Now:      func() time.Time { return env.now },
	}
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

func (env *testEnv) enqueue(t *testing.T, items ...domain.Notification) {
	t.Helper()
	if err := env.Dispatcher.Enqueue(env.Ctx, items); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func item(alertID, targetID string) domain.Notification {
	return domain.Notification{
		AlertID:  alertID,
		TargetID: targetID,
		Channel:  "stub",
		DedupKey: alertID + ":test:" + targetID,
		Subject:  "test",
		Body:     "test body",
	}
}

func TestDeliverySuccess(t *testing.T) {
	env := newTestEnv(t)
	env.enqueue(t, item("alert-1", "staff-1"))

	n, err := env.Dispatcher.Drain(env.Ctx, "w1")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 1 || len(env.Channel.sent) != 1 {
		t.Fatalf("processed %d, sent %d", n, len(env.Channel.sent))
	}
	items, err := env.Repo.ListNotifications(env.Ctx, "alert-1")
	if err != nil {
		t.Fatal(err)
	}
	if items[0].Status != domain.NotificationDelivered || items[0].DeliveredAt == nil {
		t.Fatalf("bad final state: %+v", items[0])
	}
}

func TestRetryWithBackoffThenDead(t *testing.T) {
	env := newTestEnv(t)
	env.Channel.err = errors.New("endpoint down")
	env.enqueue(t, item("alert-1", "staff-1"))

	// First attempt fails and schedules a retry ten seconds out.
	if _, err := env.Dispatcher.Drain(env.Ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	got := env.get(t, "alert-1")
	if got.Status != domain.NotificationPending || got.Attempts != 1 {
		t.Fatalf("after first failure: %+v", got)
	}

	// Not due yet, nothing claimed.
	if n, _ := env.Dispatcher.Drain(env.Ctx, "w1"); n != 0 {
		t.Fatalf("claimed %d before backoff elapsed", n)
	}

	env.advance(10 * time.Second)
	if _, err := env.Dispatcher.Drain(env.Ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	if got = env.get(t, "alert-1"); got.Attempts != 2 {
		t.Fatalf("after second failure: %+v", got)
	}

	// Third failure exhausts the budget.
	env.advance(time.Minute)
	if _, err := env.Dispatcher.Drain(env.Ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	got = env.get(t, "alert-1")
	if got.Status != domain.NotificationDead || got.Attempts != 3 {
		t.Fatalf("after final failure: %+v", got)
	}
	if got.LastError == nil {
		t.Fatalf("dead item has no last error")
	}

	// A dead delivery raises an operator notice.
	items, err := env.Repo.ListNotifications(env.Ctx, "alert-1")
	if err != nil {
		t.Fatal(err)
	}
	var notice *domain.Notification
	for i := range items {
		if items[i].TargetID == "admins" {
			notice = &items[i]
		}
	}
	if notice == nil || notice.Status != domain.NotificationPending {
		t.Fatalf("expected pending admin notice, got %+v", items)
	}
}

// get returns the first non-notice notification for the alert.
func (env *testEnv) get(t *testing.T, alertID string) domain.Notification {
	t.Helper()
	items, err := env.Repo.ListNotifications(env.Ctx, alertID)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range items {
		if n.TargetID != "admins" {
			return n
		}
	}
	t.Fatalf("no notification for %s", alertID)
	return domain.Notification{}
}

func TestDeadNoticeDoesNotCascade(t *testing.T) {
	env := newTestEnv(t)
	env.Channel.err = errors.New("endpoint down")
	notice := item("alert-1", "admins")
	notice.Payload = map[string]any{"notice": true}
	env.enqueue(t, notice)

	// Burn through all attempts.
	for i := 0; i < 3; i++ {
		if _, err := env.Dispatcher.Drain(env.Ctx, "w1"); err != nil {
			t.Fatal(err)
		}
		env.advance(10 * time.Minute)
	}

	items, err := env.Repo.ListNotifications(env.Ctx, "alert-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("dead notice spawned %d follow-ups", len(items)-1)
	}
	if items[0].Status != domain.NotificationDead {
		t.Fatalf("notice status = %s, want dead", items[0].Status)
	}
}

func TestSimulatedDeliveredWithoutAdapter(t *testing.T) {
	env := newTestEnv(t)
	n := item("alert-sim", "staff-1")
	n.Channel = "webhook" // no adapter registered
	n.IsSimulated = true
	env.enqueue(t, n)

	if _, err := env.Dispatcher.Drain(env.Ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	got := env.get(t, "alert-sim")
	if got.Status != domain.NotificationDelivered {
		t.Fatalf("simulated item status = %s, want delivered", got.Status)
	}
	if len(env.Channel.sent) != 0 {
		t.Fatalf("simulated delivery touched an adapter")
	}
}

func TestUnknownChannelCountsAsFailure(t *testing.T) {
	env := newTestEnv(t)
	n := item("alert-1", "staff-1")
	n.Channel = "pager"
	env.enqueue(t, n)

	if _, err := env.Dispatcher.Drain(env.Ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	got := env.get(t, "alert-1")
	if got.Status != domain.NotificationPending || got.Attempts != 1 {
		t.Fatalf("unknown channel state: %+v", got)
	}
}

func TestPerRecipientOrdering(t *testing.T) {
	env := newTestEnv(t)
	first := item("alert-1", "staff-1")
	first.Subject = "first"
	second := item("alert-1", "staff-1")
	second.Subject = "second"
	other := item("alert-1", "staff-2")
	env.enqueue(t, first)
	env.enqueue(t, second)
	env.enqueue(t, other)

	// The second item for staff-1 is held back while the first is in
	// flight; the other recipient is not affected.
	n, err := env.Dispatcher.Drain(env.Ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("first drain claimed %d, want 2", n)
	}
	if env.Channel.sent[0].Subject != "first" {
		t.Fatalf("first delivery was %q", env.Channel.sent[0].Subject)
	}

	n, err = env.Dispatcher.Drain(env.Ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || env.Channel.sent[len(env.Channel.sent)-1].Subject != "second" {
		t.Fatalf("second drain claimed %d", n)
	}
}

func TestExpiredLeaseIsReleased(t *testing.T) {
	env := newTestEnv(t)
	env.enqueue(t, item("alert-1", "staff-1"))

	leaseUntil := env.now.Add(30 * time.Second).UTC().Format(time.RFC3339)
	claimed, err := env.Repo.ClaimNotifications(env.Ctx, "crashed-worker", env.now.UTC().Format(time.RFC3339), leaseUntil, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}

	env.advance(time.Minute)
	released, err := env.Repo.ReleaseExpiredLeases(env.Ctx, env.now.UTC().Format(time.RFC3339))
	if err != nil || released != 1 {
		t.Fatalf("release: %v (%d)", err, released)
	}
	got := env.get(t, "alert-1")
	if got.Status != domain.NotificationPending || got.LeasedBy != nil {
		t.Fatalf("lease not released: %+v", got)
	}
}
