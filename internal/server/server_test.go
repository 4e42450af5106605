package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"guardpost/internal/assign"
	"guardpost/internal/audit"
	"guardpost/internal/config"
	"guardpost/internal/db"
	"guardpost/internal/domain"
	"guardpost/internal/engine"
	"guardpost/internal/migrate"
	"guardpost/internal/repo"
)

const testSecret = "server-test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	clock := func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	r := repo.Repo{DB: conn}
	e := engine.Engine{
		DB:     conn,
		Repo:   r,
		Audit:  audit.Writer{Now: clock},
		Assign: assign.Engine{Repo: r, Config: cfg, Log: zerolog.Nop(), Now: clock},
		Config: cfg,
		Log:    zerolog.Nop(),
		Now:    clock,
	}

	handler, err := New(Config{Engine: e, Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func token(t *testing.T, actorID string, role domain.Role) string {
	t.Helper()
	tok, err := MintToken(testSecret, actorID, role, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + tok
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, authz string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func seedResponder(t *testing.T, e engine.Engine, name, zone string) domain.Staff {
	t.Helper()
	ctx := context.Background()
	s, err := e.CreateStaff(ctx, engine.StaffCreateOptions{
		Name: name, Email: name + "@guardpost.test", Role: domain.RoleSecurity, ZoneID: zone,
	})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	if _, err := e.SetDuty(ctx, s.ID, true); err != nil {
		t.Fatalf("set duty: %v", err)
	}
	return s
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope %s: %v", string(data), err)
	}
	return envelope.Error.Code
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/alerts", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/alerts", nil, "Bearer not-a-token")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token accepted: %d", res.StatusCode)
	}
}

func TestIngestThroughLifecycle(t *testing.T) {
	srv := newTestServer(t)
	guard := seedResponder(t, srv.Engine, "guard", "lobby")
	admin := token(t, "ops", domain.RoleAdmin)
	guardTok := token(t, guard.ID, domain.RoleSecurity)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/events/anomaly", map[string]any{
		"anomaly_id": "anom-http-1",
		"type":       "intrusion",
		"severity":   "high",
		"zone_id":    "lobby",
		"confidence": 0.9,
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status %d: %s", res.StatusCode, string(data))
	}
	var a domain.Alert
	if err := json.Unmarshal(data, &a); err != nil {
		t.Fatalf("unmarshal alert: %v", err)
	}
	if a.Status != domain.StatusAssigned || a.AssignedTo == nil || *a.AssignedTo != guard.ID {
		t.Fatalf("ingest did not assign: %+v", a)
	}

	// Resolving before investigating is an invalid transition.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/alerts/"+a.ID+"/resolve", map[string]any{
		"type": "resolved", "notes": "too early",
	}, guardTok)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("early resolve status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("error code %q, want invalid_transition", code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/alerts/"+a.ID+"/acknowledge", nil, guardTok)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("acknowledge status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/alerts/"+a.ID+"/investigate", nil, guardTok)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("investigate status %d: %s", res.StatusCode, string(data))
	}

	// Blank notes fail validation and leave the alert untouched.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/alerts/"+a.ID+"/resolve", map[string]any{
		"type": "resolved", "notes": "  ",
	}, guardTok)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("blank notes status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "validation_failed" {
		t.Fatalf("error code %q, want validation_failed", code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/alerts/"+a.ID+"/resolve", map[string]any{
		"type": "false_alarm", "notes": "cat on the sensor",
	}, guardTok)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(data))
	}
	var resolved domain.Alert
	if err := json.Unmarshal(data, &resolved); err != nil {
		t.Fatal(err)
	}
	if resolved.Status != domain.StatusResolved {
		t.Fatalf("status %s after resolve", resolved.Status)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/alerts/"+a.ID+"/history", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(data))
	}
	var history []domain.AuditEntry
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatal(err)
	}
	if len(history) < 5 {
		t.Fatalf("history has %d entries, want the full lifecycle", len(history))
	}
}

func TestRoleGates(t *testing.T) {
	srv := newTestServer(t)
	guard := seedResponder(t, srv.Engine, "guard", "lobby")
	guardTok := token(t, guard.ID, domain.RoleSecurity)
	supTok := token(t, "sup-1", domain.RoleSupervisor)

	// Staff creation requires supervisor or admin.
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/staff", map[string]any{
		"name": "newbie", "email": "newbie@guardpost.test", "role": "security",
	}, guardTok)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("staff create as security: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/staff", map[string]any{
		"name": "newbie", "email": "newbie@guardpost.test", "role": "security",
	}, supTok)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("staff create as supervisor: %d %s", res.StatusCode, string(data))
	}

	// Severity changes are admin only, even for supervisors.
	a, err := srv.Engine.Ingest(context.Background(), domain.AnomalyEvent{
		AnomalyID: "anom-role", Type: "intrusion", Severity: domain.SeverityLow, ZoneID: "lobby",
	}, false, "")
	if err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/alerts/"+a.ID+"/severity", map[string]any{
		"severity": "high",
	}, supTok)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("severity change as supervisor: %d %s", res.StatusCode, string(data))
	}
}

func TestNoCandidateConflict(t *testing.T) {
	srv := newTestServer(t)
	admin := token(t, "ops", domain.RoleAdmin)

	// No staff on duty at all; manual assignment has nobody to pick.
	a, err := srv.Engine.CreateAlert(context.Background(), engine.AlertCreateOptions{
		Title: "orphan", Severity: domain.SeverityHigh,
		Location: domain.Location{ZoneID: "lobby"}, ActorType: domain.ActorSystem,
	})
	if err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/alerts/"+a.ID+"/assign", map[string]any{}, admin)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "no_candidate" {
		t.Fatalf("error code %q, want no_candidate", code)
	}
}

func TestGetMissingAlert(t *testing.T) {
	srv := newTestServer(t)
	admin := token(t, "ops", domain.RoleAdmin)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/alerts/3b9a5c0e-0000-4000-8000-000000000000", nil, admin)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("error code %q, want not_found", code)
	}
}
