package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"testing"
	"time"

	"dayline/internal/config"
	"dayline/internal/db"
	"dayline/internal/engine"
	"dayline/internal/migrate"
)

const testCatalog = `program:
  name: test-program
  days: 3

tasks:
  move:
    name: "Move"
    category: fitness
  read:
    name: "Read"
    category: mind

variants:
  solo:
    daily: [move, read]

achievements:
  - id: starter
    name: Starter
    category: fitness
    tier: 1
    requirements:
      - {task: move, count: 1}
`

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg, err := config.FromYAML([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC) }
	if auth.Logger == nil {
		auth.Logger = log.New(io.Discard, "", 0)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
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
	for k, v := range headers {
		req.Header.Set(k, v)
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

func asUser(userID string) map[string]string {
	return map[string]string{"X-User-Id": userID}
}

func createUser(t *testing.T, srv *testServer, userID string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/users", map[string]any{
		"user_id": userID,
		"variant": "solo",
	}, asUser(userID))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create user status %d: %s", res.StatusCode, string(data))
	}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestDailyFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyUserHeader: true})
	defer cleanup()
	client := srv.Client()
	createUser(t, srv, "u1")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/users/u1/tasks/move/complete", nil, asUser("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var outcome OutcomeResponse
	if err := json.Unmarshal(data, &outcome); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if len(outcome.NewlyUnlocked) != 1 || outcome.NewlyUnlocked[0].ID != "starter" {
		t.Fatalf("expected starter unlock, got %+v", outcome.NewlyUnlocked)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/users/u1/tasks/read/skip", map[string]any{
		"reason": "no time",
	}, asUser("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("skip status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &outcome); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if outcome.State.ActiveDay != 2 {
		t.Fatalf("day 1 resolved; expected active day 2, got %d", outcome.State.ActiveDay)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/u1/state", nil, asUser("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("state status %d: %s", res.StatusCode, string(data))
	}
	var state StateResponse
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.Day.Day != 2 || !state.Day.IsActive {
		t.Fatalf("viewing should follow to day 2: %+v", state.Day)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/u1/events?limit=10", nil, asUser("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events EventsResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events.Events) == 0 || events.Events[0].Type != "day.advanced" {
		t.Fatalf("expected day.advanced at the head of the log: %+v", events.Events)
	}
}

func TestCreateUserVariantsComeFromCatalog(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyUserHeader: true})
	defer cleanup()
	client := srv.Client()

	// The catalog declares "solo"; names outside the default catalog must
	// still be accepted when the catalog defines them.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/users", map[string]any{
		"user_id": "u1",
		"variant": "solo",
	}, asUser("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("catalog variant rejected: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/users", map[string]any{
		"user_id": "u2",
		"variant": "beginner",
	}, asUser("u2"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("undeclared variant should 400, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "bad_request" {
		t.Fatalf("expected bad_request, got %s", code)
	}
}

func TestWrongDayConflict(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyUserHeader: true})
	defer cleanup()
	client := srv.Client()
	createUser(t, srv, "u1")

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/users/u1/tasks/move/complete", nil, asUser("u1"))
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/users/u1/tasks/read/complete", nil, asUser("u1"))

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/users/u1/navigate", map[string]any{"day": 1}, asUser("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("navigate status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/users/u1/tasks/move/complete", nil, asUser("u1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "wrong_day" {
		t.Fatalf("expected wrong_day, got %s", code)
	}
}

func TestLockedDayConflict(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyUserHeader: true})
	defer cleanup()
	createUser(t, srv, "u1")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/users/u1/days/3", nil, asUser("u1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "day_locked" {
		t.Fatalf("expected day_locked, got %s", code)
	}
}

func TestNavigateOutOfRangeIsNotAnError(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyUserHeader: true})
	defer cleanup()
	createUser(t, srv, "u1")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/users/u1/navigate", map[string]any{"direction": "previous"}, asUser("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("navigate status %d: %s", res.StatusCode, string(data))
	}
	var nav NavigateResponse
	if err := json.Unmarshal(data, &nav); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if nav.Moved {
		t.Fatalf("previous at day 1 must not move")
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/users/u1/state", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	// Legacy header is rejected unless explicitly allowed.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/users/u1/state", nil, asUser("u1"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with legacy header disabled, got %d: %s", res.StatusCode, string(data))
	}
}

func TestCannotActOnAnotherUser(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyUserHeader: true})
	defer cleanup()
	createUser(t, srv, "u1")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/users/u1/state", nil, asUser("u2"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: "test-secret", EnableDevLogin: true})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"user_id": "u1"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("unmarshal token: %v (%s)", err, string(data))
	}

	bearer := map[string]string{"Authorization": "Bearer " + login.Token}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/users", map[string]any{
		"user_id": "u1",
		"variant": "solo",
	}, bearer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with bearer status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/u1/state", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("state with bearer status %d: %s", res.StatusCode, string(data))
	}
}
