package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/studyfocus/internal/blocking"
	"github.com/hpungsan/studyfocus/internal/bridge"
	"github.com/hpungsan/studyfocus/internal/config"
	"github.com/hpungsan/studyfocus/internal/db"
	"github.com/hpungsan/studyfocus/internal/ops"
	"github.com/hpungsan/studyfocus/internal/schedule"
	"github.com/hpungsan/studyfocus/internal/state"
)

var testNow = time.Date(2026, 10, 19, 16, 0, 0, 0, time.UTC)

type testEnv struct {
	svc     *ops.Service
	handler http.Handler
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	store := state.NewSQLiteStore(database)
	t.Cleanup(func() { store.Close() })
	rules := blocking.NewManager(db.NewRuleStore(database), cfg.BlockPagePath)
	svc := ops.NewService(store, rules, cfg)
	svc.SetClock(func() time.Time { return testNow })

	relay := bridge.NewRelay(bridge.NewChannel(), cfg.AllowedOrigins, bridge.NewHandler(svc))
	return &testEnv{svc: svc, handler: NewHandler(svc, relay, "test")}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func startSession(t *testing.T, e *testEnv) {
	t.Helper()
	_, err := e.svc.StartSession(context.Background(), ops.StartSessionInput{
		Tasks: []schedule.Task{
			{ID: "a", Title: "Read chapter 4", EstimatedMinutes: 25},
			{ID: "b", Title: "Problem set", EstimatedMinutes: 10},
		},
		BlockedSites: []string{"youtube.com"},
	})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
}

// --- HandleStatus ---

func TestHandleStatus_Idle(t *testing.T) {
	e := setupTest(t)

	rec := e.do(httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "No session running") {
		t.Error("expected idle message")
	}
	if !strings.Contains(body, "No tasks planned") {
		t.Error("expected empty plan message")
	}
}

func TestHandleStatus_ActiveSession(t *testing.T) {
	e := setupTest(t)
	startSession(t, e)

	rec := e.do(httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Read chapter 4", "Recharge break (5 min)", "Problem set", "youtube.com", "1 of 3", "40 min"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in page", want)
		}
	}
	if !strings.Contains(body, `data-phase-end="`) {
		t.Error("expected countdown element")
	}
}

func TestHandleStatus_NotesMarkdown(t *testing.T) {
	e := setupTest(t)
	if _, err := e.svc.UpdateNotes(context.Background(), "# Reminders\n\n- bring **calculator**\n\n<script>alert(1)</script>"); err != nil {
		t.Fatalf("update notes: %v", err)
	}

	body := e.do(httptest.NewRequest("GET", "/", nil)).Body.String()
	if !strings.Contains(body, "<strong>calculator</strong>") {
		t.Error("expected markdown to be rendered")
	}
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("raw HTML in notes must not be passed through")
	}
}

func TestHandleStatus_JSON(t *testing.T) {
	e := setupTest(t)
	startSession(t, e)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept", "application/json")
	rec := e.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var st state.SharedState
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.ActiveSession == nil || len(st.ActiveSession.Entries) != 3 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

// --- HandleBlocked ---

func TestHandleBlocked(t *testing.T) {
	e := setupTest(t)
	startSession(t, e)

	rec := e.do(httptest.NewRequest("GET", "/blocked?url="+url.QueryEscape("https://youtube.com/watch"), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "https://youtube.com/watch") {
		t.Error("expected blocked url in page")
	}
	if !strings.Contains(body, "Read chapter 4") {
		t.Error("expected current task in page")
	}
}

// --- HandleCheck ---

func TestHandleCheck(t *testing.T) {
	e := setupTest(t)
	startSession(t, e)

	tests := []struct {
		url     string
		blocked bool
	}{
		{"https://www.youtube.com/watch?v=1", true},
		{"https://youtube.com", true},
		{"https://example.com", false},
		{"https://notyoutube.com", false},
	}
	for _, tt := range tests {
		rec := e.do(httptest.NewRequest("GET", "/check?url="+url.QueryEscape(tt.url), nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", tt.url, rec.Code)
		}
		var got CheckResult
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Blocked != tt.blocked {
			t.Errorf("%s: blocked = %v, want %v", tt.url, got.Blocked, tt.blocked)
		}
		if got.Blocked && (got.RuleID != blocking.RuleIDBase || got.Redirect != "/blocked") {
			t.Errorf("%s: unexpected rule %+v", tt.url, got)
		}
	}
}

func TestHandleCheck_MissingURL(t *testing.T) {
	e := setupTest(t)

	req := httptest.NewRequest("GET", "/check", nil)
	req.Header.Set("Accept", "application/json")
	rec := e.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_REQUEST") {
		t.Error("expected INVALID_REQUEST code")
	}
}

// --- HandleBridge ---

func bridgeRequest(origin, body string) *http.Request {
	req := httptest.NewRequest("POST", "/bridge", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestHandleBridge_RoundTrip(t *testing.T) {
	e := setupTest(t)

	rec := e.do(bridgeRequest("http://localhost:5173", `{"source":"studyfocus-web","requestId":"r1","type":"SF_START_SESSION","payload":{"tasks":[{"id":"a","title":"A","estimatedMinutes":25,"order":1}],"blockedSites":["youtube.com"]}}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow-origin = %q", got)
	}
	var resp bridge.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.RequestID != "r1" || resp.Source != bridge.SourceExtension {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Session) == 0 {
		t.Error("expected session in response")
	}
}

func TestHandleBridge_UnknownType(t *testing.T) {
	e := setupTest(t)

	rec := e.do(bridgeRequest("http://127.0.0.1", `{"requestId":"r2","type":"SF_WHATEVER"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp bridge.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || !strings.Contains(resp.Error, "SF_WHATEVER") {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleBridge_DisallowedOrigin(t *testing.T) {
	e := setupTest(t)

	for _, origin := range []string{"", "https://evil.example", "http://localhost.evil.example"} {
		rec := e.do(bridgeRequest(origin, `{"requestId":"r3","type":"SF_END_SESSION"}`))
		if rec.Code != http.StatusForbidden {
			t.Errorf("origin %q: status = %d, want 403", origin, rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("origin %q: expected empty body, got %q", origin, rec.Body.String())
		}
	}
}

func TestHandleBridge_IgnoredMessages(t *testing.T) {
	e := setupTest(t)

	for _, body := range []string{`not json`, `{"requestId":"r4","type":"NEXT_PHASE"}`, `{"type":"SF_PING"}`} {
		rec := e.do(bridgeRequest("http://localhost", body))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestHandleBridgePreflight(t *testing.T) {
	e := setupTest(t)

	req := httptest.NewRequest("OPTIONS", "/bridge", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := e.do(req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected allow-methods header")
	}

	req = httptest.NewRequest("OPTIONS", "/bridge", nil)
	req.Header.Set("Origin", "https://evil.example")
	if rec := e.do(req); rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

// --- HandleEvents ---

func TestHandleEvents_StreamsChanges(t *testing.T) {
	e := setupTest(t)
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	reader := bufio.NewReader(res.Body)
	first := readEvent(t, reader)
	if first.ActiveSession != nil {
		t.Fatal("expected idle snapshot first")
	}

	startSession(t, e)
	next := readEvent(t, reader)
	if next.ActiveSession == nil {
		t.Fatal("expected session in change event")
	}
}

func TestHandleEvents_DisallowedOrigin(t *testing.T) {
	e := setupTest(t)

	for _, origin := range []string{"https://evil.example", "http://localhost.evil.example"} {
		req := httptest.NewRequest("GET", "/events", nil)
		req.Header.Set("Origin", origin)
		rec := e.do(req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("origin %q: status = %d, want 403", origin, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct == "text/event-stream" {
			t.Errorf("origin %q: stream opened", origin)
		}
	}
}

func TestHandleEvents_AllowedOrigins(t *testing.T) {
	e := setupTest(t)
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	for _, origin := range []string{"http://localhost:3000", srv.URL} {
		ctx, cancel := context.WithCancel(context.Background())
		req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/events", nil)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Origin", origin)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("origin %q: get events: %v", origin, err)
		}
		if res.StatusCode != http.StatusOK {
			t.Errorf("origin %q: status = %d, want 200", origin, res.StatusCode)
		}
		readEvent(t, bufio.NewReader(res.Body))
		cancel()
		res.Body.Close()
	}
}

func TestSameHost(t *testing.T) {
	tests := []struct {
		origin, host string
		want         bool
	}{
		{"http://studyfocus.lan:5173", "studyfocus.lan:5173", true},
		{"http://studyfocus.lan:5173", "studyfocus.lan:8080", false},
		{"https://evil.example", "studyfocus.lan:5173", false},
		{"http://studyfocus.lan", "", false},
		{"::bad", "studyfocus.lan", false},
	}
	for _, tt := range tests {
		if got := sameHost(tt.origin, tt.host); got != tt.want {
			t.Errorf("sameHost(%q, %q) = %v, want %v", tt.origin, tt.host, got, tt.want)
		}
	}
}

// readEvent reads lines until one complete state event has been parsed.
func readEvent(t *testing.T, r *bufio.Reader) state.SharedState {
	t.Helper()
	var st state.SharedState
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("read: %v", err)
		}
		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return st
	}
	t.Fatal("no event received")
	return st
}

// --- Static and headers ---

func TestStaticAndSecurityHeaders(t *testing.T) {
	e := setupTest(t)

	rec := e.do(httptest.NewRequest("GET", "/static/style.css", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected X-Frame-Options header")
	}
	if !strings.Contains(rec.Header().Get("Content-Security-Policy"), "default-src 'self'") {
		t.Error("expected CSP header")
	}

	if rec := e.do(httptest.NewRequest("GET", "/nope", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestFormatTimeAndPhase(t *testing.T) {
	st := state.Empty()
	if buildPhase(st, testNow) != nil {
		t.Error("expected no phase when idle")
	}
	if got := len(buildSlots(st, testNow)); got != 0 {
		t.Errorf("slots = %d, want 0", got)
	}

	st.Tasks = []schedule.Task{{ID: "a", Title: "A", EstimatedMinutes: 25}, {ID: "b", Title: "B", EstimatedMinutes: 10}}
	slots := buildSlots(st, testNow)
	if len(slots) != 3 || !slots[1].IsBreak || slots[0].Current {
		t.Fatalf("unexpected slots: %+v", slots)
	}
	if slots[0].End != slots[1].Start {
		t.Errorf("slot 0 ends %s, slot 1 starts %s", slots[0].End, slots[1].Start)
	}
}

func TestLocalURL(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:5173": "http://127.0.0.1:5173",
		"0.0.0.0:5173":   "http://127.0.0.1:5173",
		":5173":          "http://127.0.0.1:5173",
		"[::]:5173":      "http://127.0.0.1:5173",
		"[::1]:5173":     "http://[::1]:5173",
	}
	for addr, want := range tests {
		if got := LocalURL(addr); got != want {
			t.Errorf("LocalURL(%q) = %q, want %q", addr, got, want)
		}
	}
}
