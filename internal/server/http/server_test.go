package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brianly1003/touchcore/internal/audit"
	"github.com/brianly1003/touchcore/internal/discovery"
	"github.com/brianly1003/touchcore/internal/files"
	"github.com/brianly1003/touchcore/internal/input"
	"github.com/brianly1003/touchcore/internal/pairing"
	"github.com/brianly1003/touchcore/internal/security"
	terminalws "github.com/brianly1003/touchcore/internal/server/websocket"
	"github.com/brianly1003/touchcore/internal/testutil"
)

type fakeInjector struct {
	moves testutil.Recorder[[2]int]
}

func (f *fakeInjector) Move(_ context.Context, x, y int) error {
	f.moves.Add([2]int{x, y})
	return nil
}

func (f *fakeInjector) Click(context.Context, int) error { return nil }

func (f *fakeInjector) ScreenSize(context.Context) input.Size {
	return input.Size{Width: 1920, Height: 1080}
}

func (f *fakeInjector) Available() bool { return true }

type fakeTerminal struct {
	upgrades testutil.Recorder[string]
}

func (f *fakeTerminal) HandleTerminal(w http.ResponseWriter, r *http.Request) {
	f.upgrades.Add(r.URL.Path)
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (f *fakeTerminal) Sessions() []terminalws.SessionInfo {
	return []terminalws.SessionInfo{{ID: "abc", BytesReceived: 3}}
}

func (f *fakeTerminal) SessionCount() int { return 1 }

type testServer struct {
	*Server
	root     string
	home     string
	injector *fakeInjector
	terminal *fakeTerminal
	audit    *audit.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		Server:   New("127.0.0.1", 0, "1.2.3"),
		root:     t.TempDir(),
		home:     t.TempDir(),
		injector: &fakeInjector{},
		terminal: &fakeTerminal{},
		audit:    audit.NewMemory(10),
	}

	svc, err := files.New(files.Config{Root: ts.root, MaxFileSize: 16})
	if err != nil {
		t.Fatal(err)
	}
	ts.SetFiles(svc)
	ts.SetMouse(input.NewController(ts.injector, input.ControllerConfig{MaxPerSecond: 2, MaxPerMinute: 100}, nil))
	ts.SetTerminal(ts.terminal)
	ts.SetDiscovery(discovery.NewStore(discovery.Config{Home: ts.home}))
	ts.SetPairing(pairing.NewQRGenerator(pairing.Config{ExternalURL: "https://desk.example.com:5000"}))
	ts.SetAudit(ts.audit)
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", w.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}

func TestServer_Index(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/", "", nil)
	expectStatus(t, w, http.StatusOK)

	got := decode(t, w)
	if got["status"] != "TouchCore Online" || got["version"] != "1.2.3" || got["ui"] != "https://desk.example.com:5000" {
		t.Errorf("index = %v", got)
	}
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", "", nil)
	expectStatus(t, w, http.StatusOK)

	got := decode(t, w)
	if got["status"] != "ok" || got["time"] == nil {
		t.Errorf("health = %v", got)
	}
	if got["terminal_sessions"] != float64(1) {
		t.Errorf("terminal_sessions = %v, want 1", got["terminal_sessions"])
	}
}

func TestServer_NotFoundAndMethod(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/nope", "", nil)
	expectStatus(t, w, http.StatusNotFound)
	if decode(t, w)["error"] != "Not found" {
		t.Errorf("body = %s", w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/health", "", nil)
	expectStatus(t, w, http.StatusMethodNotAllowed)
}

func TestServer_Files(t *testing.T) {
	ts := newTestServer(t)
	if err := os.WriteFile(filepath.Join(ts.root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ts.root, "big.txt"), []byte(strings.Repeat("x", 32)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(ts.root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	t.Run("list", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/files", "", nil)
		expectStatus(t, w, http.StatusOK)
		items, _ := decode(t, w)["items"].([]interface{})
		if len(items) != 3 {
			t.Fatalf("items = %v", items)
		}
		first := items[0].(map[string]interface{})
		if first["name"] != "sub" || first["type"] != "dir" {
			t.Errorf("first item = %v, want directory first", first)
		}
	})

	t.Run("read", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/read", `{"path":"a.txt"}`, nil)
		expectStatus(t, w, http.StatusOK)
		if got := decode(t, w)["content"]; got != "hello" {
			t.Errorf("content = %v", got)
		}
	})

	t.Run("write", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/write", `{"path":"new/b.txt","content":"written"}`, nil)
		expectStatus(t, w, http.StatusOK)
		if got := decode(t, w)["status"]; got != "success" {
			t.Errorf("status = %v", got)
		}
		data, err := os.ReadFile(filepath.Join(ts.root, "new", "b.txt"))
		if err != nil || string(data) != "written" {
			t.Errorf("file = %q, %v", data, err)
		}
	})

	errorTests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"outside root", http.MethodPost, "/read", `{"path":"../etc/passwd"}`, http.StatusForbidden},
		{"missing", http.MethodPost, "/read", `{"path":"missing.txt"}`, http.StatusNotFound},
		{"too large", http.MethodPost, "/read", `{"path":"big.txt"}`, http.StatusRequestEntityTooLarge},
		{"read directory", http.MethodPost, "/read", `{"path":"sub"}`, http.StatusBadRequest},
		{"list file", http.MethodGet, "/files?path=a.txt", "", http.StatusBadRequest},
		{"empty path", http.MethodPost, "/read", `{"path":""}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/write", `{"path":`, http.StatusBadRequest},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.target, tt.body, nil)
			expectStatus(t, w, tt.status)
			if decode(t, w)["error"] == nil {
				t.Errorf("expected error field in %s", w.Body.String())
			}
		})
	}
}

func TestServer_ComponentsUnavailable(t *testing.T) {
	s := New("127.0.0.1", 0, "dev")
	for _, target := range []string{"/files", "/mouse/stats", "/terminal/sessions", "/qr"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", target, w.Code)
		}
	}
}

func TestServer_Mouse(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/mouse", `{"x":5000,"y":-3,"click":true}`, nil)
	expectStatus(t, w, http.StatusOK)
	got := decode(t, w)
	if got["x"] != float64(1919) || got["clicked"] != true || got["action"] != "mouse_input" {
		t.Errorf("result = %v", got)
	}
	if moves := ts.injector.moves.Values(); len(moves) != 1 || moves[0] != [2]int{1919, 0} {
		t.Errorf("moves = %v", moves)
	}

	w = ts.do(t, http.MethodPost, "/mouse", `{"click":true,"button":7}`, nil)
	expectStatus(t, w, http.StatusBadRequest)

	w = ts.do(t, http.MethodPost, "/mouse", `{"x":1,"y":1}`, nil)
	expectStatus(t, w, http.StatusOK)
	w = ts.do(t, http.MethodPost, "/mouse", `{"x":2,"y":2}`, nil)
	expectStatus(t, w, http.StatusTooManyRequests)
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	w = ts.do(t, http.MethodGet, "/mouse/stats", "", nil)
	expectStatus(t, w, http.StatusOK)
	stats := decode(t, w)
	screen := stats["screen_resolution"].(map[string]interface{})
	if screen["width"] != float64(1920) {
		t.Errorf("stats = %v", stats)
	}
	rate := stats["rate_limiting"].(map[string]interface{})
	if rate["actions_last_second"] != float64(2) || rate["max_per_second"] != float64(2) {
		t.Errorf("rate stats = %v", rate)
	}
}

func TestServer_Terminal(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/terminal", "", nil)
	if w.Code != http.StatusSwitchingProtocols || ts.terminal.upgrades.Len() != 1 {
		t.Errorf("terminal route not delegated: %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/terminal/sessions", "", nil)
	expectStatus(t, w, http.StatusOK)
	got := decode(t, w)
	if got["count"] != float64(1) {
		t.Errorf("sessions = %v", got)
	}
}

func TestServer_QR(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/qr", "", nil)
	expectStatus(t, w, http.StatusOK)

	got := decode(t, w)
	if got["status"] != "success" || got["format"] != "base64" || got["url"] != "https://desk.example.com:5000" {
		t.Errorf("qr = %v", got)
	}
	if qr, _ := got["qr_base64"].(string); !strings.HasPrefix(qr, "data:image/png;base64,") {
		t.Errorf("qr_base64 = %.40q", qr)
	}
}

func TestServer_Log(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	for _, kind := range []string{"mouse", "terminal", "mouse"} {
		if err := ts.audit.Record(ctx, kind, kind+" event", nil); err != nil {
			t.Fatal(err)
		}
	}

	w := ts.do(t, http.MethodGet, "/log?limit=2", "", nil)
	expectStatus(t, w, http.StatusOK)
	entries, _ := decode(t, w)["log"].([]interface{})
	if len(entries) != 2 {
		t.Fatalf("log = %v", entries)
	}
	if last := entries[1].(map[string]interface{}); last["kind"] != "mouse" {
		t.Errorf("last entry = %v", last)
	}
}

func TestServer_RuntimeConfig(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/config/runtime", "", nil)
	expectStatus(t, w, http.StatusOK)
	var desc discovery.RuntimeDescriptor
	if err := json.Unmarshal(w.Body.Bytes(), &desc); err != nil {
		t.Fatal(err)
	}
	if desc.Mode != "development" || desc.Services.Frontend.URL != "http://example.com:3000" {
		t.Errorf("runtime = %+v", desc)
	}

	if err := os.MkdirAll(filepath.Join(ts.home, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	custom := `{"mode": "production"}`
	if err := os.WriteFile(filepath.Join(ts.home, "config", "runtime.json"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}
	w = ts.do(t, http.MethodGet, "/config/runtime", "", nil)
	expectStatus(t, w, http.StatusOK)
	if w.Body.String() != custom {
		t.Errorf("body = %q, want file verbatim", w.Body.String())
	}

	if err := os.WriteFile(filepath.Join(ts.home, "config", "runtime.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	w = ts.do(t, http.MethodGet, "/config/runtime", "", nil)
	expectStatus(t, w, http.StatusInternalServerError)
	if decode(t, w)["error"] != "Failed to load configuration" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestServer_TunnelStatus(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/tunnel/status", "", nil)
	expectStatus(t, w, http.StatusOK)
	got := decode(t, w)
	if _, ok := got["tailscale_ip"]; !ok || got["tailscale_ip"] != nil {
		t.Errorf("tunnel = %v", got)
	}

	if err := os.WriteFile(filepath.Join(ts.home, "tunnel-config.json"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	w = ts.do(t, http.MethodGet, "/tunnel/status", "", nil)
	expectStatus(t, w, http.StatusInternalServerError)
	if decode(t, w)["error"] != "Failed to load tunnel status" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestServer_TokenGate(t *testing.T) {
	ts := newTestServer(t)
	ts.SetTokenGate(security.NewTokenGate("s3cret"))

	tests := []struct {
		name   string
		method string
		target string
		auth   string
		status int
	}{
		{"missing token", http.MethodGet, "/files", "", http.StatusForbidden},
		{"wrong token", http.MethodGet, "/files", "Bearer nope", http.StatusForbidden},
		{"bearer token", http.MethodGet, "/files", "Bearer s3cret", http.StatusOK},
		{"raw token", http.MethodGet, "/files", "s3cret", http.StatusOK},
		{"query token", http.MethodGet, "/files?token=s3cret", "", http.StatusOK},
		{"health exempt", http.MethodGet, "/health", "", http.StatusOK},
		{"index exempt", http.MethodGet, "/", "", http.StatusOK},
		{"qr exempt", http.MethodGet, "/qr", "", http.StatusOK},
		{"runtime exempt", http.MethodGet, "/config/runtime", "", http.StatusOK},
		{"tunnel exempt", http.MethodGet, "/tunnel/status", "", http.StatusOK},
		{"log protected", http.MethodGet, "/log", "", http.StatusForbidden},
		{"preflight", http.MethodOptions, "/mouse", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.auth != "" {
				header.Set("Authorization", tt.auth)
			}
			w := ts.do(t, tt.method, tt.target, "", header)
			expectStatus(t, w, tt.status)
		})
	}
}

func TestServer_CORS(t *testing.T) {
	ts := newTestServer(t)
	ts.SetOriginChecker(security.NewOriginChecker([]string{"https://desk.example.com"}, false))

	w := ts.do(t, http.MethodGet, "/health", "", http.Header{"Origin": []string{"https://evil.example.com"}})
	expectStatus(t, w, http.StatusForbidden)

	w = ts.do(t, http.MethodGet, "/health", "", http.Header{"Origin": []string{"https://desk.example.com"}})
	expectStatus(t, w, http.StatusOK)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://desk.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	w = ts.do(t, http.MethodGet, "/health", "", nil)
	expectStatus(t, w, http.StatusOK)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q without an Origin", got)
	}
}

func TestServer_StartStop(t *testing.T) {
	s := New("127.0.0.1", 0, "dev")
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
