package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/liverelay/internal/config"
	"github.com/gaspardpetit/liverelay/internal/live"
	"github.com/gaspardpetit/liverelay/internal/relay"
	"github.com/gaspardpetit/liverelay/internal/wire"
)

type nopUpstream struct{}

func (nopUpstream) SendContent(context.Context, live.ClientContent) error       { return nil }
func (nopUpstream) SendRealtimeInput(context.Context, live.RealtimeInput) error { return nil }
func (nopUpstream) Close() error                                                { return nil }

type openDialer struct{}

func (openDialer) Dial(_ context.Context, _ string, cb live.Callbacks) (relay.Upstream, error) {
	cb.OnOpen()
	return nopUpstream{}, nil
}

func testConfig() config.ServerConfig {
	var cfg config.ServerConfig
	cfg.SetDefaults()
	cfg.Port = 8080
	return cfg
}

func start(t *testing.T, cfg config.ServerConfig) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New(cfg, openDialer{}, BuildInfo{Version: "1.2.3"}))
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, wantStatus int, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d; want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	ts := start(t, testConfig())
	for _, path := range []string{"/healthz", "/health", "/api/v1/health"} {
		var body healthResponse
		resp := getJSON(t, ts.URL+path, http.StatusOK, &body)
		if body.Status != "OK" || body.Version != "1.2.3" || body.Uptime < 0 {
			t.Fatalf("%s: %+v", path, body)
		}
		if _, err := time.Parse(time.RFC3339Nano, body.Timestamp); err != nil {
			t.Fatalf("%s timestamp %q: %v", path, body.Timestamp, err)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Fatalf("%s content type %q", path, ct)
		}
	}
}

func TestStatusReportsAPIKey(t *testing.T) {
	cases := []struct {
		key  string
		want bool
	}{
		{"", false},
		{"your_api_key_here", false},
		{"AIza-real", true},
	}
	for _, c := range cases {
		cfg := testConfig()
		cfg.APIKey = c.key
		cfg.Model = "gemini-test"
		ts := start(t, cfg)
		var body statusResponse
		getJSON(t, ts.URL+"/api/status", http.StatusOK, &body)
		if body.HasAPIKey != c.want {
			t.Fatalf("key %q: hasApiKey = %v", c.key, body.HasAPIKey)
		}
		if body.Mode != ModeTextOnly || body.Model != "gemini-test" {
			t.Fatalf("status %+v", body)
		}
	}
}

func TestNotFoundJSON(t *testing.T) {
	ts := start(t, testConfig())
	var body errorBody
	getJSON(t, ts.URL+"/nope", http.StatusNotFound, &body)
	if body.Error.Message != "Route not found" || body.Error.Status != http.StatusNotFound {
		t.Fatalf("body %+v", body)
	}
}

func TestIndex(t *testing.T) {
	ts := start(t, testConfig())
	var body struct {
		Name      string            `json:"name"`
		Endpoints map[string]string `json:"endpoints"`
	}
	getJSON(t, ts.URL+"/", http.StatusOK, &body)
	if body.Name != "liverelay" || body.Endpoints["websocket"] != "/ws" || body.Endpoints["metrics"] != "/metrics" {
		t.Fatalf("index %+v", body)
	}
}

func TestMetricsEndpointDefaultPort(t *testing.T) {
	ts := start(t, testConfig())
	resp := getJSON(t, ts.URL+"/metrics", http.StatusOK, nil)
	_ = resp
}

func TestMetricsEndpointSeparatePort(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsAddr = ":9090"
	ts := start(t, cfg)
	getJSON(t, ts.URL+"/metrics", http.StatusNotFound, nil)

	srv := New(cfg, openDialer{}, BuildInfo{})
	mts := httptest.NewServer(srv.MetricsHandler())
	defer mts.Close()
	getJSON(t, mts.URL, http.StatusOK, nil)
}

func TestCORSAllowedOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://example.com"}
	ts := start(t, cfg)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/status", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Fatalf("allow origin %q", got)
	}
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"https://example.com", "*", "localhost:3000", "://bad"})
	want := []string{"example.com", "*", "localhost:3000"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("patterns %v", got)
	}
}

func TestWebSocketRoute(t *testing.T) {
	cfg := testConfig()
	cfg.WSPath = "/relay"
	ts := start(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/relay", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()
	if err := c.Write(ctx, websocket.MessageText, []byte(`{"type":"connect_gemini"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev wire.Event
	if err := json.Unmarshal(data, &ev); err != nil || ev.Type != wire.EventConnected {
		t.Fatalf("event %s (%v)", data, err)
	}
}

func TestLiveConfigTranscriptions(t *testing.T) {
	cfg := testConfig()
	if lc := LiveConfig(cfg); !lc.Transcriptions || lc.Model != cfg.Model || lc.URL != cfg.LiveURL {
		t.Fatalf("live config %+v", lc)
	}
	cfg.Transcriptions = false
	if LiveConfig(cfg).Transcriptions {
		t.Fatalf("transcriptions not disabled")
	}
}
