package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/peercall/coordinator/internal/auth"
	"github.com/peercall/coordinator/internal/config"
	"github.com/peercall/coordinator/internal/metrics"
	"github.com/peercall/coordinator/internal/protocol"
	"github.com/peercall/coordinator/internal/relay"
)

type nopConn struct{}

func (nopConn) Send(protocol.Message) error { return nil }

func startTestServer(t *testing.T, cfg config.Config, opts Options) (baseURL string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Coordinator == nil {
		opts.Coordinator = relay.NewCoordinator(log, opts.Metrics)
	}
	srv := New(cfg, log, opts)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String()
}

func testConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
	}
}

func TestHealthzReadyzVersion(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), Options{
		Build: BuildInfo{Commit: "abc", BuildTime: "time"},
	})

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/readyz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("version", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/version")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		var got BuildInfo
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := BuildInfo{Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})
}

func TestReadyzFailsOnInvalidICEConfig(t *testing.T) {
	t.Setenv("PEERCALL_ICE_SERVERS_JSON", "[")

	cfg, err := config.Load([]string{"--listen-addr", "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("config.Load returned fatal error: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error to be captured for readiness")
	}

	baseURL := startTestServer(t, cfg, Options{})

	resp, err := http.Get(baseURL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Inc(metrics.SignInOK)

	baseURL := startTestServer(t, testConfig(), Options{Metrics: m})

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(body), `peercall_coordinator_events_total{event="signin_ok"} 1`) {
		t.Fatalf("exposition missing counter:\n%s", body)
	}
}

func TestAPIRequiresKey(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), Options{
		APIKey: auth.APIKeyVerifier{Expected: "s3cret"},
	})

	get := func(key string) int {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, baseURL+"/api/v1/users", nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		if key != "" {
			req.Header.Set("Authorization", key)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	if status := get(""); status != http.StatusUnauthorized {
		t.Fatalf("no key: status=%d, want 401", status)
	}
	if status := get("wrong"); status != http.StatusUnauthorized {
		t.Fatalf("wrong key: status=%d, want 401", status)
	}
	if status := get("s3cret"); status != http.StatusOK {
		t.Fatalf("correct key: status=%d, want 200", status)
	}
}

func TestAPIDisabledWithoutConfiguredKey(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), Options{})

	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/v1/users", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", resp.StatusCode)
	}
}

func TestConnectedJoinLinks(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	coord := relay.NewCoordinator(log, m)
	for _, name := range []string{"alice", "bob", "carol"} {
		if err := coord.SignIn(nopConn{}, name); err != nil {
			t.Fatalf("sign in %s: %v", name, err)
		}
	}

	cfg := testConfig()
	cfg.PublicBaseURL = "https://call.example.com"
	cfg.RoomPasswordEnabled = true
	cfg.RoomPassword = "hunter2"

	baseURL := startTestServer(t, cfg, Options{
		Coordinator:  coord,
		Metrics:      m,
		APIKey:       auth.APIKeyVerifier{Expected: "s3cret"},
		RoomPassword: auth.NewRoomPassword(true, "hunter2"),
	})

	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/v1/connected?user=alice", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}

	var body struct {
		Links []string `json:"links"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Links) != 2 {
		t.Fatalf("links=%v, want 2 entries", body.Links)
	}
	for _, link := range body.Links {
		if !strings.HasPrefix(link, "https://call.example.com/join?") {
			t.Fatalf("link=%q, want public base URL prefix", link)
		}
		if !strings.Contains(link, "user=alice") || !strings.Contains(link, "password=hunter2") {
			t.Fatalf("link=%q, want user and password parameters", link)
		}
	}
	if !strings.Contains(body.Links[0], "call=bob") || !strings.Contains(body.Links[1], "call=carol") {
		t.Fatalf("links=%v, want call targets bob then carol", body.Links)
	}
}

func TestRoomPasswordEndpoints(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), Options{
		RoomPassword: auth.NewRoomPassword(true, "hunter2"),
	})

	resp, err := http.Get(baseURL + "/api/room-password")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var required struct {
		Required bool `json:"required"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&required); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !required.Required {
		t.Fatalf("required=false, want true")
	}

	validate := func(password string) bool {
		t.Helper()
		payload, _ := json.Marshal(map[string]string{"password": password})
		resp, err := http.Post(baseURL+"/api/room-password/validate", "application/json", bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		var body struct {
			Success bool `json:"success"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body.Success
	}

	if validate("nope") {
		t.Fatalf("wrong password validated")
	}
	if !validate("hunter2") {
		t.Fatalf("correct password rejected")
	}
}

func TestJoinGate(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), Options{
		RoomPassword: auth.NewRoomPassword(true, "hunter2"),
	})

	status := func(path string) int {
		t.Helper()
		resp, err := http.Get(baseURL + path)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	if s := status("/join?user=x&password=hunter2"); s != http.StatusBadRequest {
		t.Fatalf("short username: status=%d, want 400", s)
	}
	if s := status("/join?user=alice&call=x&password=hunter2"); s != http.StatusBadRequest {
		t.Fatalf("short call target: status=%d, want 400", s)
	}
	if s := status("/join?user=alice&password=nope"); s != http.StatusForbidden {
		t.Fatalf("wrong password: status=%d, want 403", s)
	}
	if s := status("/join?user=alice&call=bob&password=hunter2"); s != http.StatusOK {
		t.Fatalf("valid join: status=%d, want 200", s)
	}
}

func TestCrossOriginRejected(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), Options{})

	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/room-password", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", resp.StatusCode)
	}
}
