package config

import (
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.WSIdleTimeout != DefaultWSIdleTimeout {
		t.Fatalf("WSIdleTimeout=%v, want %v", cfg.WSIdleTimeout, DefaultWSIdleTimeout)
	}
	if cfg.WSPingInterval != DefaultWSPingInterval {
		t.Fatalf("WSPingInterval=%v, want %v", cfg.WSPingInterval, DefaultWSPingInterval)
	}
	if cfg.MaxMessageBytes != DefaultMaxMessageBytes {
		t.Fatalf("MaxMessageBytes=%d, want %d", cfg.MaxMessageBytes, DefaultMaxMessageBytes)
	}
	if cfg.MaxMessagesPerSecond != DefaultMaxMessagesPerSecond {
		t.Fatalf("MaxMessagesPerSecond=%d, want %d", cfg.MaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	}
	if cfg.RoomPasswordEnabled {
		t.Fatalf("RoomPasswordEnabled=true, want false")
	}
	if cfg.APIKeySecret != "" {
		t.Fatalf("APIKeySecret=%q, want empty", cfg.APIKeySecret)
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Fatalf("ICEConfigError: %v", err)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != defaultStunURL {
		t.Fatalf("ICEServers=%v, want single default STUN entry", cfg.ICEServers)
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
}

func TestLogFormatExplicitOverride(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod", "--log-format", "text"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestFlagOverridesEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarListenAddr: "127.0.0.1:9999",
	}), []string{"--listen-addr", "0.0.0.0:4000"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:4000" {
		t.Fatalf("ListenAddr=%q, want 0.0.0.0:4000", cfg.ListenAddr)
	}
}

func TestPublicBaseURLTrailingSlashTrimmed(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarPublicBaseURL: "https://call.example.com/",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PublicBaseURL != "https://call.example.com" {
		t.Fatalf("PublicBaseURL=%q", cfg.PublicBaseURL)
	}
}

func TestPublicBaseURLInvalid(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarPublicBaseURL: "not a url",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestAllowedOriginsSplit(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "https://a.example, https://b.example,",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://a.example" || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
}

func TestPingIntervalMustBeLessThanIdleTimeout(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarWSIdleTimeout:  "10s",
		envVarWSPingInterval: "10s",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "ws-ping-interval") {
		t.Fatalf("err=%v, expected mention of ping interval", err)
	}
}

func TestWSIdleTimeoutEnvOverride(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarWSIdleTimeout: "90s",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WSIdleTimeout != 90*time.Second {
		t.Fatalf("WSIdleTimeout=%v, want 90s", cfg.WSIdleTimeout)
	}
}

func TestInvalidMode(t *testing.T) {
	_, err := load(noEnv, []string{"--mode", "staging"})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestRoomPasswordEnabled(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarRoomPasswordEnabled: "true",
		envVarRoomPassword:        "hunter2",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.RoomPasswordEnabled {
		t.Fatalf("RoomPasswordEnabled=false, want true")
	}
	if cfg.RoomPassword != "hunter2" {
		t.Fatalf("RoomPassword=%q", cfg.RoomPassword)
	}
}

func TestInvalidRoomPasswordEnabled(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarRoomPasswordEnabled: "definitely",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestMaxMessageBytesMustBePositive(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarMaxMessageBytes: "0",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestBadICEConfigDeferred(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envICEServersJSON: "{not json",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected deferred ICE config error")
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers=%v, want empty", cfg.ICEServers)
	}
}
