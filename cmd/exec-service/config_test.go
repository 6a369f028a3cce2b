package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseAppConfigDefaults(t *testing.T) {
	cfg, err := parseAppConfig([]byte("auth:\n  disabled: true\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Server.Addr != defaultHTTPAddr || cfg.Server.WriteTimeout != defaultWriteTimeout {
		t.Fatalf("server defaults not applied: %+v", cfg.Server)
	}
	if cfg.Problems.Source != problemSourceFile || cfg.Progress.Backend != progressBackendMemory || cfg.Events.Driver != eventsDriverNone {
		t.Fatalf("backend defaults not applied: %+v %+v %+v", cfg.Problems, cfg.Progress, cfg.Events)
	}
	if cfg.Session.QuietPeriod != 300*time.Millisecond {
		t.Fatalf("session quiet period = %v", cfg.Session.QuietPeriod)
	}
	if cfg.Judge.WorkerPoolSize == 0 || cfg.Engine.KillGrace == 0 || cfg.WebSocket.PingPeriod == 0 {
		t.Fatalf("component defaults not applied")
	}
	if cfg.RateLimit.Window != time.Minute || len(cfg.CORS.AllowedMethods) == 0 {
		t.Fatalf("middleware defaults not applied: %+v %+v", cfg.RateLimit, cfg.CORS)
	}
}

func TestParseAppConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing secret", "{}", "jwtSecret"},
		{"mysql without dsn", "auth: {disabled: true}\nproblems: {source: mysql}", "dsn"},
		{"redis without addr", "auth: {disabled: true}\nprogress: {backend: redis}", "redis addr"},
		{"rate limit without redis", "auth: {disabled: true}\nrateLimit: {enabled: true}", "rateLimit"},
		{"kafka without brokers", "auth: {disabled: true}\nevents: {driver: kafka}", "brokers"},
		{"unknown driver", "auth: {disabled: true}\nevents: {driver: carrier-pigeon}", "events.driver"},
	}
	for _, tt := range tests {
		_, err := parseAppConfig([]byte(tt.yaml))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tt.name, tt.want, err)
		}
	}
}

func TestLoadAppConfigExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("JUDGEBOX_TEST_SECRET=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("JUDGEBOX_TEST_SECRET") })
	t.Setenv("JUDGEBOX_TEST_ADDR", "127.0.0.1:9999")

	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "server:\n  addr: \"${JUDGEBOX_TEST_ADDR}\"\nauth:\n  jwtSecret: \"${JUDGEBOX_TEST_SECRET}\"\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadAppConfig(cfgPath, envPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" || cfg.Auth.JWTSecret != "from-dotenv" {
		t.Fatalf("env not expanded: addr=%q secret=%q", cfg.Server.Addr, cfg.Auth.JWTSecret)
	}

	if _, err := loadAppConfig(cfgPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}
