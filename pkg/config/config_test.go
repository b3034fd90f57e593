package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
server:
  address: "127.0.0.1"
  port: 9090
  db_path: "/var/lib/chatrelay"
chat:
  ring_timeout: "30s"
  history_limit: 50
security:
  cors:
    allowed_origins: ["https://app.example.com"]
retention:
  enabled: true
  cron: "0 3 * * *"
  sync_ttl: "168h"
logging:
  level: "debug"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Addr(); got != "127.0.0.1:9090" {
		t.Fatalf("Addr = %q", got)
	}
	if cfg.Server.DBPath != "/var/lib/chatrelay" {
		t.Fatalf("db_path = %q", cfg.Server.DBPath)
	}
	if got := cfg.Chat.RingTimeoutDuration(); got != 30*time.Second {
		t.Fatalf("ring timeout = %v", got)
	}
	if cfg.Chat.HistoryLimit != 50 {
		t.Fatalf("history limit = %d", cfg.Chat.HistoryLimit)
	}
	if !cfg.Retention.Enabled || cfg.Retention.Cron != "0 3 * * *" {
		t.Fatalf("retention = %+v", cfg.Retention)
	}
	if got := cfg.Retention.SyncTTLDuration(); got != 168*time.Hour {
		t.Fatalf("sync ttl = %v", got)
	}
	if len(cfg.Security.CORS.AllowedOrigins) != 1 {
		t.Fatalf("origins = %v", cfg.Security.CORS.AllowedOrigins)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAddrDefaults(t *testing.T) {
	var cfg Config
	if got := cfg.Addr(); got != "0.0.0.0:8080" {
		t.Fatalf("Addr = %q", got)
	}
}

func TestSetAddr(t *testing.T) {
	var cfg Config
	cfg.SetAddr("127.0.0.1:9000")
	if cfg.Server.Address != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Fatalf("got %q %d", cfg.Server.Address, cfg.Server.Port)
	}
	cfg.SetAddr("localhost")
	if cfg.Server.Address != "localhost" || cfg.Server.Port != 9000 {
		t.Fatalf("bare host: got %q %d", cfg.Server.Address, cfg.Server.Port)
	}
}

func TestRingTimeoutUnsetOrInvalid(t *testing.T) {
	var c ChatConfig
	if got := c.RingTimeoutDuration(); got != 0 {
		t.Fatalf("unset ring timeout = %v", got)
	}
	c.RingTimeout = "garbage"
	if got := c.RingTimeoutDuration(); got != 0 {
		t.Fatalf("bad ring timeout = %v", got)
	}
}

func TestMaxBodyBytes(t *testing.T) {
	var c ChatConfig
	if got := c.MaxBodyBytes(); got != 0 {
		t.Fatalf("unset max body = %d", got)
	}
	c.MaxBody = "1 MB"
	if got := c.MaxBodyBytes(); got != 1000000 {
		t.Fatalf("1 MB = %d", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHATRELAY_ADDR", "10.0.0.5:7070")
	t.Setenv("CHATRELAY_DB_PATH", "/tmp/cr")
	t.Setenv("CHATRELAY_HISTORY_LIMIT", "25")
	t.Setenv("CHATRELAY_CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("CHATRELAY_RATE_RPS", "12.5")
	t.Setenv("CHATRELAY_RETENTION_ENABLED", "true")
	t.Setenv("CHATRELAY_LOG_LEVEL", "warn")

	var cfg Config
	if !LoadEnvOverrides(&cfg) {
		t.Fatal("expected envUsed")
	}
	if got := cfg.Addr(); got != "10.0.0.5:7070" {
		t.Fatalf("Addr = %q", got)
	}
	if cfg.Server.DBPath != "/tmp/cr" {
		t.Fatalf("db path = %q", cfg.Server.DBPath)
	}
	if cfg.Chat.HistoryLimit != 25 {
		t.Fatalf("history limit = %d", cfg.Chat.HistoryLimit)
	}
	if len(cfg.Security.CORS.AllowedOrigins) != 2 || cfg.Security.CORS.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("origins = %v", cfg.Security.CORS.AllowedOrigins)
	}
	if cfg.Security.RateLimit.RPS != 12.5 {
		t.Fatalf("rps = %v", cfg.Security.RateLimit.RPS)
	}
	if !cfg.Retention.Enabled {
		t.Fatal("retention not enabled")
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("log level = %q", cfg.Logging.Level)
	}
}

func TestLoadEffectiveMissingFileNotFatal(t *testing.T) {
	t.Setenv("CHATRELAY_ADDR", "127.0.0.1:6000")
	cfg, envUsed, err := LoadEffective(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadEffective: %v", err)
	}
	if !envUsed {
		t.Fatal("expected env override")
	}
	if got := cfg.Addr(); got != "127.0.0.1:6000" {
		t.Fatalf("Addr = %q", got)
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := ResolveConfigPath("/explicit.yaml", true); got != "/explicit.yaml" {
		t.Fatalf("flag set: %q", got)
	}
	t.Setenv("CHATRELAY_CONFIG", "/env.yaml")
	if got := ResolveConfigPath("/default.yaml", false); got != "/env.yaml" {
		t.Fatalf("env: %q", got)
	}
	os.Unsetenv("CHATRELAY_CONFIG")
	if got := ResolveConfigPath("/default.yaml", false); got != "/default.yaml" {
		t.Fatalf("fallback: %q", got)
	}
}
