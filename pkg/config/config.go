// Package config loads the server configuration from a YAML file and
// applies CHATRELAY_* environment overrides on top. Flags win over env,
// env wins over file, file wins over defaults.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Chat      ChatConfig      `yaml:"chat"`
	Security  SecurityConfig  `yaml:"security"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds http, tls and storage settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ChatConfig tunes the messaging core.
type ChatConfig struct {
	// RingTimeout bounds how long a call invite may ring ("45s").
	RingTimeout string `yaml:"ring_timeout"`
	// DeletedPreview replaces a chat preview after delete-for-everyone.
	DeletedPreview string `yaml:"deleted_preview"`
	// HistoryLimit caps messages per history fetch.
	HistoryLimit int `yaml:"history_limit"`
	// MaxBody bounds message bodies; accepts human sizes ("64KB").
	MaxBody string `yaml:"max_body"`
}

// RingTimeoutDuration parses RingTimeout, zero on absence or error.
func (c ChatConfig) RingTimeoutDuration() time.Duration {
	if c.RingTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.RingTimeout)
	if err != nil {
		return 0
	}
	return d
}

// MaxBodyBytes parses MaxBody, zero on absence or error.
func (c ChatConfig) MaxBodyBytes() int {
	if c.MaxBody == "" {
		return 0
	}
	if n, err := humanize.ParseBytes(c.MaxBody); err == nil {
		return int(n)
	}
	return 0
}

// SecurityConfig holds the connection edge settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// RetentionConfig drives the background purge runner.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// SyncTTL bounds how long undelivered sync updates are kept ("720h").
	SyncTTL string `yaml:"sync_ttl"`
}

// SyncTTLDuration parses SyncTTL, zero on absence or error.
func (c RetentionConfig) SyncTTLDuration() time.Duration {
	if c.SyncTTL == "" {
		return 0
	}
	d, err := time.ParseDuration(c.SyncTTL)
	if err != nil {
		return 0
	}
	return d
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Sink  string `yaml:"sink"`
}

// SetAddr splits a host:port value onto Address and Port. A value
// without a port becomes the address only.
func (c *Config) SetAddr(addr string) {
	if h, p, err := net.SplitHostPort(addr); err == nil {
		c.Server.Address = h
		if pi, err := strconv.Atoi(p); err == nil {
			c.Server.Port = pi
		}
		return
	}
	c.Server.Address = addr
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvOverrides applies environment overrides onto cfg and reports
// whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	parseList := func(v string) []string {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}

	if v := os.Getenv("CHATRELAY_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("CHATRELAY_DB_PATH"); v != "" {
		envUsed = true
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("CHATRELAY_RING_TIMEOUT"); v != "" {
		envUsed = true
		cfg.Chat.RingTimeout = v
	}
	if v := os.Getenv("CHATRELAY_HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Chat.HistoryLimit = n
		}
	}
	if v := os.Getenv("CHATRELAY_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("CHATRELAY_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("CHATRELAY_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("CHATRELAY_RETENTION_ENABLED"); v != "" {
		envUsed = true
		vl := strings.ToLower(strings.TrimSpace(v))
		cfg.Retention.Enabled = vl == "1" || vl == "true" || vl == "yes"
	}
	if v := os.Getenv("CHATRELAY_RETENTION_CRON"); v != "" {
		envUsed = true
		cfg.Retention.Cron = v
	}
	if v := os.Getenv("CHATRELAY_SYNC_TTL"); v != "" {
		envUsed = true
		cfg.Retention.SyncTTL = v
	}
	if v := os.Getenv("CHATRELAY_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	if c := os.Getenv("CHATRELAY_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("CHATRELAY_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}
	return envUsed
}

// LoadEffective loads config from path and applies env overrides. A
// missing file is not fatal; overrides apply onto the zero config.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag value
// and CHATRELAY_CONFIG when the flag was not set explicitly.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATRELAY_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
