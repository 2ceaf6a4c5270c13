// Package config loads runtime configuration from BATON_* environment
// variables and owns process logger setup. Empty store addresses leave the
// engine on its in-memory implementations, so a bare environment boots a
// fully working single-node instance.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime setting.
type Config struct {
	Addr     string `env:"BATON_ADDR" envDefault:":8080"`
	Version  string `env:"BATON_VERSION" envDefault:"dev"`
	LogLevel string `env:"BATON_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"BATON_LOG_JSON" envDefault:"false"`

	// Durable stores. Postgres mirrors the registry and idempotency cache,
	// Redis holds coordination sessions, SQLite archives audit entries.
	PostgresURL string `env:"BATON_POSTGRES_URL"`
	RedisAddr   string `env:"BATON_REDIS_ADDR"`
	SQLitePath  string `env:"BATON_SQLITE_PATH"`

	// OTLPEndpoint enables metric and trace export when set.
	OTLPEndpoint string `env:"BATON_OTLP_ENDPOINT"`

	// JWTSecret switches token verification to the shared HS256 secret.
	// Empty means a per-process ed25519 key set (development mode).
	JWTSecret string `env:"BATON_JWT_SECRET"`

	// Startup seeding.
	ManifestDir string `env:"BATON_MANIFEST_DIR"`
	PolicyDir   string `env:"BATON_POLICY_DIR"`

	// Approval engine.
	ApprovalTTL time.Duration `env:"BATON_APPROVAL_TTL" envDefault:"5m"`

	// API hardening.
	RateLimitRPS   int           `env:"BATON_RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int           `env:"BATON_RATE_LIMIT_BURST" envDefault:"100"`
	IdempotencyTTL time.Duration `env:"BATON_IDEMPOTENCY_TTL" envDefault:"10m"`
	CORSOrigins    []string      `env:"BATON_CORS_ORIGINS" envSeparator:","`
}

// Load parses the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// SlogLevel maps the configured level onto slog's scale. Unknown values
// fall back to info rather than failing the boot.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger builds the process logger for the configured level and format.
func (c *Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
