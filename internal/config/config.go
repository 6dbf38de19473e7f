package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"0s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Provider
	GeminiAPIKey      string        `env:"GEMINI_API_KEY"`
	Models            []string      `env:"MODELS" envSeparator:"," envDefault:"gemini-2.5-flash,gemini-2.5-flash-lite,gemini-2.0-flash"`
	RepairModel       string        `env:"REPAIR_MODEL" envDefault:"gemini-2.5-flash-lite"`
	MockMode          bool          `env:"MOCK_MODE" envDefault:"false"`
	MockTokenInterval time.Duration `env:"MOCK_TOKEN_INTERVAL" envDefault:"150ms"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	PollBackoffBase   time.Duration `env:"POLL_BACKOFF_BASE" envDefault:"2s"`
	PollMaxRetries    int           `env:"POLL_MAX_RETRIES" envDefault:"5"`

	// Upload limits
	MaxUploadBytes   int64         `env:"MAX_UPLOAD_BYTES" envDefault:"2147483648"`
	MaxMediaDuration time.Duration `env:"MAX_MEDIA_DURATION" envDefault:"2h"`
	TempDir          string        `env:"TEMP_DIR"`
	FFprobePath      string        `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	OrphanMaxAge     time.Duration `env:"ORPHAN_MAX_AGE" envDefault:"6h"`

	// Admission
	RateLimit          int           `env:"RATE_LIMIT" envDefault:"5"`
	RateWindow         time.Duration `env:"RATE_WINDOW" envDefault:"24h"`
	RateSweepInterval  time.Duration `env:"RATE_SWEEP_INTERVAL" envDefault:"1h"`
	TrustedProxyHeader string        `env:"TRUSTED_PROXY_HEADER" envDefault:"X-Forwarded-For"`
	RedisURL           string        `env:"REDIS_URL"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// AdminToken guards /stats and /metrics when set.
	AdminToken string `env:"ADMIN_TOKEN"`

	// Usage ledger: DATABASE_URL selects Postgres, otherwise SQLite at LEDGER_PATH.
	DatabaseURL string `env:"DATABASE_URL"`
	LedgerPath  string `env:"LEDGER_PATH" envDefault:"./usage.db"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	MockMode    bool
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.MockMode {
		cfg.MockMode = true
	}

	cfg.Models = normalizeList(cfg.Models)
	cfg.AllowedOrigins = normalizeList(cfg.AllowedOrigins)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.MockMode && c.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY is required unless MOCK_MODE=true")
	}
	if len(c.Models) == 0 {
		return errors.New("MODELS must list at least one model")
	}
	if c.RateLimit < 1 {
		return errors.New("RATE_LIMIT must be >= 1")
	}
	if c.RateWindow <= 0 {
		return errors.New("RATE_WINDOW must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	if c.PollMaxRetries < 0 {
		return errors.New("POLL_MAX_RETRIES must be >= 0")
	}
	return nil
}

// normalizeList trims entries, drops empties and duplicates, and keeps order.
func normalizeList(in []string) []string {
	trimmed := lo.Map(in, func(s string, _ int) string { return strings.TrimSpace(s) })
	return lo.Uniq(lo.Compact(trimmed))
}
