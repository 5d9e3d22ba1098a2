// Package config loads the portal client configuration from a YAML file, an
// optional .env file and STUDIO_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pixelcraft-studio/portal/pkg/logger"
)

// Realtime modes.
const (
	ModePush = "push"
	ModePoll = "poll"
)

// Config is the full client configuration.
type Config struct {
	Supabase    SupabaseConfig    `yaml:"supabase"`
	Realtime    RealtimeConfig    `yaml:"realtime"`
	Session     SessionConfig     `yaml:"session"`
	Log         logger.Config     `yaml:"log"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Invoice     InvoiceConfig     `yaml:"invoice"`
}

// SupabaseConfig points the client at a project.
type SupabaseConfig struct {
	URL               string        `yaml:"url"`
	AnonKey           string        `yaml:"anon_key"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// RealtimeConfig selects how new rows reach open screens.
type RealtimeConfig struct {
	Mode         string        `yaml:"mode"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SessionConfig controls where the signed-in session is persisted.
type SessionConfig struct {
	Path string `yaml:"path"`
	// Secret seals the session file when set.
	Secret string `yaml:"secret"`
}

// DiagnosticsConfig enables the local diagnostics listener when Addr is set.
type DiagnosticsConfig struct {
	Addr string `yaml:"addr"`
}

// InvoiceConfig holds invoice defaults used by the admin back office.
type InvoiceConfig struct {
	TaxRate  float64 `yaml:"tax_rate"`
	Currency string  `yaml:"currency"`
	DueDays  int     `yaml:"due_days"`
}

type envOverrides struct {
	SupabaseURL     string        `env:"STUDIO_SUPABASE_URL"`
	AnonKey         string        `env:"STUDIO_SUPABASE_ANON_KEY"`
	Timeout         time.Duration `env:"STUDIO_SUPABASE_TIMEOUT"`
	RealtimeMode    string        `env:"STUDIO_REALTIME_MODE"`
	PollInterval    time.Duration `env:"STUDIO_POLL_INTERVAL"`
	SessionPath     string        `env:"STUDIO_SESSION_PATH"`
	SessionSecret   string        `env:"STUDIO_SESSION_SECRET"`
	LogLevel        string        `env:"STUDIO_LOG_LEVEL"`
	LogFile         string        `env:"STUDIO_LOG_FILE"`
	DiagnosticsAddr string        `env:"STUDIO_DIAGNOSTICS_ADDR"`
	TaxRate         float64       `env:"STUDIO_INVOICE_TAX_RATE"`
	Currency        string        `env:"STUDIO_INVOICE_CURRENCY"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Supabase: SupabaseConfig{
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Realtime: RealtimeConfig{
			Mode:         ModePush,
			PollInterval: 3 * time.Second,
		},
		Session: SessionConfig{
			Path: defaultSessionPath(),
		},
		Log: logger.Config{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
		Invoice: InvoiceConfig{
			TaxRate:  0.1,
			Currency: "USD",
			DueDays:  14,
		},
	}
}

// Load reads path (optional), .env and the environment, then validates.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("decode environment: %w", err)
	}

	setString(&c.Supabase.URL, env.SupabaseURL)
	setString(&c.Supabase.AnonKey, env.AnonKey)
	setString(&c.Realtime.Mode, env.RealtimeMode)
	setString(&c.Session.Path, env.SessionPath)
	setString(&c.Session.Secret, env.SessionSecret)
	setString(&c.Log.Level, env.LogLevel)
	setString(&c.Log.Filename, env.LogFile)
	setString(&c.Diagnostics.Addr, env.DiagnosticsAddr)
	setString(&c.Invoice.Currency, env.Currency)
	if env.Timeout > 0 {
		c.Supabase.Timeout = env.Timeout
	}
	if env.PollInterval > 0 {
		c.Realtime.PollInterval = env.PollInterval
	}
	if env.TaxRate > 0 {
		c.Invoice.TaxRate = env.TaxRate
	}
	return nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if c.Supabase.URL == "" {
		return fmt.Errorf("supabase.url is required (or STUDIO_SUPABASE_URL)")
	}
	if c.Supabase.AnonKey == "" {
		return fmt.Errorf("supabase.anon_key is required (or STUDIO_SUPABASE_ANON_KEY)")
	}
	switch c.Realtime.Mode {
	case ModePush, ModePoll:
	default:
		return fmt.Errorf("realtime.mode must be %q or %q, got %q", ModePush, ModePoll, c.Realtime.Mode)
	}
	if c.Realtime.Mode == ModePoll && c.Realtime.PollInterval <= 0 {
		return fmt.Errorf("realtime.poll_interval must be positive")
	}
	if c.Session.Secret != "" && len(c.Session.Secret) < 16 {
		return fmt.Errorf("session.secret must be at least 16 characters")
	}
	if c.Invoice.TaxRate < 0 || c.Invoice.TaxRate > 1 {
		return fmt.Errorf("invoice.tax_rate must be between 0 and 1")
	}
	if c.Invoice.DueDays < 0 {
		return fmt.Errorf("invoice.due_days must not be negative")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "pixelcraft-studio", "session.json")
}
