package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "studio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
supabase:
  url: https://p.supabase.co
  anon_key: anon
  timeout: 5s
realtime:
  mode: poll
  poll_interval: 2s
invoice:
  tax_rate: 0.2
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://p.supabase.co", cfg.Supabase.URL)
	assert.Equal(t, 5*time.Second, cfg.Supabase.Timeout)
	assert.Equal(t, ModePoll, cfg.Realtime.Mode)
	assert.Equal(t, 2*time.Second, cfg.Realtime.PollInterval)
	assert.Equal(t, 0.2, cfg.Invoice.TaxRate)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched defaults survive
	assert.Equal(t, "USD", cfg.Invoice.Currency)
	assert.Equal(t, 14, cfg.Invoice.DueDays)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
supabase:
  url: https://file.supabase.co
  anon_key: anon
`)
	t.Setenv("STUDIO_SUPABASE_URL", "https://env.supabase.co")
	t.Setenv("STUDIO_REALTIME_MODE", "poll")
	t.Setenv("STUDIO_POLL_INTERVAL", "750ms")
	t.Setenv("STUDIO_SESSION_SECRET", "0123456789abcdef")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.supabase.co", cfg.Supabase.URL)
	assert.Equal(t, "anon", cfg.Supabase.AnonKey)
	assert.Equal(t, ModePoll, cfg.Realtime.Mode)
	assert.Equal(t, 750*time.Millisecond, cfg.Realtime.PollInterval)
	assert.Equal(t, "0123456789abcdef", cfg.Session.Secret)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("STUDIO_SUPABASE_URL", "https://env.supabase.co")
	t.Setenv("STUDIO_SUPABASE_ANON_KEY", "anon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ModePush, cfg.Realtime.Mode)
	assert.NotEmpty(t, cfg.Session.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "supabase: [")
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Supabase.URL = "https://p.supabase.co"
		cfg.Supabase.AnonKey = "anon"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing url", func(c *Config) { c.Supabase.URL = "" }, "supabase.url"},
		{"missing key", func(c *Config) { c.Supabase.AnonKey = "" }, "supabase.anon_key"},
		{"bad mode", func(c *Config) { c.Realtime.Mode = "sse" }, "realtime.mode"},
		{"poll without interval", func(c *Config) {
			c.Realtime.Mode = ModePoll
			c.Realtime.PollInterval = 0
		}, "poll_interval"},
		{"short secret", func(c *Config) { c.Session.Secret = "short" }, "session.secret"},
		{"tax rate", func(c *Config) { c.Invoice.TaxRate = 1.5 }, "tax_rate"},
		{"due days", func(c *Config) { c.Invoice.DueDays = -1 }, "due_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
