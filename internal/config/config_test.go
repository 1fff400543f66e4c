package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duplex/internal/conflict"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "duplex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
sides:
  a:
    root: ./src/jsx
  b:
    root: ./src/widgets
`

func TestDefaultIsCompleteExceptRoots(t *testing.T) {
	cfg := Default()

	// Only the side roots are missing from the defaults.
	err := cfg.Validate()
	require.ErrorContains(t, err, "sides.a.root is required")

	cfg.Sides.A.Root = "./a"
	cfg.Sides.B.Root = "./b"
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ".jsx", cfg.Sides.A.Extension)
	assert.Equal(t, ".widget", cfg.Sides.B.Extension)
	assert.Equal(t, conflict.StrategyManual, cfg.Conflicts.ParsedStrategy())
	assert.Equal(t, time.Second, cfg.Conflicts.Window())
	assert.Zero(t, cfg.Conflicts.ManualTimeout())
	assert.Equal(t, 200*time.Millisecond, cfg.Watch.Debounce())
	assert.Equal(t, 2*time.Second, cfg.Watch.Suppression())
	assert.True(t, cfg.Watch.ScanOnStart)
	assert.Equal(t, time.Hour, cfg.Cache.TTL())
	assert.Equal(t, 1024, cfg.Cache.MaxEntries)
	assert.Equal(t, 64, cfg.Cache.MaxMemoryMB)
	assert.Equal(t, 3, cfg.Engine.RetryAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.RetryBackoff())
	assert.Equal(t, 2.0, cfg.Engine.RetryMultiplier)
	assert.Equal(t, ".duplex/journal.db", cfg.Journal.Path)
}

func TestLoadMinimalKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "./src/jsx", cfg.Sides.A.Root)
	assert.Equal(t, "./src/widgets", cfg.Sides.B.Root)
	assert.Equal(t, ".jsx", cfg.Sides.A.Extension, "unset fields keep their defaults")
	assert.Equal(t, ".duplex/store", cfg.Store.Root)
	assert.Equal(t, "manual", cfg.Conflicts.Strategy)
}

func TestLoadFullFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
sides:
  a:
    root: /work/jsx
    extension: .jsx
  b:
    root: /work/widgets
    extension: .widget
store:
  root: /work/.duplex/store
conflicts:
  root: /work/.duplex/conflicts
  window_ms: 750
  strategy: prefer-a
  manual_timeout_ms: 30000
  webhook_url: http://localhost:9999/hooks
watch:
  debounce_ms: 150
  suppression_ms: 1500
  scan_on_start: false
cache:
  ttl_seconds: 60
  max_entries: 32
  max_memory_mb: 8
engine:
  workers: 2
  retry_attempts: 5
  retry_backoff_ms: 50
  retry_multiplier: 1.5
journal:
  path: /work/.duplex/journal.db
`))
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.Conflicts.Window())
	assert.Equal(t, conflict.StrategyPreferA, cfg.Conflicts.ParsedStrategy())
	assert.Equal(t, 30*time.Second, cfg.Conflicts.ManualTimeout())
	assert.Equal(t, "http://localhost:9999/hooks", cfg.Conflicts.WebhookURL)
	assert.False(t, cfg.Watch.ScanOnStart)
	assert.Equal(t, time.Minute, cfg.Cache.TTL())
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, 1.5, cfg.Engine.RetryMultiplier)
	assert.Equal(t, "/work/.duplex/journal.db", cfg.Journal.Path)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
conflits:
  strategy: manual
`))
	require.Error(t, err)
	assert.ErrorContains(t, err, "conflits")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "sides: [unclosed"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "parse config")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := Default()
		cfg.Sides.A.Root = "./a"
		cfg.Sides.B.Root = "./b"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing root b", func(c *Config) { c.Sides.B.Root = "" }, "sides.b.root is required"},
		{"identical roots", func(c *Config) { c.Sides.B.Root = c.Sides.A.Root }, "must differ"},
		{"missing extension", func(c *Config) { c.Sides.A.Extension = "" }, "sides.a.extension is required"},
		{"missing store root", func(c *Config) { c.Store.Root = "" }, "store.root is required"},
		{"missing conflict root", func(c *Config) { c.Conflicts.Root = "" }, "conflicts.root is required"},
		{"bad strategy", func(c *Config) { c.Conflicts.Strategy = "coin-flip" }, "conflicts.strategy"},
		{"negative window", func(c *Config) { c.Conflicts.WindowMS = -1 }, "window_ms"},
		{"negative timeout", func(c *Config) { c.Conflicts.ManualTimeoutMS = -5 }, "manual_timeout_ms"},
		{"negative debounce", func(c *Config) { c.Watch.DebounceMS = -1 }, "debounce_ms"},
		{"negative suppression", func(c *Config) { c.Watch.SuppressionMS = -1 }, "suppression_ms"},
		{"negative ttl", func(c *Config) { c.Cache.TTLSeconds = -1 }, "ttl_seconds"},
		{"negative workers", func(c *Config) { c.Engine.Workers = -2 }, "workers"},
		{"fractional multiplier", func(c *Config) { c.Engine.RetryMultiplier = 0.5 }, "retry_multiplier"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestParsedStrategyFallsBackToManual(t *testing.T) {
	c := ConflictConfig{Strategy: "bogus"}
	assert.Equal(t, conflict.StrategyManual, c.ParsedStrategy())
}
