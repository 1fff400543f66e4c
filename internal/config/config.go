// Package config loads and validates the duplex configuration file.
//
// Values mirror the construction options of the core packages; the CLI is
// the only consumer, translating a Config into wired-up services. Durations
// are written as integer milliseconds (seconds for the cache TTL) so the
// YAML stays free of unit-suffix parsing surprises.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/duplex/internal/conflict"
)

// Config is the root of the duplex.yaml file.
type Config struct {
	// Sides describes the two watched source trees.
	Sides SidesConfig `yaml:"sides"`

	// Store is where versioned IR documents are persisted.
	Store StoreConfig `yaml:"store"`

	// Conflicts controls concurrent-edit detection and resolution.
	Conflicts ConflictConfig `yaml:"conflicts"`

	// Watch controls filesystem event handling.
	Watch WatchConfig `yaml:"watch"`

	// Cache bounds the conversion result cache.
	Cache CacheConfig `yaml:"cache"`

	// Engine bounds pipeline execution and retries.
	Engine EngineConfig `yaml:"engine"`

	// Journal is the SQLite audit journal. An empty path disables it.
	Journal JournalConfig `yaml:"journal"`
}

// SidesConfig names the two source trees.
type SidesConfig struct {
	A SideConfig `yaml:"a"`
	B SideConfig `yaml:"b"`
}

// SideConfig locates one source tree.
type SideConfig struct {
	// Root is the directory watched for this side.
	Root string `yaml:"root"`

	// Extension is the side's file extension, leading dot included.
	Extension string `yaml:"extension"`
}

// StoreConfig locates the IR store.
type StoreConfig struct {
	Root string `yaml:"root"`
}

// ConflictConfig controls the detector, resolver and notifier.
type ConflictConfig struct {
	// Root is the directory conflict records are persisted under.
	Root string `yaml:"root"`

	// WindowMS is the concurrency window: opposite-side edits closer
	// together than this count as conflicting.
	WindowMS int `yaml:"window_ms"`

	// Strategy is one of prefer-a, prefer-b, manual, skip.
	Strategy string `yaml:"strategy"`

	// ManualTimeoutMS fails a parked operation when no resolution arrives
	// in time. Zero waits until shutdown.
	ManualTimeoutMS int `yaml:"manual_timeout_ms"`

	// WebhookURL receives a POST per conflict event when set.
	WebhookURL string `yaml:"webhook_url,omitempty"`
}

// WatchConfig controls event debouncing and echo suppression.
type WatchConfig struct {
	// DebounceMS is the write-quiescence interval per file.
	DebounceMS int `yaml:"debounce_ms"`

	// SuppressionMS is how long events on a just-written path are dropped.
	SuppressionMS int `yaml:"suppression_ms"`

	// ScanOnStart enqueues every existing source file at low priority when
	// the daemon starts, converging a cold store without waiting for edits.
	ScanOnStart bool `yaml:"scan_on_start"`
}

// CacheConfig bounds the conversion cache.
type CacheConfig struct {
	TTLSeconds  int `yaml:"ttl_seconds"`
	MaxEntries  int `yaml:"max_entries"`
	MaxMemoryMB int `yaml:"max_memory_mb"`
}

// EngineConfig bounds pipeline execution.
type EngineConfig struct {
	// Workers is the conversion/generation pool size. Zero means one per CPU.
	Workers int `yaml:"workers"`

	// Retry settings apply to IO failures only.
	RetryAttempts   int     `yaml:"retry_attempts"`
	RetryBackoffMS  int     `yaml:"retry_backoff_ms"`
	RetryMultiplier float64 `yaml:"retry_multiplier"`
}

// JournalConfig locates the audit journal database.
type JournalConfig struct {
	Path string `yaml:"path,omitempty"`
}

// Default returns the stock configuration. Side roots have no sensible
// default and must come from the file.
func Default() Config {
	return Config{
		Sides: SidesConfig{
			A: SideConfig{Extension: ".jsx"},
			B: SideConfig{Extension: ".widget"},
		},
		Store: StoreConfig{Root: ".duplex/store"},
		Conflicts: ConflictConfig{
			Root:     ".duplex/conflicts",
			WindowMS: 1000,
			Strategy: string(conflict.StrategyManual),
		},
		Watch: WatchConfig{
			DebounceMS:    200,
			SuppressionMS: 2000,
			ScanOnStart:   true,
		},
		Cache: CacheConfig{
			TTLSeconds:  3600,
			MaxEntries:  1024,
			MaxMemoryMB: 64,
		},
		Engine: EngineConfig{
			RetryAttempts:   3,
			RetryBackoffMS:  100,
			RetryMultiplier: 2.0,
		},
		Journal: JournalConfig{Path: ".duplex/journal.db"},
	}
}

// Load reads path, layers it over Default and validates the result.
// Unknown fields are rejected so typos fail loudly instead of silently
// keeping a default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints. It reports the first problem found;
// fields with a zero-means-default convention accept zero.
func (c Config) Validate() error {
	if c.Sides.A.Root == "" {
		return fmt.Errorf("sides.a.root is required")
	}
	if c.Sides.B.Root == "" {
		return fmt.Errorf("sides.b.root is required")
	}
	if c.Sides.A.Root == c.Sides.B.Root {
		return fmt.Errorf("sides.a.root and sides.b.root must differ")
	}
	if c.Sides.A.Extension == "" {
		return fmt.Errorf("sides.a.extension is required")
	}
	if c.Sides.B.Extension == "" {
		return fmt.Errorf("sides.b.extension is required")
	}
	if c.Store.Root == "" {
		return fmt.Errorf("store.root is required")
	}
	if c.Conflicts.Root == "" {
		return fmt.Errorf("conflicts.root is required")
	}
	if _, err := conflict.ParseStrategy(c.Conflicts.Strategy); err != nil {
		return fmt.Errorf("conflicts.strategy: %w", err)
	}
	if c.Conflicts.WindowMS < 0 {
		return fmt.Errorf("conflicts.window_ms must not be negative")
	}
	if c.Conflicts.ManualTimeoutMS < 0 {
		return fmt.Errorf("conflicts.manual_timeout_ms must not be negative")
	}
	if c.Watch.DebounceMS < 0 {
		return fmt.Errorf("watch.debounce_ms must not be negative")
	}
	if c.Watch.SuppressionMS < 0 {
		return fmt.Errorf("watch.suppression_ms must not be negative")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds must not be negative")
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative")
	}
	if c.Cache.MaxMemoryMB < 0 {
		return fmt.Errorf("cache.max_memory_mb must not be negative")
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative")
	}
	if c.Engine.RetryAttempts < 0 {
		return fmt.Errorf("engine.retry_attempts must not be negative")
	}
	if c.Engine.RetryBackoffMS < 0 {
		return fmt.Errorf("engine.retry_backoff_ms must not be negative")
	}
	if c.Engine.RetryMultiplier != 0 && c.Engine.RetryMultiplier < 1 {
		return fmt.Errorf("engine.retry_multiplier must be at least 1")
	}
	return nil
}

// ParsedStrategy returns the typed conflict strategy. Call Validate first;
// an invalid string falls back to manual.
func (c ConflictConfig) ParsedStrategy() conflict.Strategy {
	s, err := conflict.ParseStrategy(c.Strategy)
	if err != nil {
		return conflict.StrategyManual
	}
	return s
}

// Window returns the concurrency window as a duration.
func (c ConflictConfig) Window() time.Duration {
	return time.Duration(c.WindowMS) * time.Millisecond
}

// ManualTimeout returns the manual-resolution timeout, zero for unbounded.
func (c ConflictConfig) ManualTimeout() time.Duration {
	return time.Duration(c.ManualTimeoutMS) * time.Millisecond
}

// Debounce returns the write-quiescence interval.
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMS) * time.Millisecond
}

// Suppression returns the echo suppression window.
func (w WatchConfig) Suppression() time.Duration {
	return time.Duration(w.SuppressionMS) * time.Millisecond
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RetryBackoff returns the initial retry delay.
func (e EngineConfig) RetryBackoff() time.Duration {
	return time.Duration(e.RetryBackoffMS) * time.Millisecond
}
