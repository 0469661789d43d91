// Package config holds rulelayer's file-backed configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"rulelayer/internal/logging"
	"rulelayer/internal/rules"
	"rulelayer/internal/store"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root configuration.
type Config struct {
	Cache    CacheConfig    `yaml:"cache"`
	Store    StoreConfig    `yaml:"store"`
	Logging  LoggingConfig  `yaml:"logging"`
	Watch    WatchConfig    `yaml:"watch"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// CacheConfig sizes the merged ruleset cache.
type CacheConfig struct {
	Capacity int    `yaml:"capacity"`
	TTL      string `yaml:"ttl"`
}

// StoreConfig selects the override storage backend.
type StoreConfig struct {
	Driver       string `yaml:"driver"` // sqlite, postgres, memory
	Path         string `yaml:"path"`
	DSN          string `yaml:"dsn"`
	FetchTimeout string `yaml:"fetch_timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	File       string          `yaml:"file"`
	Categories map[string]bool `yaml:"categories"`
}

// WatchConfig configures the seed directory watcher.
type WatchConfig struct {
	SeedDir  string `yaml:"seed_dir"`
	Debounce string `yaml:"debounce"`
}

// DefaultsConfig holds values attached to every resolved ruleset.
type DefaultsConfig struct {
	Discovery rules.DiscoveryThresholds `yaml:"discovery"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Capacity: 100,
			TTL:      "5m",
		},
		Store: StoreConfig{
			Driver:       store.DriverSQLite,
			Path:         filepath.Join(".rulelayer", "overrides.db"),
			FetchTimeout: "2s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Watch: WatchConfig{
			SeedDir:  filepath.Join(".rulelayer", "seeds"),
			Debounce: "500ms",
		},
		Defaults: DefaultsConfig{
			Discovery: rules.DefaultDiscoveryThresholds,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("RULELAYER_DB"); path != "" {
		c.Store.Path = path
	}
	// A DSN implies postgres.
	if dsn := os.Getenv("RULELAYER_PG_DSN"); dsn != "" {
		c.Store.DSN = dsn
		c.Store.Driver = store.DriverPostgres
	}
	if ttl := os.Getenv("RULELAYER_CACHE_TTL"); ttl != "" {
		c.Cache.TTL = ttl
	}
	if v := os.Getenv("RULELAYER_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.Capacity = n
		} else {
			logging.BootWarn("ignoring RULELAYER_CACHE_CAPACITY=%q: %v", v, err)
		}
	}
	if level := os.Getenv("RULELAYER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetCacheTTL returns the cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Cache.TTL, 5*time.Minute)
}

// GetFetchTimeout returns the per-layer fetch timeout as a duration.
func (c *Config) GetFetchTimeout() time.Duration {
	return parseDuration(c.Store.FetchTimeout, 2*time.Second)
}

// GetDebounce returns the watcher debounce window as a duration.
func (c *Config) GetDebounce() time.Duration {
	return parseDuration(c.Watch.Debounce, 500*time.Millisecond)
}

// LoggingOptions converts the logging section for logging.Initialize.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		Categories: c.Logging.Categories,
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ValidDrivers lists the supported store drivers.
var ValidDrivers = []string{store.DriverSQLite, store.DriverPostgres, store.DriverMemory}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("%w: cache capacity must be positive, got %d", ErrInvalidConfig, c.Cache.Capacity)
	}
	for name, v := range map[string]string{
		"cache.ttl":           c.Cache.TTL,
		"store.fetch_timeout": c.Store.FetchTimeout,
		"watch.debounce":      c.Watch.Debounce,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("%w: %s must be a positive duration, got %q", ErrInvalidConfig, name, v)
		}
	}

	switch c.Store.Driver {
	case store.DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: sqlite driver requires store.path", ErrInvalidConfig)
		}
	case store.DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: postgres driver requires store.dsn (or RULELAYER_PG_DSN)", ErrInvalidConfig)
		}
	case store.DriverMemory:
	default:
		return fmt.Errorf("%w: unknown store driver %q (valid: %v)", ErrInvalidConfig, c.Store.Driver, ValidDrivers)
	}

	d := c.Defaults.Discovery
	if d.Excellent < d.Good || d.Good < d.Moderate || d.Moderate < 0 {
		return fmt.Errorf("%w: discovery thresholds must satisfy excellent >= good >= moderate >= 0, got %+v", ErrInvalidConfig, d)
	}
	return nil
}
