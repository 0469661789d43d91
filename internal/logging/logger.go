// Package logging provides categorized logging for rulelayer, backed by zap.
// Every category logger is a no-op until Initialize (or InitializeWithLogger) is
// called, so library code never writes output the host did not ask for.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem
type Category string

const (
	CategoryBoot      Category = "boot"      // Process start, config loading
	CategoryNormalize Category = "normalize" // Raw override -> NormalizedRuleSet
	CategoryMerge     Category = "merge"     // Layer composition
	CategoryCache     Category = "cache"     // Merged ruleset cache
	CategoryLoader    Category = "loader"    // Resolve orchestration
	CategoryStore     Category = "store"     // Override storage adapters
	CategoryWatch     Category = "watch"     // Seed file watcher
	CategoryDetect    Category = "detect"    // Vertical/market detection
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // optional output path; stderr when empty
	Categories map[string]bool // per-category toggles; missing = enabled
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	root       = zap.NewNop()
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize builds the root zap logger from opts.
func Initialize(opts Options) error {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(opts.Format, "console") || strings.EqualFold(opts.Format, "text") {
		cfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(defaultString(opts.Level, "info"))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = []string{opts.File}
		cfg.ErrorOutputPaths = []string{opts.File}
	}

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	install(l, opts.Categories)
	Get(CategoryBoot).Debug("logging initialized (level=%s format=%s)", level, defaultString(opts.Format, "json"))
	return nil
}

// InitializeWithLogger installs an existing zap logger. Used by tests with zaptest/observer.
func InitializeWithLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	install(l, nil)
}

// Reset returns logging to the silent default.
func Reset() {
	install(zap.NewNop(), nil)
}

func install(l *zap.Logger, cats map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	_ = root.Sync()
	root = l
	categories = cats
	loggers = make(map[Category]*Logger)
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.RLock()
	l := root
	mu.RUnlock()
	_ = l.Sync()
}

// IsCategoryEnabled returns whether a category is enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	return !exists || enabled
}

// Get returns (or creates) the logger for a category.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	enabled := IsCategoryEnabled(category)

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	base := root
	if !enabled {
		base = zap.NewNop()
	}
	l := &Logger{
		category: category,
		sugar:    base.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a child logger carrying structured key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

func Boot(format string, args ...interface{})     { Get(CategoryBoot).Info(format, args...) }
func BootWarn(format string, args ...interface{}) { Get(CategoryBoot).Warn(format, args...) }

func NormalizeDebug(format string, args ...interface{}) { Get(CategoryNormalize).Debug(format, args...) }

func MergeDebug(format string, args ...interface{}) { Get(CategoryMerge).Debug(format, args...) }

func Cache(format string, args ...interface{})      { Get(CategoryCache).Info(format, args...) }
func CacheDebug(format string, args ...interface{}) { Get(CategoryCache).Debug(format, args...) }

func LoaderDebug(format string, args ...interface{}) { Get(CategoryLoader).Debug(format, args...) }
func LoaderError(format string, args ...interface{}) { Get(CategoryLoader).Error(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})  { Get(CategoryStore).Warn(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Watch(format string, args ...interface{})      { Get(CategoryWatch).Info(format, args...) }
func WatchDebug(format string, args ...interface{}) { Get(CategoryWatch).Debug(format, args...) }
func WatchError(format string, args ...interface{}) { Get(CategoryWatch).Error(format, args...) }

func DetectDebug(format string, args ...interface{}) { Get(CategoryDetect).Debug(format, args...) }

// =============================================================================
// REQUEST ID TRACING
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation ID
type RequestLogger struct {
	*Logger
}

// WithRequestID creates a request-scoped logger.
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{Logger: Get(category).With("req", requestID)}
}

// WithField adds a field to the request logger
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	return &RequestLogger{Logger: r.Logger.With(key, value)}
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
