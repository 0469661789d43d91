package loader

import (
	"fmt"
	"time"

	"rulelayer/internal/cache"
	"rulelayer/internal/detect"
	"rulelayer/internal/leak"
	"rulelayer/internal/registry"
	"rulelayer/internal/rules"
	"rulelayer/internal/store"
)

// DefaultFetchTimeout bounds a single layer fetch.
const DefaultFetchTimeout = 2 * time.Second

// Option configures a Loader.
type Option func(*Loader) error

// WithStore sets the storage collaborator. Without one only code-defined
// rules are served.
func WithStore(s store.OverrideStore) Option {
	return func(l *Loader) error {
		l.store = s
		return nil
	}
}

// WithCache replaces the default in-process cache.
func WithCache(c cache.Cache) Option {
	return func(l *Loader) error {
		if c == nil {
			return fmt.Errorf("cache must not be nil")
		}
		l.cache = c
		return nil
	}
}

// WithRegistry replaces the builtin code-defined rulesets.
func WithRegistry(r *registry.Registry) Option {
	return func(l *Loader) error {
		if r == nil {
			return fmt.Errorf("registry must not be nil")
		}
		l.registry = r
		return nil
	}
}

// WithDetector replaces the vertical/market classifier.
func WithDetector(d detect.Detector) Option {
	return func(l *Loader) error {
		if d == nil {
			return fmt.Errorf("detector must not be nil")
		}
		l.detector = d
		return nil
	}
}

// WithLeakDetector replaces the leak detector.
func WithLeakDetector(d leak.Detector) Option {
	return func(l *Loader) error {
		if d == nil {
			return fmt.Errorf("leak detector must not be nil")
		}
		l.leaks = d
		return nil
	}
}

// WithFetchTimeout bounds each layer fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(l *Loader) error {
		if d <= 0 {
			return fmt.Errorf("fetch timeout must be positive, got %s", d)
		}
		l.fetchTimeout = d
		return nil
	}
}

// WithTTL sets the max age of a cached ruleset. Zero uses the cache's own TTL.
func WithTTL(d time.Duration) Option {
	return func(l *Loader) error {
		if d < 0 {
			return fmt.Errorf("ttl must not be negative, got %s", d)
		}
		l.ttl = d
		return nil
	}
}

// WithDefaultDiscovery sets the thresholds attached when no layer sets any.
func WithDefaultDiscovery(d rules.DiscoveryThresholds) Option {
	return func(l *Loader) error {
		if d.Excellent < d.Good || d.Good < d.Moderate || d.Moderate < 0 {
			return fmt.Errorf("discovery thresholds must satisfy excellent >= good >= moderate >= 0, got %+v", d)
		}
		l.discovery = d
		return nil
	}
}

// WithRequestIDs replaces the request id generator, for tests.
func WithRequestIDs(next func() string) Option {
	return func(l *Loader) error {
		l.newRequestID = next
		return nil
	}
}
