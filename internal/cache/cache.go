// Package cache memoizes merged rulesets per resolution identity.
//
// Eviction is by insertion order (oldest inserted first), not by access:
// a hit never moves a key. Expiry is lazy: an expired entry is removed by
// the read that finds it; there is no background sweeper.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"rulelayer/internal/logging"
	"rulelayer/internal/rules"
)

// Defaults used when the caller passes zero values.
const (
	DefaultCapacity = 100
	DefaultTTL      = 5 * time.Minute
)

// Fallback tokens for absent key components.
const (
	keyBase   = "base"
	keyGlobal = "global"
	keyNone   = "none"
)

// Cache is the contract the loader depends on.
type Cache interface {
	Get(key string, ttl time.Duration) (rules.MergedRuleSet, bool)
	Set(key string, value rules.MergedRuleSet)
	Invalidate(key string)
	Clear()
	Stats() Stats
}

// Stats is a point-in-time snapshot for observability.
type Stats struct {
	Size        int           `json:"size"`
	Capacity    int           `json:"capacity"`
	TTL         time.Duration `json:"ttl"`
	Hits        int64         `json:"hits"`
	Misses      int64         `json:"misses"`
	Evictions   int64         `json:"evictions"`
	Expirations int64         `json:"expirations"`
}

// BuildKey returns the deterministic cache key for a resolution identity.
func BuildKey(verticalID, marketID, orgID, appID string) string {
	return strings.Join([]string{
		orDefault(verticalID, keyBase),
		orDefault(marketID, keyGlobal),
		orDefault(orgID, keyNone),
		orDefault(appID, keyNone),
	}, ":")
}

func orDefault(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

type entry struct {
	key       string
	value     rules.MergedRuleSet
	createdAt time.Time
	elem      *list.Element
}

// RuleCache is a bounded, TTL-checked, insertion-ordered map.
type RuleCache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    *list.List // of string keys, oldest at front
	capacity int
	ttl      time.Duration
	now      func() time.Time
	stats    Stats
}

// Option configures a RuleCache.
type Option func(*RuleCache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *RuleCache) { c.now = now }
}

// New creates a cache. Non-positive capacity or ttl fall back to the defaults.
func New(capacity int, ttl time.Duration, opts ...Option) *RuleCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &RuleCache{
		entries:  make(map[string]*entry),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached value if it is no older than ttl.
// A non-positive ttl means the cache's configured TTL.
func (c *RuleCache) Get(key string, ttl time.Duration) (rules.MergedRuleSet, bool) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return rules.MergedRuleSet{}, false
	}
	if c.now().Sub(e.createdAt) > ttl {
		c.remove(e)
		c.stats.Misses++
		c.stats.Expirations++
		logging.CacheDebug("entry %s expired", key)
		return rules.MergedRuleSet{}, false
	}
	c.stats.Hits++
	return e.value.Clone(), true
}

// Set inserts or overwrites key. Overwriting refreshes the timestamp but keeps
// the key's insertion position. Inserting a new key into a full cache evicts
// the oldest inserted key first.
func (c *RuleCache) Set(key string, value rules.MergedRuleSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value.Clone()
		e.createdAt = c.now()
		return
	}

	if len(c.entries) >= c.capacity {
		if front := c.order.Front(); front != nil {
			oldest := c.entries[front.Value.(string)]
			c.remove(oldest)
			c.stats.Evictions++
			logging.CacheDebug("evicted %s (capacity %d)", oldest.key, c.capacity)
		}
	}

	e := &entry{key: key, value: value.Clone(), createdAt: c.now()}
	e.elem = c.order.PushBack(key)
	c.entries[key] = e
}

// Invalidate removes key unconditionally.
func (c *RuleCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.remove(e)
		logging.Cache("invalidated %s", key)
	}
}

// Clear removes all entries.
func (c *RuleCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*entry)
	c.order.Init()
	logging.Cache("cleared %d entries", n)
}

// Stats returns the current size, bounds and counters.
func (c *RuleCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.entries)
	s.Capacity = c.capacity
	s.TTL = c.ttl
	return s
}

// TTL returns the configured time-to-live.
func (c *RuleCache) TTL() time.Duration { return c.ttl }

func (c *RuleCache) remove(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}
