// Package loader resolves the effective ruleset for an app. It is the only
// component that talks to the storage collaborator and the cache.
//
// Resolution always computes the code-defined rules. Storage-backed
// overrides are best effort: each layer is fetched concurrently with its own
// timeout, and any failure only removes that layer. When no storage layer
// is usable the code-defined rules are returned as they are.
package loader

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rulelayer/internal/cache"
	"rulelayer/internal/detect"
	"rulelayer/internal/leak"
	"rulelayer/internal/logging"
	"rulelayer/internal/registry"
	"rulelayer/internal/rules"
	"rulelayer/internal/store"
)

// ErrPanic wraps a panic recovered from a storage adapter or pipeline stage.
var ErrPanic = errors.New("loader: recovered panic")

// Loader wires detection, storage, normalization, merging and caching.
type Loader struct {
	store        store.OverrideStore
	cache        cache.Cache
	registry     *registry.Registry
	detector     detect.Detector
	leaks        leak.Detector
	fetchTimeout time.Duration
	ttl          time.Duration
	discovery    rules.DiscoveryThresholds
	newRequestID func() string
}

// New builds a Loader. Unset collaborators get the package defaults.
func New(opts ...Option) (*Loader, error) {
	l := &Loader{
		cache:        cache.New(cache.DefaultCapacity, cache.DefaultTTL),
		registry:     registry.Default(),
		detector:     detect.NewLocaleDetector(),
		leaks:        leak.NewOwnershipDetector(),
		fetchTimeout: DefaultFetchTimeout,
		discovery:    rules.DefaultDiscoveryThresholds,
		newRequestID: uuid.NewString,
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("invalid loader option: %w", err)
		}
	}
	return l, nil
}

// Cache exposes the cache for admin invalidation.
func (l *Loader) Cache() cache.Cache { return l.cache }

// target is the resolution identity plus display labels from detection.
type target struct {
	vertical     string
	market       string
	org          string
	app          string
	verticalName string
	marketName   string
}

func (t target) key() string {
	return cache.BuildKey(t.vertical, t.market, t.org, t.app)
}

// Resolve returns the effective ruleset for app. It never fails: the worst
// case is the code-defined rules with source "code".
func (l *Loader) Resolve(ctx context.Context, app rules.AppMetadata, locale, orgID string) rules.MergedRuleSet {
	det := l.detect(app, locale)
	t := target{
		vertical:     det.VerticalID,
		market:       det.MarketID,
		org:          orgID,
		app:          app.AppID,
		verticalName: det.VerticalName,
		marketName:   det.MarketName,
	}
	return l.resolve(ctx, t, app)
}

// ResolveForVerticalMarket resolves an explicit vertical and market, skipping
// detection. Used for admin previews.
func (l *Loader) ResolveForVerticalMarket(ctx context.Context, verticalID, marketID, orgID string) rules.MergedRuleSet {
	t := target{vertical: verticalID, market: marketID, org: orgID}
	return l.resolve(ctx, t, rules.AppMetadata{OrganizationID: orgID})
}

// Invalidate drops the cached storage result for one identity.
func (l *Loader) Invalidate(verticalID, marketID, orgID, appID string) {
	l.cache.Invalidate(cache.BuildKey(verticalID, marketID, orgID, appID))
}

func (l *Loader) resolve(ctx context.Context, t target, app rules.AppMetadata) rules.MergedRuleSet {
	if t.vertical == "" {
		t.vertical = detect.BaseVertical
	}
	log := logging.WithRequestID(logging.CategoryLoader, l.newRequestID()).WithField("key", t.key())
	timer := logging.StartTimer(logging.CategoryLoader, "Resolve")
	defer timer.StopWithThreshold(l.fetchTimeout)

	code := l.codeRules(t, log)
	out := code
	if db, ok := l.databaseRules(ctx, t, log); ok && rules.HasActiveOverrides(db) {
		out = rules.Combine(code, db)
	}

	out.Identity = rules.Identity{
		VerticalID:     t.vertical,
		MarketID:       t.market,
		OrganizationID: t.org,
		AppID:          t.app,
		VerticalName:   firstNonEmpty(t.verticalName, l.registry.VerticalName(t.vertical)),
		MarketName:     firstNonEmpty(t.marketName, l.registry.MarketName(t.market)),
	}
	if out.DiscoveryThresholds == nil {
		d := l.discovery
		out.DiscoveryThresholds = &d
	}
	out.LeakWarnings = append(out.LeakWarnings, l.inspect(out, app, log)...)

	log.Debug("resolved %s: source=%s overrides=%t leaks=%d", t.key(), out.Source, rules.HasActiveOverrides(out), len(out.LeakWarnings))
	return out
}

// codeRules merges the code-defined base, vertical and market layers.
func (l *Loader) codeRules(t target, log *logging.RequestLogger) rules.MergedRuleSet {
	layers := []rules.NormalizedRuleSet{l.registry.Base()}
	if t.vertical != detect.BaseVertical {
		if rs, ok := l.registry.Vertical(t.vertical); ok {
			layers = append(layers, rs)
		} else {
			log.Warn("no code-defined ruleset for vertical %q", t.vertical)
		}
	}
	if t.market != "" {
		if rs, ok := l.registry.Market(t.market); ok {
			layers = append(layers, rs)
		} else {
			log.Warn("no code-defined ruleset for market %q", t.market)
		}
	}
	return rules.Merge(layers, nil)
}

// databaseRules returns the storage-driven ruleset, from cache when fresh.
// ok is false when storage contributed nothing usable. Only results where
// every layer was fetched and normalized are cached.
func (l *Loader) databaseRules(ctx context.Context, t target, log *logging.RequestLogger) (merged rules.MergedRuleSet, ok bool) {
	if l.store == nil {
		return rules.MergedRuleSet{}, false
	}
	key := t.key()
	if cached, hit := l.cache.Get(key, l.ttl); hit {
		log.Debug("cache hit for %s", key)
		return cached, true
	}

	results := l.fetchLayers(ctx, t)
	if len(results) == 0 {
		return rules.MergedRuleSet{}, false
	}

	layers := []rules.NormalizedRuleSet{rules.EmptyLayer(rules.LayerMeta{})}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			log.Error("%s layer fetch for %s failed after %s: %v", r.Layer, r.Selector, r.Elapsed.Round(time.Millisecond), r.Err)
			continue
		}
		n, err := normalizeLayer(r)
		if err != nil {
			failed++
			log.Error("%s layer for %s dropped: %v", r.Layer, r.Selector, err)
			continue
		}
		layers = append(layers, n)
	}
	if len(layers) == 1 {
		log.Warn("no storage layer usable for %s; serving code-defined rules", key)
		return rules.MergedRuleSet{}, false
	}

	merged, err := mergeLayers(layers)
	if err != nil {
		log.Error("storage merge for %s failed: %v", key, err)
		return rules.MergedRuleSet{}, false
	}
	// A partial result is served but not cached, so the next request retries
	// the failed layers.
	if failed > 0 {
		log.Warn("%d of %d storage layers failed for %s; result not cached", failed, len(results), key)
		return merged, true
	}
	l.cache.Set(key, merged)
	return merged, true
}

// LayerResult is the outcome of one layer fetch.
type LayerResult struct {
	Layer    rules.Layer
	Selector store.Selector
	Bundle   rules.RawBundle
	Err      error
	Elapsed  time.Duration
}

// fetchLayers fans out one fetch per applicable layer and returns the results
// in precedence order (vertical, market, client) whatever order they finish in.
func (l *Loader) fetchLayers(ctx context.Context, t target) []LayerResult {
	var selectors []store.Selector
	if t.vertical != detect.BaseVertical {
		selectors = append(selectors, store.VerticalSelector(t.vertical))
	}
	if t.market != "" {
		selectors = append(selectors, store.MarketSelector(t.market))
	}
	if t.org != "" {
		selectors = append(selectors, store.ClientSelector(t.org, t.app))
	}

	results := make([]LayerResult, len(selectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, sel := range selectors {
		g.Go(func() error {
			results[i] = l.fetchOne(gctx, sel)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (l *Loader) fetchOne(ctx context.Context, sel store.Selector) (res LayerResult) {
	res = LayerResult{Layer: sel.Meta().Layer(), Selector: sel}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Bundle = rules.RawBundle{}
			res.Err = fmt.Errorf("%w in fetch %s: %v", ErrPanic, sel, r)
			logging.LoaderDebug("fetch panic stack: %s", debug.Stack())
		}
		res.Elapsed = time.Since(start)
	}()

	fctx, cancel := context.WithTimeout(ctx, l.fetchTimeout)
	defer cancel()
	res.Bundle, res.Err = l.store.Fetch(fctx, sel)
	return res
}

func normalizeLayer(r LayerResult) (n rules.NormalizedRuleSet, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w in normalize: %v", ErrPanic, p)
		}
	}()
	return rules.Normalize(r.Bundle, r.Selector.Meta()), nil
}

func mergeLayers(layers []rules.NormalizedRuleSet) (m rules.MergedRuleSet, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w in merge: %v", ErrPanic, p)
		}
	}()
	return rules.Merge(layers, nil), nil
}

func (l *Loader) detect(app rules.AppMetadata, locale string) (det detect.Detection) {
	defer func() {
		if p := recover(); p != nil {
			logging.LoaderError("detector panicked for app %q: %v", app.AppID, p)
			det = detect.Detection{VerticalID: detect.BaseVertical}
		}
	}()
	return l.detector.Detect(app, locale)
}

func (l *Loader) inspect(m rules.MergedRuleSet, app rules.AppMetadata, log *logging.RequestLogger) (warnings []rules.LeakWarning) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("leak detector panicked: %v", p)
			warnings = nil
		}
	}()
	warnings = l.leaks.Inspect(m, app)
	for _, w := range warnings {
		log.Warn("leak warning %s: %s", w.Kind, w.Message)
	}
	return warnings
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
