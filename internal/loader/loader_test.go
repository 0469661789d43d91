package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"rulelayer/internal/cache"
	"rulelayer/internal/detect"
	"rulelayer/internal/leak"
	"rulelayer/internal/logging"
	"rulelayer/internal/registry"
	"rulelayer/internal/rules"
	"rulelayer/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	app         = rules.AppMetadata{AppID: "app-1", OrganizationID: "org-1", Title: "Dungeon Quest"}
	verticalSel = store.VerticalSelector("games")
	marketSel   = store.MarketSelector("us")
	clientSel   = store.ClientSelector("org-1", "app-1")
)

func testRegistry() *registry.Registry {
	return registry.New(
		rules.NormalizedRuleSet{Stopwords: []string{"app"}, Meta: rules.LayerMeta{Version: 1}},
		map[string]registry.Definition{
			"games": {Name: "Games", Rules: rules.NormalizedRuleSet{
				TokenRelevance: map[string]rules.Relevance{"rpg": 3},
				Discovery:      &rules.DiscoveryThresholds{Excellent: 30, Good: 15, Moderate: 8},
				Meta:           rules.LayerMeta{Version: 2},
			}},
		},
		map[string]registry.Definition{
			"us": {Name: "United States", Rules: rules.NormalizedRuleSet{
				KPIWeights: map[string]float64{"ctr": 1.1},
				Meta:       rules.LayerMeta{Version: 1},
			}},
		},
	)
}

func fixedDetector(vertical, market string) detect.Detector {
	return detect.DetectorFunc(func(rules.AppMetadata, string) detect.Detection {
		return detect.Detection{VerticalID: vertical, MarketID: market}
	})
}

func newLoader(t *testing.T, opts ...Option) *Loader {
	t.Helper()
	base := []Option{
		WithRegistry(testRegistry()),
		WithDetector(fixedDetector("games", "us")),
		WithFetchTimeout(time.Second),
	}
	l, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return l
}

func tokenBundle(version int, kv ...any) rules.RawBundle {
	b := rules.RawBundle{Version: version}
	for i := 0; i+1 < len(kv); i += 2 {
		b.Tokens = append(b.Tokens, rules.RawTokenOverride{Token: kv[i].(string), Relevance: float64(kv[i+1].(int))})
	}
	return b
}

func f64(v float64) *float64 { return &v }

func TestResolve_AllFetchesFailFallsBackToCode(t *testing.T) {
	mem := store.NewMemoryStore()
	for _, sel := range []store.Selector{verticalSel, marketSel, clientSel} {
		mem.FailWith(sel, errors.New("connection refused"))
	}
	c := cache.New(10, time.Minute)
	l := newLoader(t, WithStore(mem), WithCache(c))

	got := l.Resolve(context.Background(), app, "en-US", "org-1")

	assert.Equal(t, rules.SourceCode, got.Source)
	assert.Equal(t, map[string]rules.Relevance{"rpg": 3}, got.TokenRelevanceOverrides)
	assert.Equal(t, map[string]float64{"ctr": 1.1}, got.KPIOverrides)
	assert.Equal(t, 0, c.Stats().Size, "a total outage is not cached")
}

func TestResolve_NoStoreServesCode(t *testing.T) {
	l := newLoader(t)
	got := l.Resolve(context.Background(), app, "en-US", "")

	assert.Equal(t, rules.SourceCode, got.Source)
	assert.True(t, rules.HasActiveOverrides(got))
}

func TestResolve_PartialFailureKeepsOtherLayers(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.FailWith(verticalSel, errors.New("timeout"))
	mem.Put(marketSel, tokenBundle(4, "pro", 2))
	c := cache.New(10, time.Minute)
	l := newLoader(t, WithStore(mem), WithCache(c))

	got := l.Resolve(context.Background(), app, "en-US", "org-1")

	assert.Equal(t, rules.SourceHybrid, got.Source)
	assert.Equal(t, map[string]rules.Relevance{"rpg": 3, "pro": 2}, got.TokenRelevanceOverrides)
	assert.Equal(t, 4, got.Version.MarketVersion)
	assert.Zero(t, c.Stats().Size, "a partial result is not cached")
}

func TestResolve_PartialFailureRetriesOnNextRequest(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.FailWith(verticalSel, errors.New("timeout"))
	mem.Put(marketSel, tokenBundle(4, "pro", 2))
	l := newLoader(t, WithStore(mem))
	ctx := context.Background()

	l.Resolve(ctx, app, "en-US", "org-1")
	l.Resolve(ctx, app, "en-US", "org-1")
	assert.Equal(t, 2, mem.Calls(verticalSel))
	assert.Equal(t, 2, mem.Calls(marketSel))

	mem.FailWith(verticalSel, nil)
	mem.Put(verticalSel, tokenBundle(5, "idle", 1))
	got := l.Resolve(ctx, app, "en-US", "org-1")
	assert.Equal(t, rules.Relevance(1), got.TokenRelevanceOverrides["idle"])

	l.Resolve(ctx, app, "en-US", "org-1")
	assert.Equal(t, 3, mem.Calls(verticalSel), "a complete result is cached")
}

func TestResolve_StoredNeutralFormulaClearsCodeMultiplier(t *testing.T) {
	reg := registry.New(
		rules.NormalizedRuleSet{Meta: rules.LayerMeta{Version: 1}},
		map[string]registry.Definition{
			"games": {Name: "Games", Rules: rules.NormalizedRuleSet{
				Formulas: map[string]rules.FormulaOverride{
					"discoverability": {Multiplier: 1.2, Components: map[string]float64{"genre_match": 1.5}},
				},
				Meta: rules.LayerMeta{Version: 2},
			}},
		},
		nil,
	)
	mem := store.NewMemoryStore()
	mem.Put(clientSel, rules.RawBundle{
		Formulas: []rules.RawFormulaOverride{{FormulaID: "discoverability", Payload: map[string]any{"multiplier": 1.0}}},
	})

	got := newLoader(t, WithStore(mem), WithRegistry(reg)).Resolve(context.Background(), app, "en-US", "org-1")

	assert.NotContains(t, got.FormulaOverrides, "discoverability")
	assert.Equal(t, 1.5, got.FormulaOverrides["discoverability.genre_match"])
	assert.Equal(t, rules.SourceHybrid, got.Source)
}

func TestResolve_PrecedenceIndependentOfCompletionOrder(t *testing.T) {
	delays := [][3]time.Duration{
		{0, 0, 0},
		{20 * time.Millisecond, 10 * time.Millisecond, 0},
		{0, 10 * time.Millisecond, 20 * time.Millisecond},
		{10 * time.Millisecond, 0, 20 * time.Millisecond},
	}
	for _, d := range delays {
		t.Run(fmt.Sprintf("%v", d), func(t *testing.T) {
			mem := store.NewMemoryStore()
			mem.Put(verticalSel, rules.RawBundle{
				Tokens: []rules.RawTokenOverride{{Token: "pro", Relevance: 1}},
				KPIs:   []rules.RawKPIOverride{{KPIID: "ctr", Multiplier: f64(0.6)}},
			})
			mem.Put(marketSel, rules.RawBundle{
				Tokens: []rules.RawTokenOverride{{Token: "pro", Relevance: 2}},
				KPIs:   []rules.RawKPIOverride{{KPIID: "ctr", Multiplier: f64(0.8)}},
			})
			mem.Put(clientSel, rules.RawBundle{
				Tokens: []rules.RawTokenOverride{{Token: "pro", Relevance: 3}},
			})
			mem.Delay(verticalSel, d[0])
			mem.Delay(marketSel, d[1])
			mem.Delay(clientSel, d[2])

			got := newLoader(t, WithStore(mem)).Resolve(context.Background(), app, "en-US", "org-1")

			assert.Equal(t, rules.Relevance(3), got.TokenRelevanceOverrides["pro"])
			assert.Equal(t, 0.8, got.KPIOverrides["ctr"])
		})
	}
}

func TestResolve_CacheHitSkipsFetch(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Put(verticalSel, tokenBundle(1, "pro", 2))
	l := newLoader(t, WithStore(mem))
	ctx := context.Background()

	first := l.Resolve(ctx, app, "en-US", "org-1")
	second := l.Resolve(ctx, app, "en-US", "org-1")

	assert.Equal(t, 1, mem.Calls(verticalSel))
	assert.Equal(t, 1, mem.Calls(clientSel))
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("cached resolve differs (-first +second):\n%s", diff)
	}

	l.Invalidate("games", "us", "org-1", "app-1")
	l.Resolve(ctx, app, "en-US", "org-1")
	assert.Equal(t, 2, mem.Calls(verticalSel))
}

func TestResolve_CachedValueIsNotShared(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Put(marketSel, tokenBundle(1, "pro", 2))
	l := newLoader(t, WithStore(mem))
	ctx := context.Background()

	first := l.Resolve(ctx, app, "en-US", "")
	first.TokenRelevanceOverrides["pro"] = 0

	second := l.Resolve(ctx, app, "en-US", "")
	assert.Equal(t, rules.Relevance(2), second.TokenRelevanceOverrides["pro"])
}

func TestResolve_TimeoutIsAFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Put(verticalSel, tokenBundle(1, "pro", 2))
	mem.Put(marketSel, tokenBundle(1, "slow", 3))
	mem.Delay(marketSel, 5*time.Second)
	l := newLoader(t, WithStore(mem), WithFetchTimeout(20*time.Millisecond))

	start := time.Now()
	got := l.Resolve(context.Background(), app, "en-US", "")

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, got.TokenRelevanceOverrides, "pro")
	assert.NotContains(t, got.TokenRelevanceOverrides, "slow")
}

func TestResolve_PanickingStoreIsRecovered(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.PanicWith(verticalSel, "nil map in driver")
	mem.Put(marketSel, tokenBundle(1, "pro", 2))
	l := newLoader(t, WithStore(mem))

	var got rules.MergedRuleSet
	require.NotPanics(t, func() {
		got = l.Resolve(context.Background(), app, "en-US", "")
	})
	assert.Equal(t, rules.Relevance(2), got.TokenRelevanceOverrides["pro"])
}

func TestFetchOne_WrapsPanic(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.PanicWith(verticalSel, "boom")
	l := newLoader(t, WithStore(mem))

	res := l.fetchOne(context.Background(), verticalSel)

	assert.ErrorIs(t, res.Err, ErrPanic)
	assert.Equal(t, rules.LayerVertical, res.Layer)
}

func TestResolve_CancelledContextStillReturnsCode(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Delay(verticalSel, time.Second)
	l := newLoader(t, WithStore(mem))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := l.Resolve(ctx, app, "en-US", "")
	assert.Equal(t, rules.SourceCode, got.Source)
}

func TestResolve_UnregisteredVerticalWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logging.InitializeWithLogger(zap.New(core))
	t.Cleanup(logging.Reset)

	l := newLoader(t, WithDetector(fixedDetector("astrology", "zz")))
	got := l.Resolve(context.Background(), app, "", "")

	assert.Equal(t, rules.SourceCode, got.Source)
	assert.Equal(t, []string{"app"}, got.StopwordOverrides.All)
	assert.Equal(t, 1, logs.FilterMessageSnippet(`vertical "astrology"`).Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet(`market "zz"`).Len())
	for _, e := range logs.All() {
		assert.Contains(t, e.ContextMap(), "req")
		assert.Equal(t, "astrology:zz:none:app-1", e.ContextMap()["key"])
	}
}

func TestResolve_SlowerThanFetchTimeoutWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logging.InitializeWithLogger(zap.New(core))
	t.Cleanup(logging.Reset)

	mem := store.NewMemoryStore()
	mem.Delay(marketSel, 5*time.Second)
	l := newLoader(t, WithStore(mem), WithFetchTimeout(20*time.Millisecond))

	l.Resolve(context.Background(), app, "en-US", "")

	assert.Equal(t, 1, logs.FilterMessageSnippet("Resolve took").Len())
}

func TestResolve_IdentityNamesAndDiscovery(t *testing.T) {
	det := detect.DetectorFunc(func(rules.AppMetadata, string) detect.Detection {
		return detect.Detection{VerticalID: "games", MarketID: "us", MarketName: "USA"}
	})
	l := newLoader(t, WithDetector(det))

	got := l.Resolve(context.Background(), app, "en-US", "org-1")

	assert.Equal(t, rules.Identity{
		VerticalID:     "games",
		MarketID:       "us",
		OrganizationID: "org-1",
		AppID:          "app-1",
		VerticalName:   "Games",
		MarketName:     "USA",
	}, got.Identity)
	require.NotNil(t, got.DiscoveryThresholds)
	assert.Equal(t, 30, got.DiscoveryThresholds.Excellent, "vertical thresholds win over the default")
}

func TestResolve_DefaultDiscoveryAttached(t *testing.T) {
	custom := rules.DiscoveryThresholds{Excellent: 40, Good: 20, Moderate: 10}
	l := newLoader(t, WithDetector(fixedDetector("", "us")), WithDefaultDiscovery(custom))

	got := l.Resolve(context.Background(), app, "", "")

	assert.Equal(t, detect.BaseVertical, got.Identity.VerticalID)
	require.NotNil(t, got.DiscoveryThresholds)
	assert.Equal(t, custom, *got.DiscoveryThresholds)
}

func TestResolve_BaseVerticalSkipsVerticalFetch(t *testing.T) {
	mem := store.NewMemoryStore()
	l := newLoader(t, WithStore(mem), WithDetector(fixedDetector(detect.BaseVertical, "us")))

	l.Resolve(context.Background(), app, "", "")

	assert.Equal(t, 0, mem.Calls(store.VerticalSelector(detect.BaseVertical)))
	assert.Equal(t, 1, mem.Calls(marketSel))
	assert.Equal(t, 0, mem.Calls(clientSel), "no organization, no client fetch")
}

func TestResolve_LeakWarningsAttached(t *testing.T) {
	var seen rules.Identity
	custom := leak.DetectorFunc(func(m rules.MergedRuleSet, a rules.AppMetadata) []rules.LeakWarning {
		seen = m.Identity
		return []rules.LeakWarning{{Kind: "custom", Message: a.AppID}}
	})
	l := newLoader(t, WithLeakDetector(custom))

	got := l.Resolve(context.Background(), app, "", "org-1")

	require.Len(t, got.LeakWarnings, 1)
	assert.Equal(t, "app-1", got.LeakWarnings[0].Message)
	assert.Equal(t, "org-1", seen.OrganizationID, "detector runs on the annotated result")
}

func TestResolve_DefaultLeakDetectorFlagsForeignTenant(t *testing.T) {
	l := newLoader(t)
	got := l.Resolve(context.Background(), app, "", "org-2")

	require.NotEmpty(t, got.LeakWarnings)
	assert.Equal(t, leak.KindTenantMismatch, got.LeakWarnings[0].Kind)
}

func TestResolve_PanickingCollaboratorsAreContained(t *testing.T) {
	boomDetect := detect.DetectorFunc(func(rules.AppMetadata, string) detect.Detection { panic("classifier") })
	boomLeak := leak.DetectorFunc(func(rules.MergedRuleSet, rules.AppMetadata) []rules.LeakWarning { panic("leak") })
	l := newLoader(t, WithDetector(boomDetect), WithLeakDetector(boomLeak))

	var got rules.MergedRuleSet
	require.NotPanics(t, func() { got = l.Resolve(context.Background(), app, "en-US", "") })
	assert.Equal(t, detect.BaseVertical, got.Identity.VerticalID)
	assert.Empty(t, got.LeakWarnings)
}

func TestResolve_DatabaseOnlyOverEmptyRegistry(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Put(store.VerticalSelector("productivity"), rules.RawBundle{
		Tokens:    []rules.RawTokenOverride{{Token: "pro", Relevance: 1}},
		Stopwords: []rules.RawStopwordRecord{{Stopwords: []any{"free"}}},
	})
	mem.Put(marketSel, tokenBundle(1, "pro", 3))
	empty := registry.New(rules.NormalizedRuleSet{}, nil, nil)
	l := newLoader(t,
		WithStore(mem),
		WithRegistry(empty),
		WithDetector(fixedDetector("productivity", "us")),
	)

	got := l.Resolve(context.Background(), app, "en-US", "org-9")

	assert.Equal(t, map[string]rules.Relevance{"pro": 3}, got.TokenRelevanceOverrides)
	assert.Equal(t, []string{"free"}, got.StopwordOverrides.All)
	assert.Equal(t, rules.SourceDatabase, got.Source)
}

func TestResolve_StorageWithoutOverridesKeepsCodeSource(t *testing.T) {
	l := newLoader(t, WithStore(store.NewMemoryStore()))
	got := l.Resolve(context.Background(), app, "en-US", "org-1")
	assert.Equal(t, rules.SourceCode, got.Source)
}

func TestResolveForVerticalMarket_SkipsDetection(t *testing.T) {
	det := detect.DetectorFunc(func(rules.AppMetadata, string) detect.Detection {
		t.Fatal("detector must not be called")
		return detect.Detection{}
	})
	mem := store.NewMemoryStore()
	mem.Put(store.ClientSelector("org-1", ""), tokenBundle(7, "brand", 3))
	l := newLoader(t, WithStore(mem), WithDetector(det))

	got := l.ResolveForVerticalMarket(context.Background(), "games", "us", "org-1")

	assert.Equal(t, rules.SourceHybrid, got.Source)
	assert.Equal(t, rules.Relevance(3), got.TokenRelevanceOverrides["brand"])
	assert.Equal(t, 7, got.Version.ClientVersion)
	assert.Equal(t, "United States", got.Identity.MarketName)
	assert.Empty(t, got.Identity.AppID)
}

func TestResolve_ConcurrentCallsAgree(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Put(verticalSel, tokenBundle(1, "pro", 2))
	mem.Delay(verticalSel, 5*time.Millisecond)
	l := newLoader(t, WithStore(mem), WithRequestIDs(func() string { return "fixed" }))

	const n = 16
	results := make([]rules.MergedRuleSet, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = l.Resolve(context.Background(), app, "en-US", "")
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if diff := cmp.Diff(results[0], results[i]); diff != "" {
			t.Fatalf("result %d differs:\n%s", i, diff)
		}
	}
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	tests := map[string]Option{
		"zero timeout":        WithFetchTimeout(0),
		"negative ttl":        WithTTL(-time.Second),
		"nil cache":           WithCache(nil),
		"nil registry":        WithRegistry(nil),
		"nil detector":        WithDetector(nil),
		"nil leak detector":   WithLeakDetector(nil),
		"inverted thresholds": WithDefaultDiscovery(rules.DiscoveryThresholds{Excellent: 1, Good: 5, Moderate: 2}),
	}
	for name, opt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := New(opt)
			assert.Error(t, err)
		})
	}

	l, err := New()
	require.NoError(t, err)
	assert.NotNil(t, l.Cache())
}
