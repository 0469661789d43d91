// Package rules holds the override data model and the pure stages of the
// resolution pipeline: normalization of untrusted per-layer records, ordered
// layer merging, and version stamping.
//
// Data flow:
//
//	RawBundle (per layer) -> Normalize -> NormalizedRuleSet (per layer)
//	    -> Merge(base, vertical, market, client) -> MergedRuleSet -> Stamp
package rules

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Layer is one rank in the override precedence chain. Higher values win.
type Layer int

const (
	LayerBase Layer = iota
	LayerVertical
	LayerMarket
	LayerClient
)

var layerNames = [...]string{"base", "vertical", "market", "client"}

func (l Layer) String() string {
	if l < LayerBase || l > LayerClient {
		return fmt.Sprintf("layer(%d)", int(l))
	}
	return layerNames[l]
}

// MarshalText renders the layer name so maps keyed by Layer serialize readably.
func (l Layer) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses a layer name.
func (l *Layer) UnmarshalText(b []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(b)))
	for i, n := range layerNames {
		if n == name {
			*l = Layer(i)
			return nil
		}
	}
	return fmt.Errorf("unknown layer %q", name)
}

// Origin records where a layer's data came from.
type Origin string

const (
	OriginCode     Origin = "code"
	OriginDatabase Origin = "database"
)

// Source tags a merged result with the provenance of its layers.
type Source string

const (
	SourceCode     Source = "code"
	SourceDatabase Source = "database"
	SourceHybrid   Source = "hybrid"
)

// Relevance is the 4-valued token relevance ordinal.
type Relevance int

const (
	RelevanceNone Relevance = iota
	RelevanceLow
	RelevanceMedium
	RelevanceHigh
)

// Clamping bounds shared by the normalizer and the merger.
const (
	MinRelevance      = RelevanceNone
	MaxRelevance      = RelevanceHigh
	MinMultiplier     = 0.5
	MaxMultiplier     = 2.0
	NeutralMultiplier = 1.0
)

// HookOverride re-weights one hook category.
type HookOverride struct {
	Multiplier float64  `json:"multiplier"`
	Keywords   []string `json:"keywords,omitempty"`
}

// FormulaOverride adjusts one scoring formula. Components are named
// per-component multipliers keyed by component id.
type FormulaOverride struct {
	Multiplier float64            `json:"multiplier"`
	Components map[string]float64 `json:"components,omitempty"`
}

// DiscoveryThresholds are the tier cutoffs used by keyword discovery.
type DiscoveryThresholds struct {
	Excellent int `json:"excellent" yaml:"excellent"`
	Good      int `json:"good" yaml:"good"`
	Moderate  int `json:"moderate" yaml:"moderate"`
}

// DefaultDiscoveryThresholds is attached when no layer sets thresholds.
var DefaultDiscoveryThresholds = DiscoveryThresholds{Excellent: 20, Good: 10, Moderate: 5}

// LayerMeta identifies the layer a NormalizedRuleSet belongs to. The layer
// rank is derived from which keys are present.
type LayerMeta struct {
	Vertical       string `json:"vertical,omitempty"`
	Market         string `json:"market,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	AppID          string `json:"app_id,omitempty"`
	Origin         Origin `json:"origin"`
	Version        int    `json:"version"`
}

// Layer derives the precedence rank: organization > market > vertical > base.
func (m LayerMeta) Layer() Layer {
	switch {
	case m.OrganizationID != "":
		return LayerClient
	case m.Market != "":
		return LayerMarket
	case m.Vertical != "":
		return LayerVertical
	default:
		return LayerBase
	}
}

// NormalizedRuleSet is the validated, clamped override data of exactly one layer.
// Treat it as immutable once built.
type NormalizedRuleSet struct {
	TokenRelevance  map[string]Relevance       `json:"token_relevance,omitempty"`
	Hooks           map[string]HookOverride    `json:"hooks,omitempty"`
	Stopwords       []string                   `json:"stopwords,omitempty"`
	KPIWeights      map[string]float64         `json:"kpi_weights,omitempty"`
	Formulas        map[string]FormulaOverride `json:"formulas,omitempty"`
	Recommendations map[string]string          `json:"recommendations,omitempty"`
	Discovery       *DiscoveryThresholds       `json:"discovery,omitempty"`
	Meta            LayerMeta                  `json:"meta"`
}

// EmptyLayer returns a rule set with no overrides for the given meta.
func EmptyLayer(meta LayerMeta) NormalizedRuleSet {
	return NormalizedRuleSet{Meta: meta}
}

// IsEmpty reports whether the layer contributes nothing.
func (n NormalizedRuleSet) IsEmpty() bool {
	return len(n.TokenRelevance) == 0 && len(n.Hooks) == 0 && len(n.Stopwords) == 0 &&
		len(n.KPIWeights) == 0 && len(n.Formulas) == 0 && len(n.Recommendations) == 0 &&
		n.Discovery == nil
}

// StopwordOverrides is the union of every layer's stopwords, plus the per-layer
// attribution of where each came from.
type StopwordOverrides struct {
	All     []string           `json:"all"`
	ByLayer map[Layer][]string `json:"by_layer,omitempty"`
}

// Market returns the market-origin stopwords.
func (s *StopwordOverrides) Market() []string {
	if s == nil {
		return nil
	}
	return s.ByLayer[LayerMarket]
}

// Vertical returns the vertical-origin stopwords.
func (s *StopwordOverrides) Vertical() []string {
	if s == nil {
		return nil
	}
	return s.ByLayer[LayerVertical]
}

// Identity is the resolution tuple a merged result was produced for.
type Identity struct {
	VerticalID     string `json:"vertical_id,omitempty"`
	MarketID       string `json:"market_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	AppID          string `json:"app_id,omitempty"`
	VerticalName   string `json:"vertical_name,omitempty"`
	MarketName     string `json:"market_name,omitempty"`
}

// LeakWarning is a diagnostic raised by a leak detector.
type LeakWarning struct {
	Kind    string `json:"kind"`
	Key     string `json:"key,omitempty"`
	Message string `json:"message"`
}

// MergedRuleSet is the composition of an ordered list of layers. A nil
// category means no layer touched it, which is different from an override
// whose value happens to equal the default.
type MergedRuleSet struct {
	TokenRelevanceOverrides map[string]Relevance    `json:"token_relevance_overrides,omitempty"`
	HookOverrides           map[string]HookOverride `json:"hook_overrides,omitempty"`
	StopwordOverrides       *StopwordOverrides      `json:"stopword_overrides,omitempty"`
	KPIOverrides            map[string]float64      `json:"kpi_overrides,omitempty"`
	// FormulaOverrides is flat: "formulaId" for top-level multipliers and
	// "formulaId.componentId" for component multipliers.
	FormulaOverrides        map[string]float64   `json:"formula_overrides,omitempty"`
	RecommendationOverrides map[string]string    `json:"recommendation_overrides,omitempty"`
	DiscoveryThresholds     *DiscoveryThresholds `json:"discovery_thresholds,omitempty"`
	// FormulaResets lists formula ids whose multiplier the highest layer set
	// back to 1.0. Combine clears those ids from the lower ruleset.
	FormulaResets []string `json:"-"`

	Source       Source        `json:"source"`
	Identity     Identity      `json:"identity"`
	Version      VersionInfo   `json:"version"`
	LeakWarnings []LeakWarning `json:"leak_warnings,omitempty"`
}

// Clone returns a deep copy so cached values are never shared with callers.
func (m MergedRuleSet) Clone() MergedRuleSet {
	out := m
	out.TokenRelevanceOverrides = maps.Clone(m.TokenRelevanceOverrides)
	out.KPIOverrides = maps.Clone(m.KPIOverrides)
	out.FormulaOverrides = maps.Clone(m.FormulaOverrides)
	out.RecommendationOverrides = maps.Clone(m.RecommendationOverrides)
	out.FormulaResets = slices.Clone(m.FormulaResets)
	if m.HookOverrides != nil {
		out.HookOverrides = make(map[string]HookOverride, len(m.HookOverrides))
		for k, v := range m.HookOverrides {
			v.Keywords = append([]string(nil), v.Keywords...)
			out.HookOverrides[k] = v
		}
	}
	if m.StopwordOverrides != nil {
		sw := &StopwordOverrides{All: append([]string(nil), m.StopwordOverrides.All...)}
		if m.StopwordOverrides.ByLayer != nil {
			sw.ByLayer = make(map[Layer][]string, len(m.StopwordOverrides.ByLayer))
			for l, words := range m.StopwordOverrides.ByLayer {
				sw.ByLayer[l] = append([]string(nil), words...)
			}
		}
		out.StopwordOverrides = sw
	}
	if m.DiscoveryThresholds != nil {
		d := *m.DiscoveryThresholds
		out.DiscoveryThresholds = &d
	}
	if m.LeakWarnings != nil {
		out.LeakWarnings = append([]LeakWarning(nil), m.LeakWarnings...)
	}
	return out
}

// AppMetadata describes the app a ruleset is resolved for. OrganizationID is
// the tenant that owns the app, when known.
type AppMetadata struct {
	AppID          string `json:"app_id" yaml:"app_id"`
	OrganizationID string `json:"organization_id,omitempty" yaml:"organization_id,omitempty"`
	Title          string `json:"title,omitempty" yaml:"title,omitempty"`
	Subtitle       string `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
	Category       string `json:"category,omitempty" yaml:"category,omitempty"`
}
