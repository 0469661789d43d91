package rules

import (
	"slices"

	"rulelayer/internal/logging"
)

// Merge composes layers supplied in ascending precedence order (base first,
// client last). The merger never reorders its input: precedence is the
// caller's responsibility.
//
// Every category is last-layer-wins per key except stopwords, which are a
// union across layers. Formula component multipliers are re-clamped and
// flattened to "formulaId.componentId"; a formula's own multiplier is only
// emitted when it differs from 1.0, otherwise its id goes to FormulaResets.
// Categories left empty are nil.
//
// When version is nil the version info is stamped from the layers.
func Merge(layers []NormalizedRuleSet, version *VersionInfo) MergedRuleSet {
	timer := logging.StartTimer(logging.CategoryMerge, "Merge")
	defer timer.Stop()

	tokens := make(map[string]Relevance)
	hooks := make(map[string]HookOverride)
	kpis := make(map[string]float64)
	templates := make(map[string]string)
	formulaTop := make(map[string]float64)
	formulaFlat := make(map[string]float64)
	stopwords := newStopwordUnion()
	var discovery *DiscoveryThresholds

	for _, layer := range layers {
		rank := layer.Meta.Layer()
		overlay(tokens, layer.TokenRelevance)
		for k, h := range layer.Hooks {
			h.Keywords = slices.Clone(h.Keywords)
			hooks[k] = h
		}
		overlay(kpis, layer.KPIWeights)
		overlay(templates, layer.Recommendations)
		for id, f := range layer.Formulas {
			formulaTop[id] = f.Multiplier
			for component, m := range f.Components {
				key := id + "." + component
				clamped := ClampMultiplier(m)
				if clamped != m {
					logging.MergeDebug("%s formula component %q multiplier %v clamped to %v", rank, key, m, clamped)
				}
				formulaFlat[key] = clamped
			}
		}
		stopwords.add(rank, layer.Stopwords)
		if layer.Discovery != nil {
			d := *layer.Discovery
			discovery = &d
		}
	}

	var resets []string
	for id, m := range formulaTop {
		if m != NeutralMultiplier {
			formulaFlat[id] = m
		} else {
			resets = append(resets, id)
		}
	}
	slices.Sort(resets)

	var v VersionInfo
	if version != nil {
		v = *version
	} else {
		v = Stamp(layers)
	}

	merged := MergedRuleSet{
		TokenRelevanceOverrides: nilIfEmpty(tokens),
		HookOverrides:           nilIfEmpty(hooks),
		StopwordOverrides:       stopwords.result(),
		KPIOverrides:            nilIfEmpty(kpis),
		FormulaOverrides:        nilIfEmpty(formulaFlat),
		RecommendationOverrides: nilIfEmpty(templates),
		DiscoveryThresholds:     discovery,
		FormulaResets:           resets,
		Source:                  sourceOf(layers),
		Version:                 v,
	}
	logging.MergeDebug("merged %d layers (source=%s)", len(layers), merged.Source)
	return merged
}

// Combine deep-merges top over base with the same per-category rules
// as Merge. It is used to put the storage-driven result over the code-driven
// one; the result is hybrid when both sides contribute overrides.
func Combine(base, top MergedRuleSet) MergedRuleSet {
	out := base.Clone()
	top = top.Clone()

	out.TokenRelevanceOverrides = overlayNillable(out.TokenRelevanceOverrides, top.TokenRelevanceOverrides)
	out.HookOverrides = overlayNillable(out.HookOverrides, top.HookOverrides)
	out.KPIOverrides = overlayNillable(out.KPIOverrides, top.KPIOverrides)
	out.FormulaOverrides = overlayNillable(out.FormulaOverrides, top.FormulaOverrides)
	for _, id := range top.FormulaResets {
		delete(out.FormulaOverrides, id)
	}
	out.FormulaOverrides = nilIfEmpty(out.FormulaOverrides)
	out.FormulaResets = combineResets(base.FormulaResets, top)
	out.RecommendationOverrides = overlayNillable(out.RecommendationOverrides, top.RecommendationOverrides)

	if top.StopwordOverrides != nil {
		union := newStopwordUnion()
		if out.StopwordOverrides != nil {
			for rank, words := range out.StopwordOverrides.ByLayer {
				union.add(rank, words)
			}
		}
		for rank, words := range top.StopwordOverrides.ByLayer {
			union.add(rank, words)
		}
		out.StopwordOverrides = union.result()
	}

	if top.DiscoveryThresholds != nil {
		out.DiscoveryThresholds = top.DiscoveryThresholds
	}
	if HasActiveOverrides(top) {
		if HasActiveOverrides(base) {
			out.Source = SourceHybrid
		} else {
			out.Source = top.Source
		}
	}
	out.Identity = combineIdentity(base.Identity, top.Identity)
	out.Version = CombineVersions(base.Version, top.Version)
	out.LeakWarnings = append(out.LeakWarnings, top.LeakWarnings...)

	logging.MergeDebug("combined rulesets (source=%s)", out.Source)
	return out
}

// combineResets keeps the base resets top did not override with a real
// multiplier, plus every reset from top.
func combineResets(base []string, top MergedRuleSet) []string {
	var out []string
	for _, id := range base {
		if _, set := top.FormulaOverrides[id]; !set {
			out = append(out, id)
		}
	}
	for _, id := range top.FormulaResets {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// sourceOf tags the provenance of the non-base layers.
func sourceOf(layers []NormalizedRuleSet) Source {
	var code, db bool
	for _, l := range layers {
		if l.Meta.Layer() == LayerBase {
			continue
		}
		if l.Meta.Origin == OriginCode {
			code = true
		} else {
			db = true
		}
	}
	switch {
	case code && db:
		return SourceHybrid
	case db:
		return SourceDatabase
	default:
		return SourceCode
	}
}

func combineIdentity(base, top Identity) Identity {
	pick := func(a, b string) string {
		if b != "" {
			return b
		}
		return a
	}
	return Identity{
		VerticalID:     pick(base.VerticalID, top.VerticalID),
		MarketID:       pick(base.MarketID, top.MarketID),
		OrganizationID: pick(base.OrganizationID, top.OrganizationID),
		AppID:          pick(base.AppID, top.AppID),
		VerticalName:   pick(base.VerticalName, top.VerticalName),
		MarketName:     pick(base.MarketName, top.MarketName),
	}
}

// stopwordUnion accumulates stopwords overall and per layer rank.
type stopwordUnion struct {
	all     map[string]struct{}
	byLayer map[Layer]map[string]struct{}
}

func newStopwordUnion() *stopwordUnion {
	return &stopwordUnion{
		all:     make(map[string]struct{}),
		byLayer: make(map[Layer]map[string]struct{}),
	}
}

func (u *stopwordUnion) add(rank Layer, words []string) {
	for _, w := range words {
		w = NormalizeToken(w)
		if w == "" {
			continue
		}
		u.all[w] = struct{}{}
		set, ok := u.byLayer[rank]
		if !ok {
			set = make(map[string]struct{})
			u.byLayer[rank] = set
		}
		set[w] = struct{}{}
	}
}

func (u *stopwordUnion) result() *StopwordOverrides {
	if len(u.all) == 0 {
		return nil
	}
	out := &StopwordOverrides{
		All:     sortedKeys(u.all),
		ByLayer: make(map[Layer][]string, len(u.byLayer)),
	}
	for rank, set := range u.byLayer {
		out.ByLayer[rank] = sortedKeys(set)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func overlay[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

func overlayNillable[K comparable, V any](dst, src map[K]V) map[K]V {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[K]V, len(src))
	}
	overlay(dst, src)
	return dst
}

func nilIfEmpty[K comparable, V any](m map[K]V) map[K]V {
	if len(m) == 0 {
		return nil
	}
	return m
}
