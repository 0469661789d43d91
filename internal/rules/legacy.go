package rules

import "maps"

// HasActiveOverrides reports whether any override category is non-empty.
func HasActiveOverrides(m MergedRuleSet) bool {
	return len(m.TokenRelevanceOverrides) > 0 ||
		len(m.HookOverrides) > 0 ||
		(m.StopwordOverrides != nil && len(m.StopwordOverrides.All) > 0) ||
		len(m.KPIOverrides) > 0 ||
		len(m.FormulaOverrides) > 0 ||
		len(m.FormulaResets) > 0 ||
		len(m.RecommendationOverrides) > 0
}

// LegacyView is the flat shape consumed by the deprecated scoring endpoint.
//
// Deprecated: new callers should read MergedRuleSet directly.
type LegacyView struct {
	VerticalID         string              `json:"verticalId,omitempty"`
	MarketID           string              `json:"marketId,omitempty"`
	Source             string              `json:"source"`
	TokenRelevance     map[string]int      `json:"tokenRelevance,omitempty"`
	HookMultipliers    map[string]float64  `json:"hookMultipliers,omitempty"`
	HookKeywords       map[string][]string `json:"hookKeywords,omitempty"`
	Stopwords          []string            `json:"stopwords,omitempty"`
	MarketStopwords    []string            `json:"marketStopwords,omitempty"`
	VerticalStopwords  []string            `json:"verticalStopwords,omitempty"`
	KPIWeights         map[string]float64  `json:"kpiWeights,omitempty"`
	FormulaMultipliers map[string]float64  `json:"formulaMultipliers,omitempty"`
	Recommendations    map[string]string   `json:"recommendations,omitempty"`
	RulesetVersion     int                 `json:"rulesetVersion"`
}

// ToLegacyView flattens a merged result for the deprecated caller.
func ToLegacyView(m MergedRuleSet) LegacyView {
	v := LegacyView{
		VerticalID:         m.Identity.VerticalID,
		MarketID:           m.Identity.MarketID,
		Source:             string(m.Source),
		KPIWeights:         maps.Clone(m.KPIOverrides),
		FormulaMultipliers: maps.Clone(m.FormulaOverrides),
		Recommendations:    maps.Clone(m.RecommendationOverrides),
		RulesetVersion:     m.Version.RulesetVersion,
	}
	if len(m.TokenRelevanceOverrides) > 0 {
		v.TokenRelevance = make(map[string]int, len(m.TokenRelevanceOverrides))
		for token, rel := range m.TokenRelevanceOverrides {
			v.TokenRelevance[token] = int(rel)
		}
	}
	if len(m.HookOverrides) > 0 {
		v.HookMultipliers = make(map[string]float64, len(m.HookOverrides))
		for category, h := range m.HookOverrides {
			v.HookMultipliers[category] = h.Multiplier
			if len(h.Keywords) > 0 {
				if v.HookKeywords == nil {
					v.HookKeywords = make(map[string][]string)
				}
				v.HookKeywords[category] = append([]string(nil), h.Keywords...)
			}
		}
	}
	if sw := m.StopwordOverrides; sw != nil {
		v.Stopwords = append([]string(nil), sw.All...)
		v.MarketStopwords = append([]string(nil), sw.Market()...)
		v.VerticalStopwords = append([]string(nil), sw.Vertical()...)
	}
	return v
}
