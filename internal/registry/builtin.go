package registry

import "rulelayer/internal/rules"

func builtinBase() rules.NormalizedRuleSet {
	return rules.NormalizedRuleSet{
		TokenRelevance: map[string]rules.Relevance{
			"app":    rules.RelevanceNone,
			"free":   rules.RelevanceLow,
			"best":   rules.RelevanceLow,
			"new":    rules.RelevanceLow,
			"online": rules.RelevanceMedium,
		},
		Hooks: map[string]rules.HookOverride{
			"urgency":   {Multiplier: 1.0, Keywords: []string{"now", "today", "instant"}},
			"social":    {Multiplier: 1.0, Keywords: []string{"friends", "share", "community"}},
			"authority": {Multiplier: 1.0, Keywords: []string{"official", "trusted", "#1"}},
		},
		Stopwords: []string{"a", "an", "and", "app", "for", "the", "with"},
		KPIWeights: map[string]float64{
			"title_coverage":    1.0,
			"subtitle_coverage": 1.0,
			"keyword_density":   1.0,
		},
		Recommendations: map[string]string{
			"add_brand":        "Put your brand name at the start of the title.",
			"avoid_repetition": "Avoid repeating the same keyword in the title and subtitle.",
		},
		Meta: rules.LayerMeta{Version: BaseVersion},
	}
}

func builtinVerticals() map[string]Definition {
	return map[string]Definition{
		"games": {
			Name: "Games",
			Rules: rules.NormalizedRuleSet{
				TokenRelevance: map[string]rules.Relevance{
					"rpg":         rules.RelevanceHigh,
					"puzzle":      rules.RelevanceHigh,
					"multiplayer": rules.RelevanceMedium,
					"offline":     rules.RelevanceMedium,
				},
				Hooks: map[string]rules.HookOverride{
					"social": {Multiplier: 1.4, Keywords: []string{"friends", "clan", "pvp"}},
				},
				Stopwords:  []string{"game", "games"},
				KPIWeights: map[string]float64{"keyword_density": 1.2},
				Formulas: map[string]rules.FormulaOverride{
					"discoverability": {Multiplier: 1.2, Components: map[string]float64{"genre_match": 1.5}},
				},
				Discovery: &rules.DiscoveryThresholds{Excellent: 30, Good: 15, Moderate: 8},
				Meta:      rules.LayerMeta{Version: 2},
			},
		},
		"finance": {
			Name: "Finance",
			Rules: rules.NormalizedRuleSet{
				TokenRelevance: map[string]rules.Relevance{
					"budget":  rules.RelevanceHigh,
					"invest":  rules.RelevanceHigh,
					"banking": rules.RelevanceHigh,
					"crypto":  rules.RelevanceMedium,
				},
				Hooks: map[string]rules.HookOverride{
					"authority": {Multiplier: 1.5, Keywords: []string{"secure", "insured", "regulated"}},
					"urgency":   {Multiplier: 0.7},
				},
				Stopwords:  []string{"money"},
				KPIWeights: map[string]float64{"title_coverage": 1.3},
				Formulas: map[string]rules.FormulaOverride{
					"trust": {Multiplier: 1.3},
				},
				Recommendations: map[string]string{
					"trust_signal": "Mention security or regulation in the subtitle.",
				},
				Meta: rules.LayerMeta{Version: 4},
			},
		},
		"productivity": {
			Name: "Productivity",
			Rules: rules.NormalizedRuleSet{
				TokenRelevance: map[string]rules.Relevance{
					"notes":    rules.RelevanceHigh,
					"todo":     rules.RelevanceHigh,
					"planner":  rules.RelevanceHigh,
					"calendar": rules.RelevanceMedium,
				},
				Stopwords: []string{"tool", "tools"},
				Meta:      rules.LayerMeta{Version: 1},
			},
		},
		"health": {
			Name: "Health & Fitness",
			Rules: rules.NormalizedRuleSet{
				TokenRelevance: map[string]rules.Relevance{
					"workout":    rules.RelevanceHigh,
					"meditation": rules.RelevanceHigh,
					"tracker":    rules.RelevanceMedium,
				},
				Hooks: map[string]rules.HookOverride{
					"authority": {Multiplier: 1.3, Keywords: []string{"doctor", "certified"}},
				},
				Meta: rules.LayerMeta{Version: 1},
			},
		},
	}
}

func builtinMarkets() map[string]Definition {
	return map[string]Definition{
		"us": {
			Name:  "United States",
			Rules: rules.NormalizedRuleSet{Meta: rules.LayerMeta{Version: 1}},
		},
		"gb": {
			Name: "United Kingdom",
			Rules: rules.NormalizedRuleSet{
				TokenRelevance: map[string]rules.Relevance{"colour": rules.RelevanceMedium},
				Meta:           rules.LayerMeta{Version: 1},
			},
		},
		"de": {
			Name: "Germany",
			Rules: rules.NormalizedRuleSet{
				Stopwords: []string{"der", "die", "das", "und", "mit", "kostenlos"},
				Meta:      rules.LayerMeta{Version: 2},
			},
		},
		"fr": {
			Name: "France",
			Rules: rules.NormalizedRuleSet{
				Stopwords: []string{"le", "la", "les", "et", "pour", "gratuit"},
				Meta:      rules.LayerMeta{Version: 1},
			},
		},
		"jp": {
			Name: "Japan",
			Rules: rules.NormalizedRuleSet{
				KPIWeights: map[string]float64{"subtitle_coverage": 1.2},
				Meta:       rules.LayerMeta{Version: 1},
			},
		},
	}
}
