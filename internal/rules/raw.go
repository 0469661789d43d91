package rules

// Raw records as delivered by a storage adapter. Nothing here is trusted:
// keys may be blank, numbers may be out of range, and the duck-typed fields
// (stopword lists, formula payloads) may have any shape at all.

// RawTokenOverride maps a token to a relevance level.
type RawTokenOverride struct {
	Token     string  `json:"token" yaml:"token"`
	Relevance float64 `json:"relevance" yaml:"relevance"`
}

// RawHookOverride re-weights a hook category. A nil multiplier means neutral.
type RawHookOverride struct {
	HookCategory string   `json:"hook_category" yaml:"category"`
	Multiplier   *float64 `json:"multiplier" yaml:"multiplier"`
	Keywords     []string `json:"keywords" yaml:"keywords"`
}

// RawStopwordRecord carries a stopword array decoded from untyped storage.
type RawStopwordRecord struct {
	Stopwords any `json:"stopwords" yaml:"stopwords"`
}

// RawKPIOverride re-weights a KPI. A nil multiplier means neutral.
type RawKPIOverride struct {
	KPIID      string   `json:"kpi_id" yaml:"id"`
	Multiplier *float64 `json:"multiplier" yaml:"multiplier"`
}

// RawFormulaOverride carries a generic payload with optional "multiplier"
// and "components" keys.
type RawFormulaOverride struct {
	FormulaID string         `json:"formula_id" yaml:"id"`
	Payload   map[string]any `json:"override_payload" yaml:"payload"`
}

// RawRecommendation is a recommendation template.
type RawRecommendation struct {
	RecommendationID string `json:"recommendation_id" yaml:"id"`
	Message          string `json:"message" yaml:"message"`
}

// RawBundle is every raw record a storage adapter returned for one layer.
type RawBundle struct {
	Version         int                  `json:"version" yaml:"version"`
	Tokens          []RawTokenOverride   `json:"tokens,omitempty" yaml:"tokens"`
	Hooks           []RawHookOverride    `json:"hooks,omitempty" yaml:"hooks"`
	Stopwords       []RawStopwordRecord  `json:"stopwords,omitempty" yaml:"stopwords"`
	KPIs            []RawKPIOverride     `json:"kpis,omitempty" yaml:"kpis"`
	Formulas        []RawFormulaOverride `json:"formulas,omitempty" yaml:"formulas"`
	Recommendations []RawRecommendation  `json:"recommendations,omitempty" yaml:"recommendations"`
}

// RecordCount returns the total number of raw records in the bundle.
func (b RawBundle) RecordCount() int {
	return len(b.Tokens) + len(b.Hooks) + len(b.Stopwords) + len(b.KPIs) +
		len(b.Formulas) + len(b.Recommendations)
}
