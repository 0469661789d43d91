package rules

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"rulelayer/internal/logging"
)

// Normalize converts one layer's raw records into a NormalizedRuleSet.
// It never fails: records missing their key are skipped, out-of-range values
// are clamped, and both are reported at debug level. Within a bundle the last
// record for a key wins.
func Normalize(raw RawBundle, meta LayerMeta) NormalizedRuleSet {
	if meta.Origin == "" {
		meta.Origin = OriginDatabase
	}
	if meta.Version == 0 {
		meta.Version = raw.Version
	}
	layer := meta.Layer()

	out := NormalizedRuleSet{
		TokenRelevance:  normalizeTokens(raw.Tokens, layer),
		Hooks:           normalizeHooks(raw.Hooks, layer),
		Stopwords:       normalizeStopwords(raw.Stopwords, layer),
		KPIWeights:      normalizeKPIs(raw.KPIs, layer),
		Formulas:        normalizeFormulas(raw.Formulas, layer),
		Recommendations: normalizeRecommendations(raw.Recommendations, layer),
		Meta:            meta,
	}

	logging.NormalizeDebug("normalized %s layer: %d raw records -> tokens=%d hooks=%d stopwords=%d kpis=%d formulas=%d templates=%d",
		layer, raw.RecordCount(), len(out.TokenRelevance), len(out.Hooks), len(out.Stopwords),
		len(out.KPIWeights), len(out.Formulas), len(out.Recommendations))
	return out
}

// ClampRelevance floors v and clamps it into [0,3].
func ClampRelevance(v float64) Relevance {
	f := math.Floor(v)
	switch {
	case f < float64(MinRelevance):
		return MinRelevance
	case f > float64(MaxRelevance):
		return MaxRelevance
	default:
		return Relevance(f)
	}
}

// ClampMultiplier clamps v into [0.5, 2.0].
func ClampMultiplier(v float64) float64 {
	return math.Min(MaxMultiplier, math.Max(MinMultiplier, v))
}

// NormalizeToken lowercases and trims a token or stopword.
func NormalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeTokens(records []RawTokenOverride, layer Layer) map[string]Relevance {
	out := make(map[string]Relevance, len(records))
	for i, r := range records {
		token := NormalizeToken(r.Token)
		if token == "" {
			logging.NormalizeDebug("%s token override #%d skipped: empty token", layer, i)
			continue
		}
		if math.IsNaN(r.Relevance) {
			logging.NormalizeDebug("%s token override %q skipped: relevance is NaN", layer, token)
			continue
		}
		rel := ClampRelevance(r.Relevance)
		if float64(rel) != r.Relevance {
			logging.NormalizeDebug("%s token %q relevance %v clamped to %d", layer, token, r.Relevance, rel)
		}
		out[token] = rel
	}
	return out
}

func normalizeHooks(records []RawHookOverride, layer Layer) map[string]HookOverride {
	out := make(map[string]HookOverride, len(records))
	for i, r := range records {
		category := NormalizeToken(r.HookCategory)
		if category == "" {
			logging.NormalizeDebug("%s hook override #%d skipped: empty hook_category", layer, i)
			continue
		}
		m, ok := multiplierOrNeutral(r.Multiplier)
		if !ok {
			logging.NormalizeDebug("%s hook %q skipped: multiplier is NaN", layer, category)
			continue
		}
		clamped := ClampMultiplier(m)
		if clamped != m {
			logging.NormalizeDebug("%s hook %q multiplier %v clamped to %v", layer, category, m, clamped)
		}
		out[category] = HookOverride{
			Multiplier: clamped,
			Keywords:   dedupeTokens(r.Keywords),
		}
	}
	return out
}

func normalizeStopwords(records []RawStopwordRecord, layer Layer) []string {
	var flat []string
	for i, r := range records {
		words, ok := stringArray(r.Stopwords)
		if !ok {
			logging.NormalizeDebug("%s stopword record #%d skipped: stopwords is %T, not an array", layer, i, r.Stopwords)
			continue
		}
		flat = append(flat, words...)
	}
	return dedupeTokens(flat)
}

func normalizeKPIs(records []RawKPIOverride, layer Layer) map[string]float64 {
	out := make(map[string]float64, len(records))
	for i, r := range records {
		id := strings.TrimSpace(r.KPIID)
		if id == "" {
			logging.NormalizeDebug("%s kpi override #%d skipped: empty kpi_id", layer, i)
			continue
		}
		m, ok := multiplierOrNeutral(r.Multiplier)
		if !ok {
			logging.NormalizeDebug("%s kpi %q skipped: multiplier is NaN", layer, id)
			continue
		}
		clamped := ClampMultiplier(m)
		if clamped != m {
			logging.NormalizeDebug("%s kpi %q multiplier %v clamped to %v", layer, id, m, clamped)
		}
		out[id] = clamped
	}
	return out
}

// normalizeFormulas clamps the top-level multiplier only. Component
// multipliers pass through here and are clamped by the merger.
func normalizeFormulas(records []RawFormulaOverride, layer Layer) map[string]FormulaOverride {
	out := make(map[string]FormulaOverride, len(records))
	for i, r := range records {
		id := strings.TrimSpace(r.FormulaID)
		if id == "" {
			logging.NormalizeDebug("%s formula override #%d skipped: empty formula_id", layer, i)
			continue
		}

		multiplier := NeutralMultiplier
		if v, present := r.Payload["multiplier"]; present {
			if f, ok := toFloat(v); ok {
				multiplier = ClampMultiplier(f)
			} else {
				logging.NormalizeDebug("%s formula %q multiplier %v (%T) is not numeric; using %v", layer, id, v, v, NeutralMultiplier)
			}
		}

		var components map[string]float64
		if raw, present := r.Payload["components"]; present {
			fields, ok := raw.(map[string]any)
			if !ok {
				logging.NormalizeDebug("%s formula %q components is %T, not an object", layer, id, raw)
			}
			for name, v := range fields {
				name = strings.TrimSpace(name)
				f, numeric := toFloat(v)
				if name == "" || !numeric {
					logging.NormalizeDebug("%s formula %q component %q skipped", layer, id, name)
					continue
				}
				if components == nil {
					components = make(map[string]float64, len(fields))
				}
				components[name] = f
			}
		}

		out[id] = FormulaOverride{Multiplier: multiplier, Components: components}
	}
	return out
}

func normalizeRecommendations(records []RawRecommendation, layer Layer) map[string]string {
	out := make(map[string]string, len(records))
	for i, r := range records {
		id := strings.TrimSpace(r.RecommendationID)
		msg := strings.TrimSpace(r.Message)
		if id == "" || msg == "" {
			logging.NormalizeDebug("%s recommendation #%d skipped: missing id or message", layer, i)
			continue
		}
		out[id] = msg
	}
	return out
}

func multiplierOrNeutral(p *float64) (float64, bool) {
	if p == nil {
		return NeutralMultiplier, true
	}
	if math.IsNaN(*p) {
		return 0, false
	}
	return *p, true
}

// stringArray accepts the array shapes JSON and YAML decoders produce.
// Non-string elements are dropped.
func stringArray(v any) ([]string, bool) {
	switch arr := v.(type) {
	case []string:
		return arr, true
	case []any:
		out := make([]string, 0, len(arr))
		for _, e := range arr {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// dedupeTokens normalizes, drops empties, and removes duplicates keeping
// first-seen order.
func dedupeTokens(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = NormalizeToken(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
