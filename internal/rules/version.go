package rules

// Schema tags for the downstream KPI and formula engines. Bump these when the
// meaning of a KPI id or formula component changes.
const (
	KPISchemaVersion     = "kpi.v2"
	FormulaSchemaVersion = "formula.v3"
)

// VersionInfo records which layer versions produced a merged result, so a
// score can be reproduced later.
type VersionInfo struct {
	RulesetVersion       int    `json:"ruleset_version"`
	VerticalVersion      int    `json:"vertical_version,omitempty"`
	MarketVersion        int    `json:"market_version,omitempty"`
	ClientVersion        int    `json:"client_version,omitempty"`
	KPISchemaVersion     string `json:"kpi_schema_version"`
	FormulaSchemaVersion string `json:"formula_schema_version"`
}

// Stamp derives version info from the layers. When several layers share a
// rank the highest version is kept.
func Stamp(layers []NormalizedRuleSet) VersionInfo {
	v := VersionInfo{
		KPISchemaVersion:     KPISchemaVersion,
		FormulaSchemaVersion: FormulaSchemaVersion,
	}
	for _, l := range layers {
		ver := l.Meta.Version
		switch l.Meta.Layer() {
		case LayerBase:
			v.RulesetVersion = max(v.RulesetVersion, ver)
		case LayerVertical:
			v.VerticalVersion = max(v.VerticalVersion, ver)
		case LayerMarket:
			v.MarketVersion = max(v.MarketVersion, ver)
		case LayerClient:
			v.ClientVersion = max(v.ClientVersion, ver)
		}
	}
	return v
}

// WithVersion returns a copy of m carrying v.
func WithVersion(m MergedRuleSet, v VersionInfo) MergedRuleSet {
	out := m.Clone()
	out.Version = v
	return out
}

// CombineVersions folds two version records; a non-zero value in top wins.
func CombineVersions(base, top VersionInfo) VersionInfo {
	pick := func(a, b int) int {
		if b != 0 {
			return b
		}
		return a
	}
	return VersionInfo{
		RulesetVersion:       pick(base.RulesetVersion, top.RulesetVersion),
		VerticalVersion:      pick(base.VerticalVersion, top.VerticalVersion),
		MarketVersion:        pick(base.MarketVersion, top.MarketVersion),
		ClientVersion:        pick(base.ClientVersion, top.ClientVersion),
		KPISchemaVersion:     KPISchemaVersion,
		FormulaSchemaVersion: FormulaSchemaVersion,
	}
}
