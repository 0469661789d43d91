// Package registry holds the code-defined rulesets: the guaranteed-available
// base layer plus the vertical and market layers that ship with the binary.
// They need no normalization and merge like any other layer.
package registry

import (
	"maps"
	"slices"

	"rulelayer/internal/rules"
)

// Version of the code-defined base ruleset. Bump when builtin rules change.
const BaseVersion = 3

// Definition is one code-defined layer plus its display name.
type Definition struct {
	Name  string
	Rules rules.NormalizedRuleSet
}

// Registry resolves vertical and market ids to code-defined layers.
// The zero value is empty but usable.
type Registry struct {
	base      rules.NormalizedRuleSet
	verticals map[string]Definition
	markets   map[string]Definition
}

// New builds a registry over explicit definitions. Meta on each ruleset is
// rewritten so the layer rank and origin always match the map it lives in.
func New(base rules.NormalizedRuleSet, verticals, markets map[string]Definition) *Registry {
	r := &Registry{
		verticals: make(map[string]Definition, len(verticals)),
		markets:   make(map[string]Definition, len(markets)),
	}
	base.Meta = rules.LayerMeta{Origin: rules.OriginCode, Version: base.Meta.Version}
	r.base = base
	for id, def := range verticals {
		def.Rules.Meta = rules.LayerMeta{Vertical: id, Origin: rules.OriginCode, Version: def.Rules.Meta.Version}
		r.verticals[id] = def
	}
	for id, def := range markets {
		def.Rules.Meta = rules.LayerMeta{Market: id, Origin: rules.OriginCode, Version: def.Rules.Meta.Version}
		r.markets[id] = def
	}
	return r
}

// Default returns the builtin registry.
func Default() *Registry {
	return New(builtinBase(), builtinVerticals(), builtinMarkets())
}

// Base returns the code-defined base layer.
func (r *Registry) Base() rules.NormalizedRuleSet {
	if r == nil {
		return rules.EmptyLayer(rules.LayerMeta{Origin: rules.OriginCode})
	}
	return r.base
}

// Vertical returns the code-defined layer for id.
func (r *Registry) Vertical(id string) (rules.NormalizedRuleSet, bool) {
	if r == nil {
		return rules.NormalizedRuleSet{}, false
	}
	def, ok := r.verticals[id]
	return def.Rules, ok
}

// Market returns the code-defined layer for id.
func (r *Registry) Market(id string) (rules.NormalizedRuleSet, bool) {
	if r == nil {
		return rules.NormalizedRuleSet{}, false
	}
	def, ok := r.markets[id]
	return def.Rules, ok
}

// VerticalName returns the display name, or "" for unknown ids.
func (r *Registry) VerticalName(id string) string {
	if r == nil {
		return ""
	}
	return r.verticals[id].Name
}

// MarketName returns the display name, or "" for unknown ids.
func (r *Registry) MarketName(id string) string {
	if r == nil {
		return ""
	}
	return r.markets[id].Name
}

// Verticals lists registered vertical ids in sorted order.
func (r *Registry) Verticals() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.verticals))
}

// Markets lists registered market ids in sorted order.
func (r *Registry) Markets() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.markets))
}
