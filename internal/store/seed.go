package store

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"rulelayer/internal/rules"
)

// SeedFile is the YAML document operators use to load override layers.
//
//	layers:
//	  - vertical: games
//	    version: 3
//	    tokens:
//	      - {token: rpg, relevance: 3}
//	    stopwords: [game, games]
//	  - organization_id: org-1
//	    app_id: app-7
//	    kpis:
//	      - {id: conversion, multiplier: 1.4}
type SeedFile struct {
	Layers []SeedLayer `yaml:"layers" json:"layers"`
}

// SeedLayer is one layer's rows. Exactly one scope must be set: vertical,
// market, or organization_id (optionally with app_id).
type SeedLayer struct {
	Vertical       string `yaml:"vertical,omitempty" json:"vertical,omitempty"`
	Market         string `yaml:"market,omitempty" json:"market,omitempty"`
	OrganizationID string `yaml:"organization_id,omitempty" json:"organization_id,omitempty"`
	AppID          string `yaml:"app_id,omitempty" json:"app_id,omitempty"`
	Version        int    `yaml:"version,omitempty" json:"version,omitempty"`

	Tokens          []rules.RawTokenOverride   `yaml:"tokens,omitempty" json:"tokens,omitempty"`
	Hooks           []rules.RawHookOverride    `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	Stopwords       []string                   `yaml:"stopwords,omitempty" json:"stopwords,omitempty"`
	KPIs            []rules.RawKPIOverride     `yaml:"kpis,omitempty" json:"kpis,omitempty"`
	Formulas        []rules.RawFormulaOverride `yaml:"formulas,omitempty" json:"formulas,omitempty"`
	Recommendations []rules.RawRecommendation  `yaml:"recommendations,omitempty" json:"recommendations,omitempty"`
}

// Selector derives the layer this seed entry addresses.
func (l SeedLayer) Selector() (Selector, error) {
	vertical := strings.TrimSpace(l.Vertical)
	market := strings.TrimSpace(l.Market)
	org := strings.TrimSpace(l.OrganizationID)
	app := strings.TrimSpace(l.AppID)

	set := 0
	for _, v := range []string{vertical, market, org} {
		if v != "" {
			set++
		}
	}
	switch {
	case set != 1:
		return Selector{}, fmt.Errorf("%w: seed layer must set exactly one of vertical, market, organization_id", ErrInvalidSelector)
	case app != "" && org == "":
		return Selector{}, fmt.Errorf("%w: app_id requires organization_id", ErrInvalidSelector)
	case org != "":
		return ClientSelector(org, app), nil
	case market != "":
		return MarketSelector(market), nil
	default:
		return VerticalSelector(vertical), nil
	}
}

// Bundle converts the seed entry to the raw shape adapters return.
func (l SeedLayer) Bundle() rules.RawBundle {
	b := rules.RawBundle{
		Version:         l.version(),
		Tokens:          l.Tokens,
		Hooks:           l.Hooks,
		KPIs:            l.KPIs,
		Formulas:        l.Formulas,
		Recommendations: l.Recommendations,
	}
	if len(l.Stopwords) > 0 {
		words := make([]any, len(l.Stopwords))
		for i, w := range l.Stopwords {
			words[i] = w
		}
		b.Stopwords = []rules.RawStopwordRecord{{Stopwords: words}}
	}
	return b
}

func (l SeedLayer) version() int {
	if l.Version <= 0 {
		return 1
	}
	return l.Version
}

// ImportResult summarizes one seed import.
type ImportResult struct {
	BatchID string `json:"batch_id"`
	Layers  int    `json:"layers"`
	Records int    `json:"records"`
}

// ParseSeed decodes a seed document and validates every layer's scope.
func ParseSeed(data []byte) (SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return SeedFile{}, fmt.Errorf("failed to parse seed: %w", err)
	}
	for i, l := range seed.Layers {
		if _, err := l.Selector(); err != nil {
			return SeedFile{}, fmt.Errorf("seed layer %d: %w", i, err)
		}
	}
	return seed, nil
}

// LoadSeedFile reads and parses a seed file from disk.
func LoadSeedFile(path string) (SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, fmt.Errorf("failed to read seed file: %w", err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return SeedFile{}, fmt.Errorf("%s: %w", path, err)
	}
	return seed, nil
}
