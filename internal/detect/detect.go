// Package detect maps app metadata and a locale to vertical and market ids.
// The loader treats the result as opaque; this is only the default
// collaborator and can be replaced with any Detector.
package detect

import (
	"strings"

	"rulelayer/internal/logging"
	"rulelayer/internal/rules"
)

// BaseVertical is the synthetic vertical id for apps no rule matched.
const BaseVertical = "base"

// Detection is the classifier output.
type Detection struct {
	VerticalID   string  `json:"vertical_id"`
	VerticalName string  `json:"vertical_name,omitempty"`
	Confidence   float64 `json:"confidence"`
	MarketID     string  `json:"market_id,omitempty"`
	MarketName   string  `json:"market_name,omitempty"`
}

// Detector classifies an app.
type Detector interface {
	Detect(app rules.AppMetadata, locale string) Detection
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(app rules.AppMetadata, locale string) Detection

func (f DetectorFunc) Detect(app rules.AppMetadata, locale string) Detection { return f(app, locale) }

type verticalRule struct {
	id       string
	name     string
	keywords []string
}

// LocaleDetector classifies by store category first, then by title keywords,
// and derives the market from the locale's region (or language).
type LocaleDetector struct {
	categories map[string]verticalRule
	rules      []verticalRule
	languages  map[string]string
}

// NewLocaleDetector returns the default detector.
func NewLocaleDetector() *LocaleDetector {
	games := verticalRule{"games", "Games", []string{"game", "rpg", "puzzle", "arcade"}}
	finance := verticalRule{"finance", "Finance", []string{"bank", "budget", "invest", "wallet"}}
	productivity := verticalRule{"productivity", "Productivity", []string{"todo", "notes", "planner", "calendar"}}
	health := verticalRule{"health", "Health & Fitness", []string{"workout", "fitness", "meditation", "diet"}}

	return &LocaleDetector{
		categories: map[string]verticalRule{
			"games":            games,
			"game":             games,
			"finance":          finance,
			"productivity":     productivity,
			"health & fitness": health,
			"health":           health,
		},
		rules: []verticalRule{games, finance, productivity, health},
		languages: map[string]string{
			"en": "us",
			"de": "de",
			"fr": "fr",
			"ja": "jp",
		},
	}
}

// Detect never fails: an unknown app is BaseVertical with zero confidence and
// an unparseable locale yields no market.
func (d *LocaleDetector) Detect(app rules.AppMetadata, locale string) Detection {
	out := Detection{VerticalID: BaseVertical}

	if r, ok := d.categories[strings.ToLower(strings.TrimSpace(app.Category))]; ok {
		out.VerticalID, out.VerticalName, out.Confidence = r.id, r.name, 1.0
	} else if r, ok := d.byKeyword(app); ok {
		out.VerticalID, out.VerticalName, out.Confidence = r.id, r.name, 0.6
	}

	out.MarketID = d.market(locale)
	if out.MarketID != "" {
		out.MarketName = strings.ToUpper(out.MarketID)
	}

	logging.DetectDebug("app %q (category %q, locale %q) -> vertical=%s (%.1f) market=%s",
		app.AppID, app.Category, locale, out.VerticalID, out.Confidence, out.MarketID)
	return out
}

func (d *LocaleDetector) byKeyword(app rules.AppMetadata) (verticalRule, bool) {
	text := strings.ToLower(app.Title + " " + app.Subtitle)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, r := range d.rules {
		for _, w := range words {
			for _, kw := range r.keywords {
				if w == kw || w == kw+"s" {
					return r, true
				}
			}
		}
	}
	return verticalRule{}, false
}

// market parses "en-US", "en_us", "de" and similar.
func (d *LocaleDetector) market(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale == "" {
		return ""
	}
	parts := strings.FieldsFunc(locale, func(r rune) bool { return r == '-' || r == '_' })
	if len(parts) == 0 {
		return ""
	}
	if len(parts) > 1 {
		region := parts[len(parts)-1]
		if len(region) == 2 {
			return region
		}
	}
	return d.languages[parts[0]]
}
