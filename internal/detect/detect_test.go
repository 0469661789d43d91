package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rulelayer/internal/rules"
)

func TestLocaleDetector_Vertical(t *testing.T) {
	d := NewLocaleDetector()

	tests := []struct {
		name       string
		app        rules.AppMetadata
		vertical   string
		confidence float64
	}{
		{"category", rules.AppMetadata{Category: "Games"}, "games", 1.0},
		{"category with spaces", rules.AppMetadata{Category: " Health & Fitness "}, "health", 1.0},
		{"title keyword", rules.AppMetadata{Category: "Lifestyle", Title: "Budget Wallet"}, "finance", 0.6},
		{"plural keyword", rules.AppMetadata{Subtitle: "Daily Workouts"}, "health", 0.6},
		{"no match", rules.AppMetadata{Title: "Something"}, BaseVertical, 0},
		{"substring is not a match", rules.AppMetadata{Title: "Gamer lounge"}, BaseVertical, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.app, "")
			assert.Equal(t, tt.vertical, got.VerticalID)
			assert.Equal(t, tt.confidence, got.Confidence)
		})
	}
}

func TestLocaleDetector_Market(t *testing.T) {
	d := NewLocaleDetector()

	tests := map[string]string{
		"en-US":      "us",
		"en_gb":      "gb",
		"de":         "de",
		"ja":         "jp",
		"zh-Hant-TW": "tw",
		"pt":         "",
		"":           "",
		"  ":         "",
	}
	for locale, want := range tests {
		got := d.Detect(rules.AppMetadata{}, locale)
		assert.Equal(t, want, got.MarketID, locale)
	}
	assert.Equal(t, "US", d.Detect(rules.AppMetadata{}, "en-US").MarketName)
}

func TestDetectorFunc(t *testing.T) {
	var d Detector = DetectorFunc(func(app rules.AppMetadata, locale string) Detection {
		return Detection{VerticalID: "fixed", MarketID: locale}
	})
	got := d.Detect(rules.AppMetadata{}, "xx")
	assert.Equal(t, Detection{VerticalID: "fixed", MarketID: "xx"}, got)
}
