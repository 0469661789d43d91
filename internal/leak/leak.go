// Package leak flags merged rulesets whose overrides cross tenant boundaries
// or contradict themselves. Warnings are diagnostics only; they never change
// the ruleset itself.
package leak

import (
	"fmt"
	"maps"
	"slices"

	"rulelayer/internal/rules"
)

// Warning kinds.
const (
	KindTenantMismatch   = "tenant_mismatch"
	KindAppMismatch      = "app_mismatch"
	KindStopwordConflict = "stopword_conflict"
)

// Detector inspects a final ruleset against the app it was resolved for.
type Detector interface {
	Inspect(merged rules.MergedRuleSet, app rules.AppMetadata) []rules.LeakWarning
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(merged rules.MergedRuleSet, app rules.AppMetadata) []rules.LeakWarning

func (f DetectorFunc) Inspect(merged rules.MergedRuleSet, app rules.AppMetadata) []rules.LeakWarning {
	return f(merged, app)
}

// OwnershipDetector is the default Detector.
type OwnershipDetector struct {
	// MinConflictRelevance is the relevance at which a token that is also a
	// stopword is reported.
	MinConflictRelevance rules.Relevance
}

func NewOwnershipDetector() *OwnershipDetector {
	return &OwnershipDetector{MinConflictRelevance: rules.RelevanceMedium}
}

func (d *OwnershipDetector) Inspect(merged rules.MergedRuleSet, app rules.AppMetadata) []rules.LeakWarning {
	var out []rules.LeakWarning
	id := merged.Identity

	if id.OrganizationID != "" && app.OrganizationID != "" && id.OrganizationID != app.OrganizationID {
		out = append(out, rules.LeakWarning{
			Kind: KindTenantMismatch,
			Key:  id.OrganizationID,
			Message: fmt.Sprintf("client overrides of organization %q applied to app %q owned by %q",
				id.OrganizationID, app.AppID, app.OrganizationID),
		})
	}
	if id.AppID != "" && app.AppID != "" && id.AppID != app.AppID {
		out = append(out, rules.LeakWarning{
			Kind:    KindAppMismatch,
			Key:     id.AppID,
			Message: fmt.Sprintf("overrides resolved for app %q applied to app %q", id.AppID, app.AppID),
		})
	}

	if merged.StopwordOverrides != nil {
		for _, token := range slices.Sorted(maps.Keys(merged.TokenRelevanceOverrides)) {
			rel := merged.TokenRelevanceOverrides[token]
			if rel < d.MinConflictRelevance {
				continue
			}
			if _, found := slices.BinarySearch(merged.StopwordOverrides.All, token); found {
				out = append(out, rules.LeakWarning{
					Kind:    KindStopwordConflict,
					Key:     token,
					Message: fmt.Sprintf("token %q has relevance %d but is also a stopword", token, rel),
				})
			}
		}
	}
	return out
}
