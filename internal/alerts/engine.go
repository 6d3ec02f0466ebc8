// Package alerts implements alert intake: rule-based filtering of incoming
// monitoring alerts, deduplication against existing incidents, and mapping
// of alerts into incident-creation input.
package alerts

import (
	"strings"

	"github.com/avolkov/incident-bridge/internal/domain"
)

// resolveField resolves a dotted path like "labels.severity" against the
// alert. An absent segment resolves to ok=false, never an error.
func resolveField(alert domain.Alert, path string) (string, bool) {
	parts := strings.SplitN(path, ".", 2)
	if len(parts) != 2 {
		return "", false
	}

	var m map[string]string
	switch parts[0] {
	case "labels":
		m = alert.Labels
	case "annotations":
		m = alert.Annotations
	default:
		return "", false
	}

	value, ok := m[parts[1]]
	return value, ok
}

// Matches evaluates a single rule against an alert. A rule whose target
// field is absent from the alert never matches.
func Matches(alert domain.Alert, rule domain.AlertFilterRule) bool {
	value, ok := resolveField(alert, rule.TargetField)
	if !ok {
		return false
	}

	switch rule.MatchType {
	case domain.MatchEquals:
		return value == rule.MatchValue
	case domain.MatchNotEquals:
		return value != rule.MatchValue
	case domain.MatchContains:
		return strings.Contains(value, rule.MatchValue)
	case domain.MatchNotContains:
		return !strings.Contains(value, rule.MatchValue)
	}
	return false
}

// ShouldCreate decides whether an alert should spawn an incident under the
// active rule set. Exclusion rules win outright: an alert matching any
// active exclusion rule is rejected regardless of inclusion matches.
// Otherwise the alert is accepted iff it matches at least one active
// inclusion rule; an alert matching nothing is rejected (default-deny).
func ShouldCreate(alert domain.Alert, rules []domain.AlertFilterRule) bool {
	included := false
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if !Matches(alert, rule) {
			continue
		}
		if rule.IsExclusion {
			return false
		}
		included = true
	}
	return included
}
