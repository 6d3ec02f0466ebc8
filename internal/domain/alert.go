package domain

import "time"

// Alert is a firing alert as exposed by an Alertmanager-compatible source.
type Alert struct {
	Fingerprint string            `json:"fingerprint"`
	State       string            `json:"state"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
}

// MatchType is the comparison operator of an alert filter rule.
type MatchType string

// Match types.
const (
	MatchEquals      MatchType = "equals"
	MatchNotEquals   MatchType = "not_equals"
	MatchContains    MatchType = "contains"
	MatchNotContains MatchType = "not_contains"
)

// IsValid checks if the match type is valid.
func (t MatchType) IsValid() bool {
	switch t {
	case MatchEquals, MatchNotEquals, MatchContains, MatchNotContains:
		return true
	}
	return false
}

// AlertFilterRule is a configured predicate deciding whether an incoming
// alert should (inclusion rule) or must not (exclusion rule) spawn an
// incident. TargetField is a dotted path into the alert's labels or
// annotations, e.g. "labels.severity".
type AlertFilterRule struct {
	ID          string    `json:"id"`
	RuleName    string    `json:"rule_name"`
	TargetField string    `json:"target_field"`
	MatchType   MatchType `json:"match_type"`
	MatchValue  string    `json:"match_value"`
	IsActive    bool      `json:"is_active"`
	IsExclusion bool      `json:"is_exclusion_rule"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
