package domain

import "time"

// IncidentStatus represents the current lifecycle status of an incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusOpen     IncidentStatus = "open"
	IncidentStatusDoing    IncidentStatus = "doing"
	IncidentStatusResolved IncidentStatus = "resolved"
)

// IsValid checks if the incident status is valid.
func (s IncidentStatus) IsValid() bool {
	return s == IncidentStatusOpen || s == IncidentStatusDoing || s == IncidentStatusResolved
}

// IsResolved checks if the status is the terminal resolved state.
func (s IncidentStatus) IsResolved() bool {
	return s == IncidentStatusResolved
}

// IsActive checks if the incident is still being worked on.
func (s IncidentStatus) IsActive() bool {
	return s == IncidentStatusOpen || s == IncidentStatusDoing
}

// IncidentSeverity represents the severity level of an incident.
type IncidentSeverity string

// Severity levels, ordered critical > high > medium > low > informational.
const (
	SeverityCritical      IncidentSeverity = "critical"
	SeverityHigh          IncidentSeverity = "high"
	SeverityMedium        IncidentSeverity = "medium"
	SeverityLow           IncidentSeverity = "low"
	SeverityInformational IncidentSeverity = "informational"
)

// IsValid checks if the severity is valid.
func (s IncidentSeverity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInformational:
		return true
	}
	return false
}

// Rank returns the ordering weight of a severity. Higher is worse.
func (s IncidentSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInformational:
		return 1
	}
	return 0
}

// Incident represents a tracked operational event from detection through resolution.
//
// Exactly one of DetectedByID / DetectedByName is set: a manual detection
// source is either a user or a free-text system name, never both.
type Incident struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Severity         IncidentSeverity `json:"severity"`
	Status           IncidentStatus   `json:"status"`
	Summary          string           `json:"summary"`
	CommanderID      string           `json:"commander_id"`
	DetectedByID     *string          `json:"detected_by_id,omitempty"`
	DetectedByName   *string          `json:"detected_by_name,omitempty"`
	DetectedAt       time.Time        `json:"detected_at"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	AlertFingerprint *string          `json:"alert_fingerprint,omitempty"`
	AutoDetected     bool             `json:"auto_detected"`
	AffectedServices []string         `json:"affected_services"`
	AffectedRegions  []string         `json:"affected_regions"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// TimelineEvent is a single entry in an incident's timeline. Entries are
// append-only; the first entry is always the synthetic "incident created" one.
type TimelineEvent struct {
	ID          string    `json:"id"`
	IncidentID  string    `json:"incident_id"`
	OwnerID     string    `json:"owner_id"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// CommunicationLog is one append-only record of outward communication
// during incident handling.
type CommunicationLog struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	Channel    string    `json:"channel"`
	Message    string    `json:"message"`
	SentAt     time.Time `json:"sent_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Impacts captures the customer and business impact of an incident.
// At most one record per incident, frozen once the incident is resolved.
type Impacts struct {
	IncidentID     string    `json:"incident_id"`
	CustomerImpact string    `json:"customer_impact"`
	BusinessImpact string    `json:"business_impact"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ShallowRCA is the lightweight root-cause capture done during active
// incident handling. At most one per incident, frozen once resolved.
type ShallowRCA struct {
	IncidentID         string    `json:"incident_id"`
	WhatHappened       string    `json:"what_happened"`
	WhyItHappened      string    `json:"why_it_happened"`
	TechnicalCause     string    `json:"technical_cause"`
	DetectionMechanism string    `json:"detection_mechanism"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ResolutionMitigation records the resolution produced when an incident
// transitions to resolved.
type ResolutionMitigation struct {
	IncidentID           string    `json:"incident_id"`
	ResolutionTime       time.Time `json:"resolution_time"`
	RemediationSteps     []string  `json:"remediation_steps"`
	PreventativeMeasures []string  `json:"preventative_measures"`
	CreatedAt            time.Time `json:"created_at"`
}

// SignOff is an approval recorded against an incident.
type SignOff struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	UserID     string    `json:"user_id"`
	Role       string    `json:"role"`
	Note       string    `json:"note,omitempty"`
	SignedAt   time.Time `json:"signed_at"`
}
