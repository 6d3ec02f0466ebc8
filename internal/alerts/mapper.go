package alerts

import (
	"strings"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/avolkov/incident-bridge/internal/incidents"
)

const (
	// defaultTitle is used when an alert carries neither a summary
	// annotation nor an alertname label.
	defaultTitle = "Unnamed alert"

	placeholderText = "To be determined"
)

// severityByLabel maps alert severity labels (case-insensitive) to incident
// severities. Unmapped values fall back to critical: an alert whose
// severity we cannot classify is treated as worst-case rather than buried
// at a middle tier.
var severityByLabel = map[string]domain.IncidentSeverity{
	"critical":      domain.SeverityCritical,
	"high":          domain.SeverityHigh,
	"medium":        domain.SeverityMedium,
	"low":           domain.SeverityLow,
	"informational": domain.SeverityInformational,
}

// deriveTitle derives the incident title from the alert: the summary
// annotation, falling back to the alertname label, falling back to a
// literal default.
func deriveTitle(alert domain.Alert) string {
	if summary := alert.Annotations["summary"]; summary != "" {
		return summary
	}
	if name := alert.Labels["alertname"]; name != "" {
		return name
	}
	return defaultTitle
}

// deriveSeverity derives the incident severity from the alert's severity label.
func deriveSeverity(alert domain.Alert) domain.IncidentSeverity {
	if severity, ok := severityByLabel[strings.ToLower(alert.Labels["severity"])]; ok {
		return severity
	}
	return domain.SeverityCritical
}

// MapAlert maps an alert into incident-creation input authored by the
// system user. The incident starts open, flagged auto-detected, with
// placeholder impacts and RCA for responders to fill in.
func MapAlert(alert domain.Alert, systemUser *domain.User) incidents.CreateIncidentInput {
	detectedAt := alert.StartsAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}

	input := incidents.CreateIncidentInput{
		Title:        deriveTitle(alert),
		Severity:     deriveSeverity(alert),
		Summary:      alert.Annotations["description"],
		CommanderID:  systemUser.ID,
		DetectedAt:   &detectedAt,
		AutoDetected: true,
		Impacts: &incidents.ImpactsInput{
			CustomerImpact: placeholderText,
			BusinessImpact: placeholderText,
		},
		RCA: &incidents.RCAInput{
			WhatHappened:       placeholderText,
			WhyItHappened:      placeholderText,
			TechnicalCause:     placeholderText,
			DetectionMechanism: "Monitoring alert",
		},
	}

	name := systemUser.Username
	input.DetectedByName = &name

	if alert.Fingerprint != "" {
		fp := alert.Fingerprint
		input.AlertFingerprint = &fp
	}

	return input
}
