package alerts

import (
	"testing"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func systemUser() *domain.User {
	return &domain.User{
		ID:           "system-1",
		Username:     "alertmanager",
		IsActive:     true,
		IsSystemUser: true,
	}
}

func TestMapAlert_TitleFallbackChain(t *testing.T) {
	alert := domain.Alert{
		Labels:      map[string]string{"alertname": "DiskFull"},
		Annotations: map[string]string{"summary": "Disk almost full on db-1"},
	}

	input := MapAlert(alert, systemUser())
	assert.Equal(t, "Disk almost full on db-1", input.Title, "summary annotation wins")

	delete(alert.Annotations, "summary")
	input = MapAlert(alert, systemUser())
	assert.Equal(t, "DiskFull", input.Title, "alertname label is the fallback")

	delete(alert.Labels, "alertname")
	input = MapAlert(alert, systemUser())
	assert.Equal(t, "Unnamed alert", input.Title)
}

func TestMapAlert_SeverityMapping(t *testing.T) {
	tests := []struct {
		label string
		want  domain.IncidentSeverity
	}{
		{"critical", domain.SeverityCritical},
		{"HIGH", domain.SeverityHigh},
		{"medium", domain.SeverityMedium},
		{"low", domain.SeverityLow},
		{"informational", domain.SeverityInformational},
		{"warning", domain.SeverityCritical},
		{"", domain.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			alert := domain.Alert{Labels: map[string]string{"severity": tt.label}}
			assert.Equal(t, tt.want, MapAlert(alert, systemUser()).Severity)
		})
	}
}

func TestMapAlert_AuthoredBySystemUser(t *testing.T) {
	startsAt := time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC)
	alert := domain.Alert{
		Fingerprint: "abc123",
		Labels:      map[string]string{"alertname": "HighErrorRate"},
		Annotations: map[string]string{"description": "Errors above threshold"},
		StartsAt:    startsAt,
	}

	input := MapAlert(alert, systemUser())

	assert.True(t, input.AutoDetected)
	assert.Equal(t, "system-1", input.CommanderID)
	require.NotNil(t, input.DetectedByName)
	assert.Equal(t, "alertmanager", *input.DetectedByName)
	assert.Nil(t, input.DetectedByID)
	require.NotNil(t, input.DetectedAt)
	assert.Equal(t, startsAt, *input.DetectedAt)
	require.NotNil(t, input.AlertFingerprint)
	assert.Equal(t, "abc123", *input.AlertFingerprint)
	assert.Equal(t, "Errors above threshold", input.Summary)
}

func TestMapAlert_PlaceholderSubEntities(t *testing.T) {
	input := MapAlert(domain.Alert{}, systemUser())

	require.NotNil(t, input.Impacts)
	assert.Equal(t, "To be determined", input.Impacts.CustomerImpact)
	assert.Equal(t, "To be determined", input.Impacts.BusinessImpact)
	require.NotNil(t, input.RCA)
	assert.Equal(t, "Monitoring alert", input.RCA.DetectionMechanism)
	assert.Nil(t, input.AlertFingerprint, "empty fingerprint stays unset")
}

func TestMapAlert_ZeroStartsAtDefaultsToNow(t *testing.T) {
	before := time.Now()
	input := MapAlert(domain.Alert{}, systemUser())

	require.NotNil(t, input.DetectedAt)
	assert.False(t, input.DetectedAt.Before(before))
}
