package notifications

import (
	"testing"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRenderer(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	require.NotNil(t, r)

	for _, name := range []string{
		"email_created.tmpl",
		"email_resolved.tmpl",
		"webhook_created.tmpl",
		"webhook_resolved.tmpl",
	} {
		assert.NotNil(t, r.root.Lookup(name), "missing template %s", name)
	}
}

func TestRenderer_RenderCreated_Email(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	now := time.Now()
	detectedBy := "alertmanager"
	payload := NotificationPayload{
		MessageType: MessageTypeCreated,
		Incident: IncidentData{
			ID:               "inc-123",
			Title:            "Database connectivity issues",
			Severity:         "critical",
			Status:           "open",
			Summary:          "Connection pool exhausted on the primary.",
			DetectedBy:       detectedBy,
			DetectedAt:       now,
			AutoDetected:     true,
			AffectedServices: []string{"api-gateway", "billing"},
			AffectedRegions:  []string{"eu-west-1"},
			CreatedAt:        now,
		},
		IncidentURL: "https://incidents.example.com/incidents/inc-123",
		GeneratedAt: now,
	}

	subject, body, err := r.Render(domain.ChannelTypeEmail, payload)
	require.NoError(t, err)

	assert.Equal(t, "[Incident (Critical)] Database connectivity issues", subject)
	assert.Contains(t, body, "Severity: Critical")
	assert.Contains(t, body, "by alertmanager")
	assert.Contains(t, body, "(auto-detected)")
	assert.Contains(t, body, "Connection pool exhausted")
	assert.Contains(t, body, "Affected services: api-gateway, billing")
	assert.Contains(t, body, "Affected regions: eu-west-1")
	assert.Contains(t, body, "https://incidents.example.com/incidents/inc-123")
}

func TestRenderer_RenderResolved_Email(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	now := time.Now()
	payload := NotificationPayload{
		MessageType: MessageTypeResolved,
		Incident: IncidentData{
			ID:       "inc-123",
			Title:    "Database connectivity issues",
			Severity: "critical",
			Status:   "resolved",
		},
		Resolution: &ResolutionData{
			ResolvedAt: now,
			Duration:   2*time.Hour + 30*time.Minute,
		},
		IncidentURL: "https://incidents.example.com/incidents/inc-123",
		GeneratedAt: now,
	}

	subject, body, err := r.Render(domain.ChannelTypeEmail, payload)
	require.NoError(t, err)

	assert.Equal(t, "[Resolved] Database connectivity issues", subject)
	assert.Contains(t, body, "Resolved:")
	assert.Contains(t, body, "Duration: 2h 30m")
}

func TestRenderer_WebhookFormat(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	now := time.Now()
	payload := NotificationPayload{
		MessageType: MessageTypeCreated,
		Incident: IncidentData{
			ID:         "inc-123",
			Title:      "API outage",
			Severity:   "high",
			Status:     "open",
			DetectedAt: now,
		},
		IncidentURL: "https://incidents.example.com/incidents/inc-123",
		GeneratedAt: now,
	}

	_, body, err := r.Render(domain.ChannelTypeWebhook, payload)
	require.NoError(t, err)

	// Webhook payloads use markdown
	assert.Contains(t, body, "**API outage**")
	assert.Contains(t, body, "New high incident")
	assert.Contains(t, body, "[View incident](https://incidents.example.com/incidents/inc-123)")
}

func TestRenderer_UnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	payload := NotificationPayload{
		MessageType: "unknown",
	}

	_, _, err = r.Render(domain.ChannelTypeEmail, payload)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "template not found")
}

func TestRenderer_EmptyOptionalFields(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	payload := NotificationPayload{
		MessageType: MessageTypeCreated,
		Incident: IncidentData{
			ID:         "inc-123",
			Title:      "Test incident",
			Severity:   "low",
			Status:     "open",
			DetectedAt: time.Now(),
			// No summary, no services, no regions
		},
		GeneratedAt: time.Now(),
	}

	_, body, err := r.Render(domain.ChannelTypeEmail, payload)
	require.NoError(t, err)

	assert.NotContains(t, body, "Affected services:")
	assert.NotContains(t, body, "Affected regions:")
	assert.NotContains(t, body, "Details:")
	assert.Contains(t, body, "Title: Test incident")
}

func TestRenderer_AllChannelTypes(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	payload := NotificationPayload{
		MessageType: MessageTypeCreated,
		Incident: IncidentData{
			ID:         "inc-123",
			Title:      "Test",
			Severity:   "medium",
			Status:     "open",
			DetectedAt: time.Now(),
		},
		IncidentURL: "https://example.com",
		GeneratedAt: time.Now(),
	}

	channels := []domain.ChannelType{
		domain.ChannelTypeEmail,
		domain.ChannelTypeWebhook,
	}

	for _, ch := range channels {
		t.Run(string(ch), func(t *testing.T) {
			subject, body, err := r.Render(ch, payload)
			require.NoError(t, err)
			assert.NotEmpty(t, subject)
			assert.NotEmpty(t, body)
			assert.Contains(t, body, "Test")
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{90 * time.Minute, "1h 30m"},
		{2 * time.Hour, "2h"},
		{2*time.Hour + 15*time.Minute, "2h 15m"},
		{24 * time.Hour, "24h"},
		{25*time.Hour + 30*time.Minute, "25h 30m"},
	}

	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			result := formatDuration(tc.duration)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestFormatTime(t *testing.T) {
	tm := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, "Mar 15, 2024 14:30 UTC", formatTime(tm))

	// zero time
	assert.Equal(t, "", formatTime(time.Time{}))
}

func TestSeverityEmoji(t *testing.T) {
	assert.Equal(t, "🔴", severityEmoji("critical"))
	assert.Equal(t, "🟠", severityEmoji("high"))
	assert.Equal(t, "🟡", severityEmoji("medium"))
	assert.Equal(t, "🟢", severityEmoji("low"))
	assert.Equal(t, "🔵", severityEmoji("informational"))
	assert.Equal(t, "⚪", severityEmoji("unknown"))
}

func TestStatusEmoji(t *testing.T) {
	assert.Equal(t, "🔍", statusEmoji("open"))
	assert.Equal(t, "🔧", statusEmoji("doing"))
	assert.Equal(t, "✅", statusEmoji("resolved"))
	assert.Equal(t, "📋", statusEmoji("unknown"))
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Critical", titleCase("critical"))
	assert.Equal(t, "In Review", titleCase("in review"))
	assert.Equal(t, "High", titleCase("HIGH"))
}
