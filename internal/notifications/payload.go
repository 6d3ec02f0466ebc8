package notifications

import (
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
)

// MessageType defines the type of notification.
type MessageType string

// Message types.
const (
	MessageTypeCreated  MessageType = "created"
	MessageTypeResolved MessageType = "resolved"
)

// NotificationPayload contains data for rendering a notification.
type NotificationPayload struct {
	MessageType MessageType     `json:"message_type"`
	Incident    IncidentData    `json:"incident"`
	Resolution  *ResolutionData `json:"resolution,omitempty"`
	IncidentURL string          `json:"incident_url,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// IncidentData contains incident information for notification.
type IncidentData struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Severity         string     `json:"severity"`
	Status           string     `json:"status"`
	Summary          string     `json:"summary,omitempty"`
	DetectedBy       string     `json:"detected_by,omitempty"`
	DetectedAt       time.Time  `json:"detected_at"`
	AutoDetected     bool       `json:"auto_detected"`
	AffectedServices []string   `json:"affected_services,omitempty"`
	AffectedRegions  []string   `json:"affected_regions,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

// ResolutionData contains resolution information.
type ResolutionData struct {
	ResolvedAt time.Time     `json:"resolved_at"`
	Duration   time.Duration `json:"duration"`
}

// NewIncidentData constructs IncidentData from a domain incident.
func NewIncidentData(incident *domain.Incident) IncidentData {
	data := IncidentData{
		ID:               incident.ID,
		Title:            incident.Title,
		Severity:         string(incident.Severity),
		Status:           string(incident.Status),
		Summary:          incident.Summary,
		DetectedAt:       incident.DetectedAt,
		AutoDetected:     incident.AutoDetected,
		AffectedServices: incident.AffectedServices,
		AffectedRegions:  incident.AffectedRegions,
		CreatedAt:        incident.CreatedAt,
		ResolvedAt:       incident.ResolvedAt,
	}
	if incident.DetectedByName != nil {
		data.DetectedBy = *incident.DetectedByName
	}
	return data
}

// NewCreatedPayload creates a payload for a new incident notification.
func NewCreatedPayload(incident IncidentData, incidentURL string) NotificationPayload {
	return NotificationPayload{
		MessageType: MessageTypeCreated,
		Incident:    incident,
		IncidentURL: incidentURL,
		GeneratedAt: time.Now(),
	}
}

// NewResolvedPayload creates a payload for an incident resolution
// notification.
func NewResolvedPayload(incident IncidentData, resolution ResolutionData, incidentURL string) NotificationPayload {
	return NotificationPayload{
		MessageType: MessageTypeResolved,
		Incident:    incident,
		Resolution:  &resolution,
		IncidentURL: incidentURL,
		GeneratedAt: time.Now(),
	}
}
