package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
)

// Notifier enqueues incident notifications for every enabled channel. The
// queue insert is idempotent per incident, channel and message type, so a
// lifecycle hook firing twice produces one notification.
type Notifier struct {
	repo        Repository
	baseURL     string
	maxAttempts int
}

// NewNotifier creates a new Notifier.
func NewNotifier(repo Repository, baseURL string, maxAttempts int) *Notifier {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Notifier{
		repo:        repo,
		baseURL:     baseURL,
		maxAttempts: maxAttempts,
	}
}

// NotifyIncidentCreated enqueues incident-created notifications.
func (n *Notifier) NotifyIncidentCreated(ctx context.Context, incident *domain.Incident) error {
	payload := NewCreatedPayload(NewIncidentData(incident), n.buildIncidentURL(incident.ID))
	return n.enqueueForChannels(ctx, incident.ID, payload)
}

// NotifyIncidentResolved enqueues incident-resolved notifications.
func (n *Notifier) NotifyIncidentResolved(ctx context.Context, incident *domain.Incident) error {
	resolvedAt := time.Now()
	if incident.ResolvedAt != nil {
		resolvedAt = *incident.ResolvedAt
	}

	resolution := ResolutionData{
		ResolvedAt: resolvedAt,
		Duration:   resolvedAt.Sub(incident.DetectedAt),
	}

	payload := NewResolvedPayload(NewIncidentData(incident), resolution, n.buildIncidentURL(incident.ID))
	return n.enqueueForChannels(ctx, incident.ID, payload)
}

func (n *Notifier) enqueueForChannels(ctx context.Context, incidentID string, payload NotificationPayload) error {
	channels, err := n.repo.ListEnabledChannels(ctx)
	if err != nil {
		return fmt.Errorf("list enabled channels: %w", err)
	}

	if len(channels) == 0 {
		slog.Debug("no notification channels enabled", "incident_id", incidentID)
		return nil
	}

	for _, ch := range channels {
		item := &QueueItem{
			IncidentID:    incidentID,
			ChannelID:     ch.ID,
			MessageType:   payload.MessageType,
			Payload:       payload,
			Status:        QueueStatusPending,
			MaxAttempts:   n.maxAttempts,
			NextAttemptAt: time.Now(),
		}
		if err := n.repo.Enqueue(ctx, item); err != nil {
			slog.Error("failed to enqueue notification",
				"incident_id", incidentID,
				"channel_id", ch.ID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("incident notifications enqueued",
		"incident_id", incidentID,
		"message_type", payload.MessageType,
		"channels", len(channels),
	)
	return nil
}

// buildIncidentURL constructs the URL for an incident.
func (n *Notifier) buildIncidentURL(incidentID string) string {
	if n.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/incidents/%s", n.baseURL, incidentID)
}
