// Package webhook provides notification sending via generic incoming webhooks.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/avolkov/incident-bridge/internal/notifications"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "IncidentBridge"
)

// Config holds webhook sender configuration.
// The webhook URL is stored in notification_channel.target, so global
// configuration is minimal.
type Config struct {
	DefaultUsername string        // username for display, default "IncidentBridge"
	DefaultIconURL  string        // icon URL (optional)
	Timeout         time.Duration // request timeout
}

// Sender implements notification sending via incoming webhooks
// (Mattermost/Slack compatible payload).
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new webhook sender.
func NewSender(config Config) *Sender {
	if config.DefaultUsername == "" {
		config.DefaultUsername = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeWebhook
}

// Send posts a notification to the webhook URL in notification.To.
func (s *Sender) Send(ctx context.Context, notification notifications.Notification) error {
	webhookURL := notification.To
	if webhookURL == "" {
		return notifications.NewNonRetryableError(fmt.Errorf("webhook URL is empty"))
	}

	payload := webhookPayload{
		Username: s.config.DefaultUsername,
	}

	if s.config.DefaultIconURL != "" {
		payload.IconURL = s.config.DefaultIconURL
	}

	// If subject is provided, add as markdown heading
	if notification.Subject != "" {
		payload.Text = fmt.Sprintf("### %s\n\n%s", notification.Subject, notification.Body)
	} else {
		payload.Text = notification.Body
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return notifications.NewNonRetryableError(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return notifications.NewNonRetryableError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notifications.NewRetryableError(fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, webhookURL)
}

type webhookPayload struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
}

func (s *Sender) handleResponse(resp *http.Response, webhookURL string) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		slog.Debug("webhook message sent", "webhook", maskWebhookURL(webhookURL))
		return nil

	case http.StatusBadRequest:
		return notifications.NewNonRetryableError(
			fmt.Errorf("webhook error %d: bad request: %s", resp.StatusCode, string(body)))

	case http.StatusUnauthorized, http.StatusForbidden:
		return notifications.NewNonRetryableError(
			fmt.Errorf("webhook error %d: invalid or expired webhook", resp.StatusCode))

	case http.StatusNotFound:
		return notifications.NewNonRetryableError(
			fmt.Errorf("webhook error %d: webhook not found", resp.StatusCode))

	case http.StatusTooManyRequests:
		return notifications.NewRetryableError(
			fmt.Errorf("webhook error %d: rate limited", resp.StatusCode))

	default:
		if resp.StatusCode >= 500 {
			return notifications.NewRetryableError(
				fmt.Errorf("webhook error %d: server error: %s", resp.StatusCode, string(body)))
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// maskWebhookURL hides part of the URL for logging.
func maskWebhookURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}
