package domain

import "time"

// ChannelType represents the transport of a notification channel.
type ChannelType string

// Channel types.
const (
	ChannelTypeEmail   ChannelType = "email"
	ChannelTypeWebhook ChannelType = "webhook"
)

// IsValid checks if the channel type is valid.
func (t ChannelType) IsValid() bool {
	switch t {
	case ChannelTypeEmail, ChannelTypeWebhook:
		return true
	}
	return false
}

// NotificationChannel is a configured delivery target for incident
// notifications. Target is an email address or a webhook URL depending on
// the channel type.
type NotificationChannel struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      ChannelType `json:"type"`
	Target    string      `json:"target"`
	IsEnabled bool        `json:"is_enabled"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
