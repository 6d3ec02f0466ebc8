package notifications

import "time"

// QueueStatus represents the status of a queue item.
type QueueStatus string

// Queue statuses.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
)

// QueueItem represents a notification in the queue. The combination of
// incident, channel and message type is unique, which makes enqueueing
// idempotent.
type QueueItem struct {
	ID            string
	IncidentID    string
	ChannelID     string
	MessageType   MessageType
	Payload       NotificationPayload
	Status        QueueStatus
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SentAt        *time.Time
}

// QueueStats holds queue size counters by status.
type QueueStats struct {
	Pending    int
	Processing int
	Sent       int
	Failed     int
}
