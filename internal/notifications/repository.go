// Package notifications provides incident notification delivery through a
// durable queue and configurable channels.
package notifications

import (
	"context"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
)

// Repository defines the interface for notifications data access.
type Repository interface {
	// Channel CRUD
	CreateChannel(ctx context.Context, channel *domain.NotificationChannel) error
	GetChannelByID(ctx context.Context, id string) (*domain.NotificationChannel, error)
	ListChannels(ctx context.Context) ([]domain.NotificationChannel, error)
	ListEnabledChannels(ctx context.Context) ([]domain.NotificationChannel, error)
	UpdateChannel(ctx context.Context, channel *domain.NotificationChannel) error
	DeleteChannel(ctx context.Context, id string) error

	// Queue operations
	Enqueue(ctx context.Context, item *QueueItem) error
	FetchPendingNotifications(ctx context.Context, limit int) ([]*QueueItem, error)
	MarkAsSent(ctx context.Context, itemID string) error
	MarkForRetry(ctx context.Context, itemID string, sendErr error, nextAttemptAt time.Time) error
	MarkAsFailed(ctx context.Context, itemID string, sendErr error) error
	GetQueueStats(ctx context.Context) (*QueueStats, error)
}
