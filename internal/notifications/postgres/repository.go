// Package postgres provides PostgreSQL implementation of notifications repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/avolkov/incident-bridge/internal/notifications"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const channelColumns = `id, name, type, target, is_enabled, created_at, updated_at`

func scanChannel(row pgx.Row) (*domain.NotificationChannel, error) {
	var ch domain.NotificationChannel
	err := row.Scan(
		&ch.ID,
		&ch.Name,
		&ch.Type,
		&ch.Target,
		&ch.IsEnabled,
		&ch.CreatedAt,
		&ch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// CreateChannel creates a new notification channel.
func (r *Repository) CreateChannel(ctx context.Context, channel *domain.NotificationChannel) error {
	query := `
		INSERT INTO notification_channels (name, type, target, is_enabled)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		channel.Name,
		channel.Type,
		channel.Target,
		channel.IsEnabled,
	).Scan(&channel.ID, &channel.CreatedAt, &channel.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	return nil
}

// GetChannelByID retrieves a channel by ID.
func (r *Repository) GetChannelByID(ctx context.Context, id string) (*domain.NotificationChannel, error) {
	query := `SELECT ` + channelColumns + ` FROM notification_channels WHERE id = $1`

	channel, err := scanChannel(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrChannelNotFound
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}

	return channel, nil
}

// ListChannels retrieves all channels ordered by name.
func (r *Repository) ListChannels(ctx context.Context) ([]domain.NotificationChannel, error) {
	query := `SELECT ` + channelColumns + ` FROM notification_channels ORDER BY name`
	return r.listChannels(ctx, query)
}

// ListEnabledChannels retrieves enabled channels.
func (r *Repository) ListEnabledChannels(ctx context.Context) ([]domain.NotificationChannel, error) {
	query := `SELECT ` + channelColumns + ` FROM notification_channels WHERE is_enabled ORDER BY name`
	return r.listChannels(ctx, query)
}

func (r *Repository) listChannels(ctx context.Context, query string) ([]domain.NotificationChannel, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	channels := []domain.NotificationChannel{}
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, *channel)
	}

	return channels, rows.Err()
}

// UpdateChannel updates a channel.
func (r *Repository) UpdateChannel(ctx context.Context, channel *domain.NotificationChannel) error {
	query := `
		UPDATE notification_channels
		SET name = $2, type = $3, target = $4, is_enabled = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		channel.ID,
		channel.Name,
		channel.Type,
		channel.Target,
		channel.IsEnabled,
	).Scan(&channel.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notifications.ErrChannelNotFound
		}
		return fmt.Errorf("update channel: %w", err)
	}

	return nil
}

// DeleteChannel removes a channel and its queued notifications.
func (r *Repository) DeleteChannel(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM notification_channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notifications.ErrChannelNotFound
	}
	return nil
}

// Enqueue inserts a queue item. The unique constraint over incident,
// channel and message type makes repeated enqueues a no-op.
func (r *Repository) Enqueue(ctx context.Context, item *notifications.QueueItem) error {
	query := `
		INSERT INTO notification_queue
			(incident_id, channel_id, message_type, payload, status, max_attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (incident_id, channel_id, message_type) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		item.IncidentID,
		item.ChannelID,
		item.MessageType,
		item.Payload,
		item.Status,
		item.MaxAttempts,
		item.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}

	return nil
}

// FetchPendingNotifications claims up to limit due queue items. Claimed
// rows move to processing so concurrent workers never pick the same item.
func (r *Repository) FetchPendingNotifications(ctx context.Context, limit int) ([]*notifications.QueueItem, error) {
	query := `
		UPDATE notification_queue
		SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, incident_id, channel_id, message_type, payload, status,
			attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at, sent_at`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending notifications: %w", err)
	}
	defer rows.Close()

	items := []*notifications.QueueItem{}
	for rows.Next() {
		var item notifications.QueueItem
		err := rows.Scan(
			&item.ID,
			&item.IncidentID,
			&item.ChannelID,
			&item.MessageType,
			&item.Payload,
			&item.Status,
			&item.Attempts,
			&item.MaxAttempts,
			&item.NextAttemptAt,
			&item.LastError,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, &item)
	}

	return items, rows.Err()
}

// MarkAsSent marks a queue item as sent.
func (r *Repository) MarkAsSent(ctx context.Context, itemID string) error {
	query := `
		UPDATE notification_queue
		SET status = 'sent', attempts = attempts + 1, sent_at = NOW(), updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, itemID); err != nil {
		return fmt.Errorf("mark as sent: %w", err)
	}
	return nil
}

// MarkForRetry returns a queue item to pending with the next attempt time.
func (r *Repository) MarkForRetry(ctx context.Context, itemID string, sendErr error, nextAttemptAt time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = 'pending', attempts = attempts + 1, last_error = $2,
		    next_attempt_at = $3, updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, itemID, sendErr.Error(), nextAttemptAt); err != nil {
		return fmt.Errorf("mark for retry: %w", err)
	}
	return nil
}

// MarkAsFailed marks a queue item as permanently failed.
func (r *Repository) MarkAsFailed(ctx context.Context, itemID string, sendErr error) error {
	query := `
		UPDATE notification_queue
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, itemID, sendErr.Error()); err != nil {
		return fmt.Errorf("mark as failed: %w", err)
	}
	return nil
}

// GetQueueStats returns queue size counters by status.
func (r *Repository) GetQueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM notification_queue`

	var stats notifications.QueueStats
	err := r.db.QueryRow(ctx, query).Scan(&stats.Pending, &stats.Processing, &stats.Sent, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}

	return &stats, nil
}
