package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
)

// WorkerConfig contains worker configuration. The retry limit lives on each
// queue item, not here.
type WorkerConfig struct {
	BatchSize         int
	PollInterval      time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	NumWorkers        int
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:         100,
		PollInterval:      5 * time.Second,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
		NumWorkers:        5,
	}
}

// Worker drains the notification queue, rendering and dispatching each item.
type Worker struct {
	config     WorkerConfig
	repo       Repository
	dispatcher *Dispatcher
	renderer   *Renderer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a new notification worker.
func NewWorker(config WorkerConfig, repo Repository, dispatcher *Dispatcher, renderer *Renderer) *Worker {
	return &Worker{
		config:     config,
		repo:       repo,
		dispatcher: dispatcher,
		renderer:   renderer,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting notification worker",
		"workers", w.config.NumWorkers,
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop signals all workers and waits for them to drain.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("notification worker stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processBatch(ctx, workerID)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context, workerID int) {
	items, err := w.repo.FetchPendingNotifications(ctx, w.config.BatchSize)
	if err != nil {
		slog.Error("failed to fetch pending notifications", "worker", workerID, "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	slog.Debug("processing notifications", "worker", workerID, "count", len(items))
	recordQueueProcessed(len(items))

	for _, item := range items {
		w.processItem(ctx, item)
	}
}

func (w *Worker) processItem(ctx context.Context, item *QueueItem) {
	start := time.Now()

	channel, err := w.repo.GetChannelByID(ctx, item.ChannelID)
	if err != nil {
		slog.Error("channel not found", "channel_id", item.ChannelID, "error", err)
		w.fail(ctx, item, "unknown", "failed", err)
		return
	}

	// Channels disabled after enqueueing are dropped, not retried.
	if !channel.IsEnabled {
		slog.Debug("skipping disabled channel", "channel_id", item.ChannelID)
		w.fail(ctx, item, channel.Type, "skipped_disabled", fmt.Errorf("channel disabled"))
		return
	}

	subject, body, err := w.renderer.Render(channel.Type, item.Payload)
	if err != nil {
		slog.Error("failed to render", "item_id", item.ID, "error", err)
		w.fail(ctx, item, channel.Type, "failed", err)
		return
	}

	msg := Notification{To: channel.Target, Subject: subject, Body: body}
	if err := w.dispatcher.SendToChannel(ctx, channel.Type, msg); err != nil {
		w.handleSendError(ctx, item, channel.Type, err)
		return
	}

	if err := w.repo.MarkAsSent(ctx, item.ID); err != nil {
		slog.Error("failed to mark as sent", "item_id", item.ID, "error", err)
	}

	took := time.Since(start)
	recordNotificationSent(string(channel.Type), "success")
	recordNotificationDuration(string(channel.Type), took)
	slog.Debug("notification sent", "item_id", item.ID, "channel_type", channel.Type, "duration", took)
}

// fail terminates a queue item without retry.
func (w *Worker) fail(ctx context.Context, item *QueueItem, channelType domain.ChannelType, outcome string, cause error) {
	if err := w.repo.MarkAsFailed(ctx, item.ID, cause); err != nil {
		slog.Error("failed to mark as failed", "item_id", item.ID, "error", err)
	}
	recordNotificationSent(string(channelType), outcome)
}

func (w *Worker) handleSendError(ctx context.Context, item *QueueItem, channelType domain.ChannelType, err error) {
	attempt := item.Attempts + 1
	slog.Warn("send failed",
		"item_id", item.ID,
		"attempt", attempt,
		"max_attempts", item.MaxAttempts,
		"error", err,
	)

	if !isRetryable(err) {
		w.fail(ctx, item, channelType, "failed", err)
		return
	}

	if attempt >= item.MaxAttempts {
		w.fail(ctx, item, channelType, "failed", fmt.Errorf("max attempts exceeded: %w", err))
		return
	}

	nextAttempt := w.calculateNextAttempt(attempt)
	if markErr := w.repo.MarkForRetry(ctx, item.ID, err, nextAttempt); markErr != nil {
		slog.Error("failed to mark for retry", "item_id", item.ID, "error", markErr)
	}
	recordNotificationSent(string(channelType), "retry")
	slog.Info("notification scheduled for retry", "item_id", item.ID, "next_attempt", nextAttempt)
}

func (w *Worker) calculateNextAttempt(attempt int) time.Time {
	backoff := float64(w.config.InitialBackoff) * math.Pow(w.config.BackoffMultiplier, float64(attempt-1))
	backoff = math.Min(backoff, float64(w.config.MaxBackoff))
	return time.Now().Add(time.Duration(backoff))
}
