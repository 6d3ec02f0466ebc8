package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSender implements Sender for testing.
type mockSender struct {
	channelType domain.ChannelType
	err         error
	sent        []Notification
}

func (m *mockSender) Type() domain.ChannelType {
	return m.channelType
}

func (m *mockSender) Send(_ context.Context, notification Notification) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, notification)
	return nil
}

func queueItem(channelID string) *QueueItem {
	return &QueueItem{
		ID:          "q-1",
		IncidentID:  "inc-1",
		ChannelID:   channelID,
		MessageType: MessageTypeCreated,
		Payload: NewCreatedPayload(IncidentData{
			ID:         "inc-1",
			Title:      "API latency spike",
			Severity:   "high",
			Status:     "open",
			DetectedAt: time.Now(),
		}, ""),
		Status:      QueueStatusPending,
		Attempts:    0,
		MaxAttempts: 3,
	}
}

func setupWorker(t *testing.T, repo *mockRepository, sender *mockSender) *Worker {
	t.Helper()
	renderer, err := NewRenderer()
	require.NoError(t, err)
	return NewWorker(DefaultWorkerConfig(), repo, NewDispatcher(sender), renderer)
}

func TestWorker_ProcessItem_Success(t *testing.T) {
	repo := newMockRepository()
	repo.channels = []domain.NotificationChannel{
		{ID: "ch-1", Type: domain.ChannelTypeEmail, Target: "ops@example.com", IsEnabled: true},
	}
	sender := &mockSender{channelType: domain.ChannelTypeEmail}
	worker := setupWorker(t, repo, sender)

	worker.processItem(context.Background(), queueItem("ch-1"))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ops@example.com", sender.sent[0].To)
	assert.Equal(t, "[Incident (High)] API latency spike", sender.sent[0].Subject)
	assert.Equal(t, []string{"q-1"}, repo.sentIDs)
	assert.Empty(t, repo.failedIDs)
}

func TestWorker_ProcessItem_RetryableError(t *testing.T) {
	repo := newMockRepository()
	repo.channels = []domain.NotificationChannel{
		{ID: "ch-1", Type: domain.ChannelTypeEmail, Target: "ops@example.com", IsEnabled: true},
	}
	sender := &mockSender{
		channelType: domain.ChannelTypeEmail,
		err:         NewRetryableError(errors.New("smtp timeout")),
	}
	worker := setupWorker(t, repo, sender)

	before := time.Now()
	worker.processItem(context.Background(), queueItem("ch-1"))

	require.Contains(t, repo.retriedIDs, "q-1")
	assert.True(t, repo.retriedIDs["q-1"].After(before))
	assert.Empty(t, repo.sentIDs)
	assert.Empty(t, repo.failedIDs)
}

func TestWorker_ProcessItem_NonRetryableError(t *testing.T) {
	repo := newMockRepository()
	repo.channels = []domain.NotificationChannel{
		{ID: "ch-1", Type: domain.ChannelTypeEmail, Target: "bad-address", IsEnabled: true},
	}
	sender := &mockSender{
		channelType: domain.ChannelTypeEmail,
		err:         NewNonRetryableError(errors.New("invalid recipient")),
	}
	worker := setupWorker(t, repo, sender)

	worker.processItem(context.Background(), queueItem("ch-1"))

	assert.Contains(t, repo.failedIDs, "q-1")
	assert.Empty(t, repo.retriedIDs)
}

func TestWorker_ProcessItem_MaxAttemptsExceeded(t *testing.T) {
	repo := newMockRepository()
	repo.channels = []domain.NotificationChannel{
		{ID: "ch-1", Type: domain.ChannelTypeEmail, Target: "ops@example.com", IsEnabled: true},
	}
	sender := &mockSender{
		channelType: domain.ChannelTypeEmail,
		err:         NewRetryableError(errors.New("smtp timeout")),
	}
	worker := setupWorker(t, repo, sender)

	item := queueItem("ch-1")
	item.Attempts = 2 // next attempt would be the third and last

	worker.processItem(context.Background(), item)

	require.Contains(t, repo.failedIDs, "q-1")
	assert.Contains(t, repo.failedIDs["q-1"], "max attempts exceeded")
	assert.Empty(t, repo.retriedIDs)
}

func TestWorker_ProcessItem_DisabledChannelDropped(t *testing.T) {
	repo := newMockRepository()
	repo.channels = []domain.NotificationChannel{
		{ID: "ch-1", Type: domain.ChannelTypeEmail, Target: "ops@example.com", IsEnabled: false},
	}
	sender := &mockSender{channelType: domain.ChannelTypeEmail}
	worker := setupWorker(t, repo, sender)

	worker.processItem(context.Background(), queueItem("ch-1"))

	assert.Empty(t, sender.sent)
	assert.Contains(t, repo.failedIDs, "q-1")
	assert.Contains(t, repo.failedIDs["q-1"], "channel disabled")
}

func TestWorker_ProcessItem_UnknownChannel(t *testing.T) {
	repo := newMockRepository()
	sender := &mockSender{channelType: domain.ChannelTypeEmail}
	worker := setupWorker(t, repo, sender)

	worker.processItem(context.Background(), queueItem("ch-missing"))

	assert.Empty(t, sender.sent)
	assert.Contains(t, repo.failedIDs, "q-1")
}

func TestWorker_CalculateNextAttempt(t *testing.T) {
	config := WorkerConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
	}

	worker := &Worker{config: config}

	tests := []struct {
		name            string
		attempt         int
		expectedBackoff time.Duration
	}{
		{"first retry", 1, 1 * time.Second},
		{"second retry", 2, 2 * time.Second},
		{"third retry", 3, 4 * time.Second},
		{"fourth retry", 4, 8 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now()
			result := worker.calculateNextAttempt(tt.attempt)
			after := time.Now()

			expectedMin := before.Add(tt.expectedBackoff)
			expectedMax := after.Add(tt.expectedBackoff)

			assert.True(t, result.After(expectedMin) || result.Equal(expectedMin),
				"result %v should be >= %v", result, expectedMin)
			assert.True(t, result.Before(expectedMax) || result.Equal(expectedMax),
				"result %v should be <= %v", result, expectedMax)
		})
	}
}

func TestWorker_CalculateNextAttempt_MaxBackoff(t *testing.T) {
	config := WorkerConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}

	worker := &Worker{config: config}

	before := time.Now()
	result := worker.calculateNextAttempt(100)

	expectedMin := before.Add(config.MaxBackoff)
	assert.True(t, result.After(expectedMin) || result.Equal(expectedMin),
		"result should be at least %v after now", config.MaxBackoff)

	expectedMax := time.Now().Add(config.MaxBackoff + time.Second)
	assert.True(t, result.Before(expectedMax),
		"result should not exceed MaxBackoff")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable error",
			err:      NewRetryableError(errors.New("temporary error")),
			expected: true,
		},
		{
			name:     "non-retryable error",
			err:      NewNonRetryableError(errors.New("permanent error")),
			expected: false,
		},
		{
			name:     "generic error defaults to retryable",
			err:      errors.New("unknown error"),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryable(tt.err))
		})
	}
}

func TestRetryableError(t *testing.T) {
	originalErr := errors.New("original error")

	t.Run("retryable error", func(t *testing.T) {
		err := NewRetryableError(originalErr)

		assert.Equal(t, "original error", err.Error())
		assert.True(t, err.IsRetryable())
		assert.Equal(t, originalErr, errors.Unwrap(err))
	})

	t.Run("non-retryable error", func(t *testing.T) {
		err := NewNonRetryableError(originalErr)

		assert.Equal(t, "original error", err.Error())
		assert.False(t, err.IsRetryable())
		assert.Equal(t, originalErr, errors.Unwrap(err))
	})
}

func TestDefaultWorkerConfig(t *testing.T) {
	config := DefaultWorkerConfig()

	assert.Equal(t, 100, config.BatchSize)
	assert.Equal(t, 5*time.Second, config.PollInterval)
	assert.Equal(t, 1*time.Second, config.InitialBackoff)
	assert.Equal(t, 5*time.Minute, config.MaxBackoff)
	assert.Equal(t, 2.0, config.BackoffMultiplier)
	assert.Equal(t, 5, config.NumWorkers)
}
