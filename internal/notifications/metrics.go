package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentbridge"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_size",
			Help:      "Queue items by status",
		},
		[]string{"status"},
	)

	sendOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Delivery attempts by channel type and outcome",
		},
		[]string{"channel_type", "status"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time spent delivering a notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel_type"},
	)

	queueFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_fetched_total",
			Help:      "Queue items picked up by the worker",
		},
	)
)

func recordNotificationSent(channelType, outcome string) {
	sendOutcomes.WithLabelValues(channelType, outcome).Inc()
}

func recordNotificationDuration(channelType string, d time.Duration) {
	sendDuration.WithLabelValues(channelType).Observe(d.Seconds())
}

func recordQueueProcessed(count int) {
	queueFetched.Add(float64(count))
}

// RecordQueueStats publishes queue depth gauges, typically on a timer.
func RecordQueueStats(stats *QueueStats) {
	for status, n := range map[string]int{
		"pending":    stats.Pending,
		"processing": stats.Processing,
		"sent":       stats.Sent,
		"failed":     stats.Failed,
	} {
		queueSize.WithLabelValues(status).Set(float64(n))
	}
}
