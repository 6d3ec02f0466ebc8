package alerts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentbridge"

var (
	alertsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "processed_total",
			Help:      "Alerts processed by ingestion outcome",
		},
		[]string{"outcome"},
	)

	sourceFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "source_fetch_errors_total",
			Help:      "Failed fetches per alert source",
		},
		[]string{"source"},
	)

	ingestionCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "ingestion_cycle_duration_seconds",
			Help:      "Duration of a full alert ingestion cycle",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

// Ingestion outcomes.
const (
	outcomeCreated   = "created"
	outcomeDuplicate = "duplicate"
	outcomeFiltered  = "filtered"
	outcomeFailed    = "failed"
)

func recordOutcome(outcome string) {
	alertsProcessed.WithLabelValues(outcome).Inc()
}

func recordSourceError(source string) {
	sourceFetchErrors.WithLabelValues(source).Inc()
}
