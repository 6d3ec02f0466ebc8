package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// RecordDBPoolMetrics snapshots pool statistics into DBPoolConnections.
// Callers are expected to invoke it on a timer.
func RecordDBPoolMetrics(pool *pgxpool.Pool) {
	stats := pool.Stat()

	for state, v := range map[string]int32{
		"in_use": stats.AcquiredConns(),
		"idle":   stats.IdleConns(),
		"total":  stats.TotalConns(),
		"max":    stats.MaxConns(),
	} {
		DBPoolConnections.WithLabelValues(state).Set(float64(v))
	}
}
