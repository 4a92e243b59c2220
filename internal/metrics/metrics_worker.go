package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncRunFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propsync_sync_run_failed",
			Help: "Number of times a sync job has failed",
		},
		[]string{"sync", "error_type"},
	)

	syncRunCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "propsync_sync_run_count",
			Help: "Total number of sync job runs",
		},
	)

	syncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propsync_sync_run_duration_seconds",
			Help:    "Sync job run duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 1.5, 2, 5, 10, 30, 60},
		},
		[]string{"sync"},
	)
)

func SyncRunFailed(sync, errorType string) {
	syncRunCount.Inc()
	syncRunFailed.WithLabelValues(sync, errorType).Inc()
}

func SyncRunSucceeded(sync string, startTime time.Time) {
	syncRunCount.Inc()
	syncRunDuration.WithLabelValues(sync).Observe(time.Since(startTime).Seconds())
}
