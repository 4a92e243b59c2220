package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	secretFetchFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propsync_secret_fetch_failed_total",
			Help: "Total number of failed secret fetches",
		},
		[]string{"secret"},
	)

	secretFetchCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "propsync_secret_fetch_count_total",
			Help: "Total number of secret fetches",
		},
	)

	secretFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propsync_secret_fetch_duration_seconds",
			Help:    "Secret fetch duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1, 1.5, 2, 5, 10, 30},
		},
		[]string{"secret"},
	)
)

func SecretFetchFailed(secret string) {
	secretFetchCount.Inc()
	secretFetchFailed.WithLabelValues(secret).Inc()
}

func SecretFetchSucceeded(secret string, startTime time.Time) {
	secretFetchCount.Inc()
	secretFetchDuration.WithLabelValues(secret).Observe(time.Since(startTime).Seconds())
}
