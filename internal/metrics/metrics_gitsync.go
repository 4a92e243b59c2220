package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gitSyncFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propsync_git_sync_failed_total",
			Help: "Total number of failed Git sync operations",
		},
		[]string{"sync", "repo"},
	)

	gitSyncCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "propsync_git_sync_count_total",
			Help: "Total number of Git sync operations",
		},
	)

	gitSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propsync_git_sync_duration_seconds",
			Help:    "Git sync duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1, 1.5, 2, 5, 10, 30, 60},
		},
		[]string{"sync", "repo"},
	)

	gitPushFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propsync_git_push_failed_total",
			Help: "Total number of failed Git publish operations",
		},
		[]string{"sync", "repo"},
	)

	gitPushCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propsync_git_push_count_total",
			Help: "Total number of Git publish operations, including no-op commits",
		},
		[]string{"sync", "repo"},
	)

	gitPushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propsync_git_push_duration_seconds",
			Help:    "Git publish duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1, 1.5, 2, 5, 10, 30, 60},
		},
		[]string{"sync", "repo"},
	)
)

func GitSyncFailed(sync, repo string) {
	gitSyncCount.Inc()
	gitSyncFailed.WithLabelValues(sync, repo).Inc()
}

func GitSyncSucceeded(sync, repo string, startTime time.Time) {
	gitSyncCount.Inc()
	gitSyncDuration.WithLabelValues(sync, repo).Observe(time.Since(startTime).Seconds())
}

func GitPushFailed(sync, repo string) {
	gitPushCount.WithLabelValues(sync, repo).Inc()
	gitPushFailed.WithLabelValues(sync, repo).Inc()
}

func GitPushSucceeded(sync, repo string, startTime time.Time) {
	gitPushCount.WithLabelValues(sync, repo).Inc()
	gitPushDuration.WithLabelValues(sync, repo).Observe(time.Since(startTime).Seconds())
}
