package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reviewq",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reviewq",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5},
	}, []string{"method", "path"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "reviewq",
		Name:      "queue_depth",
		Help:      "Number of ready questions per queue.",
	}, []string{"queue"})

	ActiveFetches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reviewq",
		Name:      "active_fetches",
		Help:      "Number of in-flight question fetches.",
	})

	QuestionFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reviewq",
		Name:      "question_fetches_total",
		Help:      "Question fetches by result (ok, duplicate, stale, empty, error).",
	}, []string{"result"})

	QuestionFetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reviewq",
		Name:      "question_fetch_duration_seconds",
		Help:      "Duration of a single question fetch including video readiness.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	})

	VideoDownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reviewq",
		Name:      "video_downloads_total",
		Help:      "Video downloads by result (cached, failed).",
	}, []string{"result"})

	VideoDownloadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reviewq",
		Name:      "video_download_duration_seconds",
		Help:      "Duration of video downloads in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	VideoCacheSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reviewq",
		Name:      "video_cache_size_bytes",
		Help:      "Current total size of the video cache in bytes.",
	})

	VideoCacheEvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reviewq",
		Name:      "video_cache_evictions_total",
		Help:      "Video cache evictions by reason (size, age, clear).",
	}, []string{"reason"})

	VideoCacheCleanupErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reviewq",
		Name:      "video_cache_cleanup_errors_total",
		Help:      "Total number of video cache file removal failures.",
	})

	PlayersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reviewq",
		Name:      "players_active",
		Help:      "Number of prepared player handles.",
	})

	SearchGroupsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reviewq",
		Name:      "search_groups_active",
		Help:      "Number of priority inserts still streaming.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QueueDepth,
		ActiveFetches,
		QuestionFetchesTotal,
		QuestionFetchDuration,
		VideoDownloadsTotal,
		VideoDownloadDuration,
		VideoCacheSizeBytes,
		VideoCacheEvictionsTotal,
		VideoCacheCleanupErrors,
		PlayersActive,
		SearchGroupsActive,
	)
}
