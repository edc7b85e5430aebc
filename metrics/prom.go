package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upldis_uploads_created_total",
		Help: "no. of uploads that stored new content",
	})
	UploadsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upldis_uploads_deduplicated_total",
		Help: "no. of uploads whose content was already stored",
	})
	UploadsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upldis_uploads_rejected_total",
			Help: "no. of uploads rejected by validation",
		},
		[]string{"reason"},
	)
	Retrievals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upldis_retrievals_total",
			Help: "no. of successful retrievals by serving tier",
		},
		[]string{"tier"},
	)
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upldis_cache_hits_total",
		Help: "no. of edge cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upldis_cache_misses_total",
		Help: "no. of edge cache misses",
	})
	CacheFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upldis_cache_failures_total",
			Help: "no. of edge cache operations that failed",
		},
		[]string{"operation"},
	)
	CachePurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upldis_cache_purged_total",
		Help: "no. of edge entries dropped by tag purges",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upldis_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upldis_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upldis_prune_cycles_total",
		Help: "no. of cleanup worker cycles",
	})
	WALCheckpoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upldis_wal_checkpoints_total",
			Help: "no. of sqlite WAL checkpoints by mode",
		},
		[]string{"mode"},
	)
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "upldis_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)
