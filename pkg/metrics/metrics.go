package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	// Publisher metrics
	ExecutionPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_publish_total",
			Help: "Total number of executions written by the publisher",
		},
		[]string{"operation", "state"},
	)

	ExecutionPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_publish_errors_total",
			Help: "Total number of failed publisher operations",
		},
		[]string{"operation", "kind"},
	)

	ExecutionPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "execution_publish_duration_seconds",
			Help:    "Publisher operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation"},
	)

	ArtifactsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifacts_published_total",
			Help: "Total number of artifacts linked to executions",
		},
		[]string{"event_type"},
	)

	SinkRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_sink_records_total",
			Help: "Total number of component execution records by delivery outcome",
		},
		[]string{"status"},
	)

	// Database metrics
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	DatabaseSlowQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "database_slow_queries_total",
			Help: "Total number of queries slower than the slow query threshold",
		},
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events published",
		},
		[]string{"event_type", "status"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)
)
