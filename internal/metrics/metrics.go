package metrics

import (
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// sessionIDRegex matches the five-segment opaque session identifier that
// appears in recording-link paths, so path labels stay low-cardinality.
var sessionIDRegex = regexp.MustCompile(`[^/-]+-[^/-]+-[^/-]+-[^/-]+-[0-9]+`)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
		[]string{"method"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path", "status"},
	)

	// Chunk upload metrics.
	ChunkUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunk_uploads_total",
			Help: "Total number of chunk upload attempts",
		},
		[]string{"status"},
	)

	ChunkUploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chunk_upload_bytes",
			Help:    "Size of uploaded chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	ChunkUploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chunk_upload_duration_seconds",
			Help:    "Duration of a single chunk upload attempt in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ChunkUploadRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chunk_upload_retries_total",
			Help: "Total number of chunk upload retry attempts",
		},
	)

	ChunkQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chunk_upload_queue_depth",
			Help: "Number of chunks buffered in the upload manager awaiting or in flight",
		},
	)

	// Session state machine metrics (C5/C8).
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_transitions_total",
			Help: "Total number of session status transitions",
		},
		[]string{"from", "to"},
	)

	SessionTransitionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_transition_conflicts_total",
			Help: "Total number of conditional transitions rejected due to a concurrent writer",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of sessions currently in a non-terminal status",
		},
	)

	SessionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_errors_total",
			Help: "Total number of sessions that ended in an error, by error code",
		},
		[]string{"code"},
	)

	SessionExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_expired_total",
			Help: "Total number of sessions reaped by the expiry sweeper",
		},
	)

	// Session watcher metrics.
	WatcherEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watcher_events_published_total",
			Help: "Total number of session change events published to watchers",
		},
	)

	WatcherSubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watcher_subscribers_active",
			Help: "Number of active session watcher subscriptions (SSE connections)",
		},
	)

	WatcherFallbackPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watcher_fallback_polls_total",
			Help: "Total number of times the watcher fell back to polling after a missed pub/sub notification",
		},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	StorageBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_bytes_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type"},
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Total number of jobs processed",
		},
		[]string{"type", "status"},
	)

	JobsProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobs_processing_duration_seconds",
			Help:    "Duration of job processing in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"type", "stage"},
	)

	JobsInQueue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_in_queue",
			Help: "Number of jobs currently in queue",
		},
		[]string{"queue"},
	)

	WorkerPoolActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pool_active_jobs",
			Help: "Number of jobs currently being processed by workers",
		},
	)

	WorkerPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pool_size",
			Help: "Size of the worker pool",
		},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application information",
		},
		[]string{"version", "environment", "service"},
	)

	AppUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_up",
			Help: "Application is up and running",
		},
	)
)

// NormalizePath collapses session identifiers embedded in a request path
// into a placeholder.
func NormalizePath(path string) string {
	return sessionIDRegex.ReplaceAllString(path, ":session")
}

func RecordChunkUpload(status string, sizeBytes int64, durationSeconds float64) {
	ChunkUploadsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		ChunkUploadBytes.Observe(float64(sizeBytes))
		ChunkUploadDuration.Observe(durationSeconds)
	}
}

func RecordChunkUploadRetry() {
	ChunkUploadRetries.Inc()
}

func SetChunkQueueDepth(depth int) {
	ChunkQueueDepth.Set(float64(depth))
}

func RecordSessionTransition(from, to string) {
	SessionTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordSessionTransitionConflict() {
	SessionTransitionConflicts.Inc()
}

func SetSessionsActive(count int) {
	SessionsActive.Set(float64(count))
}

func RecordSessionError(code string) {
	SessionErrorsTotal.WithLabelValues(code).Inc()
}

func RecordSessionExpired() {
	SessionExpiredTotal.Inc()
}

func RecordWatcherEventPublished() {
	WatcherEventsPublished.Inc()
}

func SetWatcherSubscribersActive(count int) {
	WatcherSubscribersActive.Set(float64(count))
}

func RecordWatcherFallbackPoll() {
	WatcherFallbackPolls.Inc()
}

func RecordJobEnqueued(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

func RecordJobProcessed(jobType, status string, durationSeconds float64) {
	JobsProcessedTotal.WithLabelValues(jobType, status).Inc()
	JobsProcessingDuration.WithLabelValues(jobType, "total").Observe(durationSeconds)
}

func RecordJobStage(jobType, stage string, durationSeconds float64) {
	JobsProcessingDuration.WithLabelValues(jobType, stage).Observe(durationSeconds)
}

func SetAppInfo(version, environment, service string) {
	AppInfo.WithLabelValues(version, environment, service).Set(1)
	AppUp.Set(1)
}

func SetWorkerPoolSize(size int) {
	WorkerPoolSize.Set(float64(size))
}

func SetJobsInQueue(queue string, count int64) {
	JobsInQueue.WithLabelValues(queue).Set(float64(count))
}
