package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studio_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Backend Metrics
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_backend_requests_total",
			Help: "Total number of requests sent to the REST backend",
		},
		[]string{"operation", "status"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studio_backend_request_duration_seconds",
			Help:    "REST backend request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Job Poller Metrics
	JobPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_job_polls_total",
			Help: "Total number of job status checks by outcome",
		},
		[]string{"outcome"},
	)

	JobsTerminalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_jobs_terminal_total",
			Help: "Total number of tracked jobs that reached a terminal state",
		},
		[]string{"status"},
	)

	JobsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studio_jobs_pending",
			Help: "Number of jobs currently tracked across all sessions",
		},
	)

	VideoListRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_video_list_refreshes_total",
			Help: "Total number of video list refreshes",
		},
		[]string{"trigger", "status"},
	)

	// Playback Metrics
	PlaybackEscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_playback_escalations_total",
			Help: "Total number of playback strategy changes",
		},
		[]string{"from", "to"},
	)

	PlaybackUnavailableTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_playback_unavailable_total",
			Help: "Total number of videos reported unavailable",
		},
		[]string{"reason"},
	)

	CORSProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_cors_probes_total",
			Help: "Total number of CORS diagnostic probes by result",
		},
		[]string{"status"},
	)

	// Blob Metrics
	BlobOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_blob_operations_total",
			Help: "Total number of object URL operations",
		},
		[]string{"backend", "operation", "status"},
	)

	BlobBytesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_blob_bytes_stored_total",
			Help: "Total bytes stored behind object URLs",
		},
		[]string{"backend"},
	)

	BlobsLive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "studio_blobs_live",
			Help: "Number of object URLs created and not yet revoked",
		},
		[]string{"backend"},
	)

	// Notification Metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_notifications_total",
			Help: "Total number of job event notifications by sink",
		},
		[]string{"sink", "status"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordBackendRequest records a call to the REST backend
func RecordBackendRequest(operation, status string, duration float64) {
	BackendRequestsTotal.WithLabelValues(operation, status).Inc()
	BackendRequestDuration.WithLabelValues(operation).Observe(duration)
}

// RecordJobPoll records the outcome of one status check
func RecordJobPoll(outcome string) {
	JobPollsTotal.WithLabelValues(outcome).Inc()
}

// RecordJobTerminal records a job leaving the poll loop
func RecordJobTerminal(status string) {
	JobsTerminalTotal.WithLabelValues(status).Inc()
}

// AddPendingJobs moves the pending job gauge by delta
func AddPendingJobs(delta int) {
	JobsPending.Add(float64(delta))
}

// RecordVideoListRefresh records a video list refresh
func RecordVideoListRefresh(trigger, status string) {
	VideoListRefreshesTotal.WithLabelValues(trigger, status).Inc()
}

// RecordPlaybackEscalation records a playback strategy change
func RecordPlaybackEscalation(from, to string) {
	PlaybackEscalationsTotal.WithLabelValues(from, to).Inc()
}

// RecordPlaybackUnavailable records a video that could not be rendered
func RecordPlaybackUnavailable(reason string) {
	PlaybackUnavailableTotal.WithLabelValues(reason).Inc()
}

// RecordCORSProbe records a diagnostic probe result
func RecordCORSProbe(status string) {
	CORSProbesTotal.WithLabelValues(status).Inc()
}

// RecordBlobCreated records an object URL creation
func RecordBlobCreated(backend string, size int64, err error) {
	if err != nil {
		BlobOperationsTotal.WithLabelValues(backend, "create", "error").Inc()
		return
	}
	BlobOperationsTotal.WithLabelValues(backend, "create", "success").Inc()
	BlobBytesStored.WithLabelValues(backend).Add(float64(size))
	BlobsLive.WithLabelValues(backend).Inc()
}

// RecordBlobRevoked records an object URL revocation
func RecordBlobRevoked(backend string, err error) {
	if err != nil {
		BlobOperationsTotal.WithLabelValues(backend, "revoke", "error").Inc()
		return
	}
	BlobOperationsTotal.WithLabelValues(backend, "revoke", "success").Inc()
	BlobsLive.WithLabelValues(backend).Dec()
}

// RecordNotification records a job event delivery attempt
func RecordNotification(sink string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	NotificationsTotal.WithLabelValues(sink, status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
