package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionforge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "captionforge_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Upload Metrics
	VideoUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionforge_video_uploads_total",
			Help: "Total number of accepted uploads",
		},
		[]string{"format"},
	)

	VideoUploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "captionforge_video_upload_size_bytes",
			Help:    "Size of uploaded media in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 8), // 1MB to 128MB
		},
	)

	UploadsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionforge_uploads_rejected_total",
			Help: "Uploads rejected during validation",
		},
		[]string{"field"},
	)

	// Stage Metrics
	StageOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionforge_stage_outcomes_total",
			Help: "Pipeline stage outcomes",
		},
		[]string{"stage", "outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "captionforge_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17 minutes
		},
		[]string{"stage"},
	)

	StagesInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "captionforge_stages_in_progress",
			Help: "Number of pipeline stages currently running",
		},
		[]string{"stage"},
	)

	CoordinatorConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionforge_coordinator_conflicts_total",
			Help: "Operations rejected because the video was busy",
		},
		[]string{"stage"},
	)

	// Ledger Metrics
	LedgerMinutesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionforge_ledger_minutes_total",
			Help: "Minutes reserved through the usage ledger",
		},
		[]string{"kind"}, // free, billable
	)

	LedgerCostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "captionforge_ledger_cost_total",
			Help: "Cost charged through the usage ledger",
		},
	)

	LedgerConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "captionforge_ledger_cas_conflicts_total",
			Help: "Compare-and-set retries in the usage ledger",
		},
	)

	// Provider Metrics
	ProviderErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionforge_provider_errors_total",
			Help: "Errors returned by external providers",
		},
		[]string{"provider", "code"},
	)

	DubbingPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionforge_dubbing_polls_total",
			Help: "Dubbing status polls by resulting state",
		},
		[]string{"status"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionforge_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "captionforge_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	// Event Metrics
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionforge_events_published_total",
			Help: "Events published to the message broker",
		},
		[]string{"type", "status"},
	)

	// State Metrics, sampled by the monitor
	VideosByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "captionforge_videos",
			Help: "Videos by transcription status",
		},
		[]string{"status"},
	)

	DubbingJobsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "captionforge_dubbing_jobs",
			Help: "Videos by dubbing status",
		},
		[]string{"status"},
	)

	PollQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "captionforge_poll_queue_depth",
			Help: "Dubbing polls waiting in the queue",
		},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordVideoUpload records an accepted upload
func RecordVideoUpload(format string, sizeBytes int64) {
	VideoUploadsTotal.WithLabelValues(format).Inc()
	VideoUploadSizeBytes.Observe(float64(sizeBytes))
}

// RecordUploadRejected records an upload that failed validation
func RecordUploadRejected(field string) {
	UploadsRejectedTotal.WithLabelValues(field).Inc()
}

// StageStarted marks a stage as running
func StageStarted(stage string) {
	StagesInProgress.WithLabelValues(stage).Inc()
}

// RecordStage records a finished stage
func RecordStage(stage, outcome string, durationSeconds float64) {
	StagesInProgress.WithLabelValues(stage).Dec()
	StageOutcomesTotal.WithLabelValues(stage, outcome).Inc()
	StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordCoordinatorConflict records an operation rejected by the per-video lock
func RecordCoordinatorConflict(stage string) {
	CoordinatorConflictsTotal.WithLabelValues(stage).Inc()
}

// RecordLedgerReservation records a committed reservation
func RecordLedgerReservation(freeMinutes, billableMinutes, cost float64) {
	LedgerMinutesTotal.WithLabelValues("free").Add(freeMinutes)
	LedgerMinutesTotal.WithLabelValues("billable").Add(billableMinutes)
	LedgerCostTotal.Add(cost)
}

// RecordLedgerConflict records a lost compare-and-set round
func RecordLedgerConflict() {
	LedgerConflictsTotal.Inc()
}

// RecordProviderError records a failed provider call
func RecordProviderError(provider, code string) {
	ProviderErrorsTotal.WithLabelValues(provider, code).Inc()
}

// RecordDubbingPoll records a dubbing status poll
func RecordDubbingPoll(status string) {
	DubbingPollsTotal.WithLabelValues(status).Inc()
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordEventPublished records a broker publish attempt
func RecordEventPublished(eventType, status string) {
	EventsPublishedTotal.WithLabelValues(eventType, status).Inc()
}

// SetStatusCounts replaces the per-status gauge values. Statuses missing from
// counts are reported as zero.
func SetStatusCounts(gauge *prometheus.GaugeVec, statuses []string, counts map[string]int64) {
	for _, status := range statuses {
		gauge.WithLabelValues(status).Set(float64(counts[status]))
	}
}
