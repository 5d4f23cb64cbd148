// Package metrics provides Prometheus metrics for the stroke authentication service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Buckets for [0,1] scores.
var scoreBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1} //nolint:gochecknoglobals // fixed histogram layout

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Capture and feature metrics
	captureValidations *prometheus.CounterVec
	captureWarnings    *prometheus.CounterVec
	extractionLatency  prometheus.Histogram
	qualityScore       prometheus.Histogram
	qualityOutcomes    *prometheus.CounterVec

	// Enrollment metrics
	enrollmentOutcomes *prometheus.CounterVec
	baselinesTotal     prometheus.Gauge

	// Comparison metrics
	comparisons     *prometheus.CounterVec
	comparisonScore *prometheus.HistogramVec
	mlCalls         *prometheus.CounterVec
	mlLatency       prometheus.Histogram
	mlDegraded      prometheus.Counter
	replayRejected  prometheus.Counter

	// Audit metrics
	attemptsRecorded prometheus.Counter
	attemptsDropped  prometheus.Counter

	// HTTP and stream metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	streamConnections   prometheus.Gauge
	streamFrames        *prometheus.CounterVec

	// Repository metrics
	repositoryLatency *prometheus.HistogramVec

	// Queue metrics
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker metrics
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "strokeauth",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.captureValidations = m.counterVec("capture_validations_total", "Capture validations by result", "result")
	m.captureWarnings = m.counterVec("capture_warnings_total", "Non-fatal capture warnings by kind", "kind")
	m.extractionLatency = m.histogram("extraction_latency_milliseconds", "Feature extraction latency in milliseconds", m.histogramBuckets)
	m.qualityScore = m.histogram("quality_score", "Quality scores of assessed samples", scoreBuckets)
	m.qualityOutcomes = m.counterVec("quality_outcomes_total", "Quality assessments by result", "result")

	m.enrollmentOutcomes = m.counterVec("enrollment_outcomes_total", "Enrollment submissions by outcome", "outcome")
	m.baselinesTotal = m.gauge("baselines_total", "Number of stored baselines")

	m.comparisons = m.counterVec("comparisons_total", "Comparisons by mode and recommendation", "mode", "recommendation")
	m.comparisonScore = m.histogramVec("comparison_score", "Final comparison scores by mode", scoreBuckets, "mode")
	m.mlCalls = m.counterVec("ml_scorer_calls_total", "ML scorer attempts by outcome", "outcome")
	m.mlLatency = m.histogram("ml_scorer_latency_milliseconds", "ML scorer call latency in milliseconds", m.histogramBuckets)
	m.mlDegraded = m.counter("ml_scorer_degraded_total", "Comparisons that fell back to the rule-based score")
	m.replayRejected = m.counter("replay_rejected_total", "Authentications rejected as replays")

	m.attemptsRecorded = m.counter("audit_attempts_recorded_total", "Audit attempts persisted")
	m.attemptsDropped = m.counter("audit_attempts_dropped_total", "Audit attempts dropped under backpressure")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets, "endpoint", "method", "status_code")
	m.streamConnections = m.gauge("stream_connections", "Open capture stream connections")
	m.streamFrames = m.counterVec("stream_frames_total", "Capture stream frames by type", "type")

	m.repositoryLatency = m.histogramVec("repository_latency_milliseconds", "Repository operation latency in milliseconds", m.histogramBuckets, "op")

	m.queueSize = m.gauge("queue_size", "Current number of queued audit attempts")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (0-1)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of enqueue operations")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of dequeue operations")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of enqueue errors")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Queue processing latency in milliseconds", m.histogramBuckets)

	m.workerActiveCount = m.gauge("worker_active_count", "Number of active workers")
	m.workerIdleCount = m.gauge("worker_idle_count", "Number of idle workers")
	m.workerMessagesPerSecond = m.gauge("worker_messages_per_second", "Average messages processed per second by workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker processing latency in milliseconds", m.histogramBuckets)
	m.workerErrorRate = m.counter("worker_errors_total", "Total number of worker errors")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Total number of errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that resulted in errors", m.histogramBuckets, "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Current memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Current number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Capture and Feature Metrics Functions.

// RecordCaptureValidation counts a validation by result ("valid" or "invalid").
func RecordCaptureValidation(result string) {
	globalManager.captureValidations.WithLabelValues(result).Inc()
}

// RecordCaptureWarning counts a non-fatal capture warning.
func RecordCaptureWarning(kind string) {
	globalManager.captureWarnings.WithLabelValues(kind).Inc()
}

// RecordExtractionLatency records feature extraction latency.
func RecordExtractionLatency(latencyMs float64) {
	globalManager.extractionLatency.Observe(latencyMs)
}

// RecordQualityScore records a quality score and whether it passed.
func RecordQualityScore(score float64, passed bool) {
	globalManager.qualityScore.Observe(score)
	result := "passed"
	if !passed {
		result = "flagged"
	}
	globalManager.qualityOutcomes.WithLabelValues(result).Inc()
}

// Enrollment Metrics Functions.

// RecordEnrollmentOutcome counts an enrollment submission by outcome.
func RecordEnrollmentOutcome(outcome string) {
	globalManager.enrollmentOutcomes.WithLabelValues(outcome).Inc()
}

// UpdateBaselinesTotal sets the number of stored baselines.
func UpdateBaselinesTotal(count int) {
	globalManager.baselinesTotal.Set(float64(count))
}

// Comparison Metrics Functions.

// RecordComparison counts a comparison and observes its final score.
func RecordComparison(mode, recommendation string, score float64) {
	globalManager.comparisons.WithLabelValues(mode, recommendation).Inc()
	globalManager.comparisonScore.WithLabelValues(mode).Observe(score)
}

// RecordMLCall records one ML scorer attempt.
func RecordMLCall(outcome string, latencyMs float64) {
	globalManager.mlCalls.WithLabelValues(outcome).Inc()
	globalManager.mlLatency.Observe(latencyMs)
}

// RecordMLDegraded counts a comparison that fell back to the rule-based score.
func RecordMLDegraded() {
	globalManager.mlDegraded.Inc()
}

// RecordReplayRejected counts a replayed session.
func RecordReplayRejected() {
	globalManager.replayRejected.Inc()
}

// Audit Metrics Functions.

// RecordAttemptRecorded counts a persisted audit attempt.
func RecordAttemptRecorded() {
	globalManager.attemptsRecorded.Inc()
}

// RecordAttemptDropped counts an audit attempt dropped under backpressure.
func RecordAttemptDropped() {
	globalManager.attemptsDropped.Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// AddStreamConnections adjusts the open stream connection gauge by delta.
func AddStreamConnections(delta int) {
	globalManager.streamConnections.Add(float64(delta))
}

// RecordStreamFrame counts a capture stream frame by type.
func RecordStreamFrame(frameType string) {
	globalManager.streamFrames.WithLabelValues(frameType).Inc()
}

// Repository Metrics Functions.

// RecordRepositoryLatency records the latency of a repository operation.
func RecordRepositoryLatency(op string, latencyMs float64) {
	globalManager.repositoryLatency.WithLabelValues(op).Observe(latencyMs)
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerIdleCount sets the number of idle workers.
func UpdateWorkerIdleCount(count int) {
	globalManager.workerIdleCount.Set(float64(count))
}

// UpdateWorkerMessagesPerSecond sets the average messages processed per second.
func UpdateWorkerMessagesPerSecond(rate float64) {
	globalManager.workerMessagesPerSecond.Set(rate)
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// Configure rebuilds the global metrics on a fresh registry with opts. It must
// run at startup, before anything records metrics or GetRegistry is served.
func Configure(opts ...Option) {
	registry := prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(registry))...)
	customRegistry = registry
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
