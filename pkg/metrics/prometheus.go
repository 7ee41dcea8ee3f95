// Package metrics provides Prometheus metrics for the trainer workload service.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the workload service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  atomic.Int64 // nanoseconds
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Consumer side
	messagesConsumed  *prometheus.CounterVec
	messagesDuplicate prometheus.Counter
	workloadMinutes   *prometheus.CounterVec
	removalExceeded   prometheus.Counter
	listenerLatency   prometheus.Histogram
	listenerActive    prometheus.Gauge
	handlerPanics     prometheus.Counter

	// Producer side
	published     *prometheus.CounterVec
	publishErrors *prometheus.CounterVec
	deadLetters   *prometheus.CounterVec

	// Channel
	channelDepth    *prometheus.GaugeVec
	channelCapacity *prometheus.GaugeVec

	// Trainer cache
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	cacheEntries       prometheus.Gauge
	cacheEvictions     prometheus.Counter
	remoteFetches      *prometheus.CounterVec
	remoteFetchLatency prometheus.Histogram

	// Weekly report
	reportsSent       prometheus.Counter
	reportsSkipped    prometheus.Counter
	reportsFailed     prometheus.Counter
	reportRunDuration prometheus.Histogram

	// Relational flush
	flushes      *prometheus.CounterVec
	flushedRows  prometheus.Counter
	flushLatency prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	errorRateByComponent *prometheus.CounterVec

	// System
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
		namespace:        "workload",
		subsystem:        "service",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}
	m.refreshInterval.Store(int64(defaultRefreshInterval))

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// RefreshInterval reports how often gauge refreshers should run.
func (m *Manager) RefreshInterval() time.Duration {
	return time.Duration(m.refreshInterval.Load())
}

// RefreshInterval is the period of the polled gauges (cache size, channel
// depth, system stats) of the global manager.
func RefreshInterval() time.Duration {
	return globalManager.RefreshInterval()
}

// SetRefreshInterval changes the global refresh period. Refreshers started
// afterwards pick it up; non-positive values are ignored.
func SetRefreshInterval(interval time.Duration) {
	if interval > 0 {
		globalManager.refreshInterval.Store(int64(interval))
	}
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	if buckets == nil {
		buckets = m.histogramBuckets
	}
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	if !m.enabled {
		// Metrics are still created so helpers never see nil, but nothing is exported.
		auto = promauto.With(nil)
	}

	latencyBuckets := []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

	m.messagesConsumed = auto.NewCounterVec(
		m.counterOpts("messages_consumed_total", "Messages handled by the receiver by destination and outcome"),
		[]string{"destination", "outcome"},
	)
	m.messagesDuplicate = auto.NewCounter(
		m.counterOpts("messages_duplicate_total", "Redelivered messages skipped because their id was already applied"),
	)
	m.workloadMinutes = auto.NewCounterVec(
		m.counterOpts("workload_minutes_total", "Training minutes applied to aggregates by action"),
		[]string{"action"},
	)
	m.removalExceeded = auto.NewCounter(
		m.counterOpts("workload_removal_exceeded_total", "Removals that exceeded the known bucket total or hit a bucket that never existed"),
	)
	m.listenerLatency = auto.NewHistogram(
		m.histogramOpts("listener_latency_milliseconds", "Time spent handling one delivery", latencyBuckets),
	)
	m.listenerActive = auto.NewGauge(
		m.gaugeOpts("listener_active_count", "Number of running channel listeners"),
	)
	m.handlerPanics = auto.NewCounter(
		m.counterOpts("handler_panics_total", "Message handlers that panicked and were isolated"),
	)

	m.published = auto.NewCounterVec(
		m.counterOpts("messages_published_total", "Messages published by destination"),
		[]string{"destination"},
	)
	m.publishErrors = auto.NewCounterVec(
		m.counterOpts("publish_errors_total", "Publish failures by destination and reason"),
		[]string{"destination", "reason"},
	)
	m.deadLetters = auto.NewCounterVec(
		m.counterOpts("dead_letters_total", "Dead-letter records emitted by kind"),
		[]string{"kind"},
	)

	m.channelDepth = auto.NewGaugeVec(
		m.gaugeOpts("channel_depth", "Messages waiting on a destination"),
		[]string{"destination"},
	)
	m.channelCapacity = auto.NewGaugeVec(
		m.gaugeOpts("channel_capacity", "Configured capacity of a destination"),
		[]string{"destination"},
	)

	m.cacheHits = auto.NewCounter(m.counterOpts("cache_hits_total", "Trainer cache lookups served locally"))
	m.cacheMisses = auto.NewCounter(m.counterOpts("cache_misses_total", "Trainer cache lookups that fell back to a remote fetch"))
	m.cacheEntries = auto.NewGauge(m.gaugeOpts("cache_entries", "Trainers currently held in the cache"))
	m.cacheEvictions = auto.NewCounter(m.counterOpts("cache_evictions_total", "Trainers evicted from a bounded cache"))
	m.remoteFetches = auto.NewCounterVec(
		m.counterOpts("remote_fetches_total", "Remote profile fetches by outcome"),
		[]string{"outcome"},
	)
	m.remoteFetchLatency = auto.NewHistogram(
		m.histogramOpts("remote_fetch_latency_milliseconds", "Remote profile fetch latency", latencyBuckets),
	)

	m.reportsSent = auto.NewCounter(m.counterOpts("reports_sent_total", "Weekly digests handed to the notifier"))
	m.reportsSkipped = auto.NewCounter(m.counterOpts("reports_skipped_total", "Weekly digests skipped for missing usernames"))
	m.reportsFailed = auto.NewCounter(m.counterOpts("reports_failed_total", "Weekly digests the notifier rejected"))
	m.reportRunDuration = auto.NewHistogram(
		m.histogramOpts("report_run_duration_milliseconds", "Duration of one weekly report run", latencyBuckets),
	)

	m.flushes = auto.NewCounterVec(
		m.counterOpts("flushes_total", "Workload snapshot flushes by outcome"),
		[]string{"outcome"},
	)
	m.flushedRows = auto.NewCounter(m.counterOpts("flushed_rows_total", "Year/month rows written by snapshot flushes"))
	m.flushLatency = auto.NewHistogram(
		m.histogramOpts("flush_latency_milliseconds", "Workload snapshot flush latency", latencyBuckets),
	)

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", latencyBuckets),
		[]string{"endpoint", "method", "status_code"},
	)
	m.errorRateByEndpoint = auto.NewCounterVec(
		m.counterOpts("errors_by_endpoint_total", "HTTP errors by endpoint, method and error type"),
		[]string{"endpoint", "method", "error_type"},
	)
	m.errorRateByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Errors by component and error type"),
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(
		m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
			[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}),
	)
}

// RecordMessageConsumed counts a delivery by destination and outcome
// (applied, duplicate, rejected, failed).
func RecordMessageConsumed(destination, outcome string) {
	globalManager.messagesConsumed.WithLabelValues(destination, outcome).Inc()
}

// RecordMessageDuplicate counts a skipped redelivery.
func RecordMessageDuplicate() {
	globalManager.messagesDuplicate.Inc()
}

// RecordWorkloadMinutes adds applied minutes for an action.
func RecordWorkloadMinutes(action string, minutes int64) {
	if minutes <= 0 {
		return
	}
	globalManager.workloadMinutes.WithLabelValues(action).Add(float64(minutes))
}

// RecordRemovalExceeded counts a removal that was clamped or hit no bucket.
func RecordRemovalExceeded() {
	globalManager.removalExceeded.Inc()
}

// RecordListenerLatency records delivery handling latency in milliseconds.
func RecordListenerLatency(latencyMs float64) {
	globalManager.listenerLatency.Observe(latencyMs)
}

// UpdateListenerActiveCount sets the number of running listeners.
func UpdateListenerActiveCount(count int) {
	globalManager.listenerActive.Set(float64(count))
}

// RecordHandlerPanic counts an isolated handler panic.
func RecordHandlerPanic() {
	globalManager.handlerPanics.Inc()
}

// RecordPublish counts a successful publish.
func RecordPublish(destination string) {
	globalManager.published.WithLabelValues(destination).Inc()
}

// RecordPublishError counts a failed publish.
func RecordPublishError(destination, reason string) {
	globalManager.publishErrors.WithLabelValues(destination, reason).Inc()
}

// RecordDeadLetter counts an emitted dead-letter record.
func RecordDeadLetter(kind string) {
	globalManager.deadLetters.WithLabelValues(kind).Inc()
}

// UpdateChannelDepth sets the number of waiting messages on a destination.
func UpdateChannelDepth(destination string, depth int) {
	globalManager.channelDepth.WithLabelValues(destination).Set(float64(depth))
}

// UpdateChannelCapacity sets the configured capacity of a destination.
func UpdateChannelCapacity(destination string, capacity int) {
	globalManager.channelCapacity.WithLabelValues(destination).Set(float64(capacity))
}

// RecordCacheHit counts a cache hit.
func RecordCacheHit() {
	globalManager.cacheHits.Inc()
}

// RecordCacheMiss counts a cache miss.
func RecordCacheMiss() {
	globalManager.cacheMisses.Inc()
}

// UpdateCacheEntries sets the number of cached trainers.
func UpdateCacheEntries(count int) {
	globalManager.cacheEntries.Set(float64(count))
}

// RecordCacheEviction counts an evicted trainer.
func RecordCacheEviction() {
	globalManager.cacheEvictions.Inc()
}

// RecordRemoteFetch counts a remote profile fetch (found, not_found, error)
// and its latency.
func RecordRemoteFetch(outcome string, latencyMs float64) {
	globalManager.remoteFetches.WithLabelValues(outcome).Inc()
	globalManager.remoteFetchLatency.Observe(latencyMs)
}

// RecordReportSent counts a dispatched weekly digest.
func RecordReportSent() {
	globalManager.reportsSent.Inc()
}

// RecordReportSkipped counts a digest skipped for a missing username.
func RecordReportSkipped() {
	globalManager.reportsSkipped.Inc()
}

// RecordReportFailed counts a digest the notifier rejected.
func RecordReportFailed() {
	globalManager.reportsFailed.Inc()
}

// RecordReportRun records how long a weekly run took.
func RecordReportRun(durationMs float64) {
	globalManager.reportRunDuration.Observe(durationMs)
}

// RecordFlush counts a snapshot flush by outcome and its latency.
func RecordFlush(outcome string, rows int, latencyMs float64) {
	globalManager.flushes.WithLabelValues(outcome).Inc()
	if rows > 0 {
		globalManager.flushedRows.Add(float64(rows))
	}
	globalManager.flushLatency.Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an HTTP error.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorByComponent records an error raised by a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
