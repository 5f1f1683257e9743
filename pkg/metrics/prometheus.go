// Package metrics provides Prometheus metrics for the FPL cache service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the FPL cache service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Upstream Metrics - FPL API health
	upstreamRequests *prometheus.CounterVec
	upstreamRetries  *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec

	// Sync Metrics - Run outcomes and timing
	syncRuns       *prometheus.CounterVec
	syncDuration   *prometheus.HistogramVec
	syncRejected   *prometheus.CounterVec
	syncInProgress prometheus.Gauge

	// Data Quality Metrics - What made it into a snapshot
	entitiesPublished *prometheus.GaugeVec
	recordsSkipped    *prometheus.CounterVec
	categoryFailures  *prometheus.CounterVec

	// Snapshot Metrics - Publish pointer and retention
	snapshotVersion       prometheus.Gauge
	snapshotPublishedUnix prometheus.Gauge
	snapshotPruned        prometheus.Counter
	snapshotRetained      prometheus.Gauge

	// Store Metrics - Backend latency
	storeWriteLatency *prometheus.HistogramVec
	storeQueryLatency *prometheus.HistogramVec
	storeErrors       *prometheus.CounterVec

	// Query Metrics - Read path
	queryLatency *prometheus.HistogramVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Enhanced Error Metrics - Detailed error tracking
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "fplcache",
		subsystem:        "",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.upstreamRequests = m.counterVec("upstream_requests_total",
		"Upstream requests by document path and status", "path", "status")
	m.upstreamRetries = m.counterVec("upstream_retries_total",
		"Upstream attempts that failed transiently and were retried", "path")
	m.upstreamLatency = m.histogramVec("upstream_latency_milliseconds",
		"Upstream request latency in milliseconds",
		[]float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}, "path")

	m.syncRuns = m.counterVec("sync_runs_total",
		"Finished sync runs by trigger and outcome", "trigger", "outcome")
	m.syncDuration = m.histogramVec("sync_duration_seconds",
		"Wall time of a sync run in seconds",
		[]float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}, "outcome")
	m.syncRejected = m.counterVec("sync_rejected_total",
		"Sync triggers rejected because a run was in flight", "trigger")
	m.syncInProgress = m.gauge("sync_in_progress", "1 while a sync run holds the gate")

	m.entitiesPublished = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("entities_published"),
		Help:        "Entities per category in the latest published snapshot",
		ConstLabels: m.customLabels,
	}, []string{"category"})
	m.recordsSkipped = m.counterVec("records_skipped_total",
		"Upstream records rejected by normalization", "category")
	m.categoryFailures = m.counterVec("category_failures_total",
		"Categories that failed to fetch or normalize", "category", "reason")

	m.snapshotVersion = m.gauge("snapshot_version", "Version of the published snapshot")
	m.snapshotPublishedUnix = m.gauge("snapshot_published_unix", "Unix time the published snapshot was committed")
	m.snapshotPruned = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("snapshot_pruned_total"),
		Help:        "Snapshots removed by retention",
		ConstLabels: m.customLabels,
	})
	m.snapshotRetained = m.gauge("snapshot_retained", "Committed snapshots currently retained")

	m.storeWriteLatency = m.histogramVec("store_write_latency_milliseconds",
		"Store write latency in milliseconds", m.histogramBuckets, "driver", "op")
	m.storeQueryLatency = m.histogramVec("store_query_latency_milliseconds",
		"Store read latency in milliseconds", m.histogramBuckets, "driver", "op")
	m.storeErrors = m.counterVec("store_errors_total", "Store errors", "driver", "op")

	m.queryLatency = m.histogramVec("query_latency_milliseconds",
		"Query service latency in milliseconds", m.histogramBuckets, "operation")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.histogramBuckets, "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total",
		"Total number of errors by component", "component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total",
		"Total number of errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_gc_pause_time_milliseconds"),
		Help:        "GC pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: m.customLabels,
	})
}

// Upstream Metrics Functions.

// RecordUpstreamRequest counts one upstream attempt.
func RecordUpstreamRequest(path, status string) {
	if !globalManager.enabled {
		return
	}
	globalManager.upstreamRequests.WithLabelValues(path, status).Inc()
}

// RecordUpstreamRetry counts a retried upstream attempt.
func RecordUpstreamRetry(path string) {
	if !globalManager.enabled {
		return
	}
	globalManager.upstreamRetries.WithLabelValues(path).Inc()
}

// RecordUpstreamLatency records upstream latency in milliseconds.
func RecordUpstreamLatency(path string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.upstreamLatency.WithLabelValues(path).Observe(latencyMs)
}

// Sync Metrics Functions.

// RecordSyncRun counts a finished run.
func RecordSyncRun(trigger, outcome string) {
	if !globalManager.enabled {
		return
	}
	globalManager.syncRuns.WithLabelValues(trigger, outcome).Inc()
}

// RecordSyncDuration records run wall time in seconds.
func RecordSyncDuration(outcome string, seconds float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.syncDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordSyncRejected counts a trigger refused by the in-flight gate.
func RecordSyncRejected(trigger string) {
	if !globalManager.enabled {
		return
	}
	globalManager.syncRejected.WithLabelValues(trigger).Inc()
}

// UpdateSyncInProgress sets the in-flight gauge.
func UpdateSyncInProgress(running bool) {
	if !globalManager.enabled {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	globalManager.syncInProgress.Set(v)
}

// Data Quality Metrics Functions.

// UpdateEntitiesPublished sets the entity count of a category in the live snapshot.
func UpdateEntitiesPublished(category string, count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.entitiesPublished.WithLabelValues(category).Set(float64(count))
}

// RecordRecordsSkipped adds rejected records for a category.
func RecordRecordsSkipped(category string, count int) {
	if !globalManager.enabled || count <= 0 {
		return
	}
	globalManager.recordsSkipped.WithLabelValues(category).Add(float64(count))
}

// RecordCategoryFailure counts a category that could not be produced.
func RecordCategoryFailure(category, reason string) {
	if !globalManager.enabled {
		return
	}
	globalManager.categoryFailures.WithLabelValues(category, reason).Inc()
}

// Snapshot Metrics Functions.

// UpdateSnapshotVersion records the newly published version and its commit time.
func UpdateSnapshotVersion(version int64, committedAt time.Time) {
	if !globalManager.enabled {
		return
	}
	globalManager.snapshotVersion.Set(float64(version))
	globalManager.snapshotPublishedUnix.Set(float64(committedAt.Unix()))
}

// RecordSnapshotPruned adds pruned snapshots.
func RecordSnapshotPruned(count int) {
	if !globalManager.enabled || count <= 0 {
		return
	}
	globalManager.snapshotPruned.Add(float64(count))
}

// UpdateSnapshotRetained sets the number of retained snapshots.
func UpdateSnapshotRetained(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.snapshotRetained.Set(float64(count))
}

// Store Metrics Functions.

// RecordStoreWriteLatency records a store write in milliseconds.
func RecordStoreWriteLatency(driver, op string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.storeWriteLatency.WithLabelValues(driver, op).Observe(latencyMs)
}

// RecordStoreQueryLatency records a store read in milliseconds.
func RecordStoreQueryLatency(driver, op string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.storeQueryLatency.WithLabelValues(driver, op).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(driver, op string) {
	if !globalManager.enabled {
		return
	}
	globalManager.storeErrors.WithLabelValues(driver, op).Inc()
}

// RecordQueryLatency records a query service call in milliseconds.
func RecordQueryLatency(operation string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.queryLatency.WithLabelValues(operation).Observe(latencyMs)
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Enhanced Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
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

// RefreshInterval returns how often gauge updaters should sample.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
