package metrics

import (
	"sync"
	"time"
)

// MetricsCollector provides a centralized way to collect and retrieve metrics
type MetricsCollector struct {
	mutex               sync.RWMutex
	counters            map[string]int64
	gauges              map[string]float64
	requestLatencies    map[string][]time.Duration
	requestCounts       map[string]int64
	checkCounts         map[string]int64
	checkLatencies      map[string][]time.Duration
	databaseQueryCounts map[string]int64
	databaseLatencies   map[string][]time.Duration
	errorCounts         map[string]int64
	startTime           time.Time
	maxHistogramSamples int
}

// Counter metrics
const (
	CounterHTTPRequests        = "http_requests_total"
	CounterHTTPRequestsSuccess = "http_requests_success_total"
	CounterHTTPRequestsError   = "http_requests_error_total"
	CounterFramesObserved      = "frames_observed_total"
	CounterCodesObserved       = "codes_observed_total"
	CounterCodesEvicted        = "codes_evicted_total"
	CounterChecksTotal         = "checks_total"
	CounterChecksSucceeded     = "checks_succeeded_total"
	CounterChecksFailed        = "checks_failed_total"
	CounterPackagesCommitted   = "packages_committed_total"
	CounterEventsPublished     = "events_published_total"
	CounterDBQueriesTotal      = "db_queries_total"
	CounterDBQueriesError      = "db_queries_error_total"
	CounterErrorsTotal         = "errors_total"
)

// Gauge metrics
const (
	GaugeActiveSessions = "active_sessions"
	GaugeBufferedCodes  = "buffered_codes"
)

// Database query types
const (
	DBQueryTypeSelect = "select"
	DBQueryTypeInsert = "insert"
	DBQueryTypeUpdate = "update"
	DBQueryTypeDelete = "delete"
)

// Error types
const (
	ErrorTypeHTTP       = "http"
	ErrorTypeValidation = "validation"
	ErrorTypeDatabase   = "database"
	ErrorTypePublish    = "publish"
	ErrorTypeInternal   = "internal"
)

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:            make(map[string]int64),
		gauges:              make(map[string]float64),
		requestLatencies:    make(map[string][]time.Duration),
		requestCounts:       make(map[string]int64),
		checkCounts:         make(map[string]int64),
		checkLatencies:      make(map[string][]time.Duration),
		databaseQueryCounts: make(map[string]int64),
		databaseLatencies:   make(map[string][]time.Duration),
		errorCounts:         make(map[string]int64),
		startTime:           time.Now(),
		maxHistogramSamples: 1000,
	}
}

// IncrementCounter increments a counter by the given value
func (m *MetricsCollector) IncrementCounter(name string, value int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.counters[name] += value
}

// SetGauge sets a gauge to the given value
func (m *MetricsCollector) SetGauge(name string, value float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.gauges[name] = value
}

// Counter returns the current value of a counter
func (m *MetricsCollector) Counter(name string) int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.counters[name]
}

// RecordHTTPRequest records metrics for an HTTP request
func (m *MetricsCollector) RecordHTTPRequest(path string, statusCode int, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.counters[CounterHTTPRequests]++
	m.requestCounts[path]++
	m.requestLatencies[path] = m.appendSample(m.requestLatencies[path], latency)

	if statusCode >= 200 && statusCode < 400 {
		m.counters[CounterHTTPRequestsSuccess]++
	} else {
		m.counters[CounterHTTPRequestsError]++
		m.errorCounts[ErrorTypeHTTP]++
	}
}

// RecordFrame records one observed frame and the number of codes it carried
func (m *MetricsCollector) RecordFrame(codes int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.counters[CounterFramesObserved]++
	m.counters[CounterCodesObserved] += int64(codes)
}

// RecordCheck records the outcome of an aggregation check. kind is the
// failure kind, or "success".
func (m *MetricsCollector) RecordCheck(kind string, success bool, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.counters[CounterChecksTotal]++
	m.checkCounts[kind]++
	if success {
		m.counters[CounterChecksSucceeded]++
		m.counters[CounterPackagesCommitted]++
	} else {
		m.counters[CounterChecksFailed]++
	}
	m.checkLatencies[kind] = m.appendSample(m.checkLatencies[kind], latency)
}

// RecordDatabaseQuery records metrics for a database query
func (m *MetricsCollector) RecordDatabaseQuery(queryType string, success bool, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.databaseQueryCounts[queryType]++
	m.counters[CounterDBQueriesTotal]++

	if !success {
		m.counters[CounterDBQueriesError]++
		m.errorCounts[ErrorTypeDatabase]++
	}

	m.databaseLatencies[queryType] = m.appendSample(m.databaseLatencies[queryType], latency)
}

// RecordError records an error of the given type
func (m *MetricsCollector) RecordError(errorType string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.errorCounts[errorType]++
	m.counters[CounterErrorsTotal]++
}

// SetActiveSessions sets the number of open aggregation sessions
func (m *MetricsCollector) SetActiveSessions(count int) {
	m.SetGauge(GaugeActiveSessions, float64(count))
}

// SetBufferedCodes sets the number of codes held across all scan buffers
func (m *MetricsCollector) SetBufferedCodes(count int) {
	m.SetGauge(GaugeBufferedCodes, float64(count))
}

// appendSample keeps at most maxHistogramSamples, dropping the oldest.
// Callers hold the lock.
func (m *MetricsCollector) appendSample(samples []time.Duration, value time.Duration) []time.Duration {
	if samples == nil {
		samples = make([]time.Duration, 0, m.maxHistogramSamples)
	}
	if len(samples) >= m.maxHistogramSamples {
		samples = samples[1:]
	}
	return append(samples, value)
}

func averageMillis(series map[string][]time.Duration) map[string]float64 {
	out := make(map[string]float64, len(series))
	for name, latencies := range series {
		if len(latencies) == 0 {
			continue
		}
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		out[name] = float64(sum.Milliseconds()) / float64(len(latencies))
	}
	return out
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// GetMetrics returns all collected metrics in a structured format
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	gauges := make(map[string]float64, len(m.gauges))
	for k, v := range m.gauges {
		gauges[k] = v
	}

	return map[string]interface{}{
		"uptime_seconds":        time.Since(m.startTime).Seconds(),
		"counters":              copyCounts(m.counters),
		"gauges":                gauges,
		"request_counts":        copyCounts(m.requestCounts),
		"request_latencies_ms":  averageMillis(m.requestLatencies),
		"check_counts":          copyCounts(m.checkCounts),
		"check_latencies_ms":    averageMillis(m.checkLatencies),
		"database_query_counts": copyCounts(m.databaseQueryCounts),
		"database_latencies_ms": averageMillis(m.databaseLatencies),
		"error_counts":          copyCounts(m.errorCounts),
	}
}

// GetHealthStatus returns a simple health status based on metrics
func (m *MetricsCollector) GetHealthStatus() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	healthy := true

	errorRate := 0.0
	totalRequests := m.counters[CounterHTTPRequests]
	if totalRequests > 0 {
		errorRate = float64(m.counters[CounterHTTPRequestsError]) / float64(totalRequests)
	}

	const errorRateThreshold = 0.05 // 5% error rate is considered unhealthy

	if errorRate > errorRateThreshold {
		healthy = false
	}

	return map[string]interface{}{
		"status": map[string]interface{}{
			"healthy":        healthy,
			"uptime_seconds": time.Since(m.startTime).Seconds(),
		},
		"metrics": map[string]interface{}{
			"total_requests":   totalRequests,
			"error_rate":       errorRate,
			"active_sessions":  m.gauges[GaugeActiveSessions],
			"checks_succeeded": m.counters[CounterChecksSucceeded],
			"checks_failed":    m.counters[CounterChecksFailed],
			"db_queries_error": m.counters[CounterDBQueriesError],
		},
	}
}

// Global metrics collector instance
var globalCollector *MetricsCollector
var once sync.Once

// GetMetricsCollector returns the global metrics collector instance
func GetMetricsCollector() *MetricsCollector {
	once.Do(func() {
		globalCollector = NewMetricsCollector()
	})
	return globalCollector
}
