// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/greybox/hackcore/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Process engine metrics
	ProcessesStartedTotal   *prometheus.CounterVec
	ProcessesCompletedTotal *prometheus.CounterVec
	ProcessDuration         *prometheus.HistogramVec
	ProcessesRunning        *prometheus.GaugeVec
	LedgerUtilization       *prometheus.GaugeVec
	AdmissionRejectedTotal  *prometheus.CounterVec

	// Event fan-out metrics
	EventsPublishedTotal  *prometheus.CounterVec
	EventsDroppedTotal    *prometheus.CounterVec
	SubscriptionsActive   prometheus.Gauge

	// Database metrics
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Process engine metrics
		ProcessesStartedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "processes_started_total",
				Help: "Total number of processes admitted and started",
			},
			[]string{"service", "kind"},
		),
		ProcessesCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "processes_completed_total",
				Help: "Total number of processes that reached a terminal state",
			},
			[]string{"service", "kind", "outcome"},
		),
		ProcessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "process_duration_seconds",
				Help:    "Observed wall-clock duration of completed processes",
				Buckets: []float64{.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"service", "kind"},
		),
		ProcessesRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "processes_running",
				Help: "Current number of processes in the running state",
			},
			[]string{"service", "server_id"},
		),
		LedgerUtilization: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledger_utilization_ratio",
				Help: "Fraction of server resource capacity currently allocated",
			},
			[]string{"service", "server_id", "resource"},
		),
		AdmissionRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_rejected_total",
				Help: "Total number of process start requests rejected at admission",
			},
			[]string{"service", "reason"},
		),

		// Event fan-out metrics
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Total number of events published to the fan-out hub",
			},
			[]string{"service", "kind"},
		),
		EventsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_dropped_total",
				Help: "Total number of events dropped due to a full subscriber queue",
			},
			[]string{"service"},
		),
		SubscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subscriptions_active",
				Help: "Current number of active event subscriptions",
			},
		),

		// Database metrics
		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"service", "operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "database_connections_open",
				Help: "Current number of open database connections",
			},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.ProcessesStartedTotal,
			m.ProcessesCompletedTotal,
			m.ProcessDuration,
			m.ProcessesRunning,
			m.LedgerUtilization,
			m.AdmissionRejectedTotal,
			m.EventsPublishedTotal,
			m.EventsDroppedTotal,
			m.SubscriptionsActive,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	// Set service info
	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordProcessStarted records a process admitted and entering the running state.
func (m *Metrics) RecordProcessStarted(service, kind string) {
	m.ProcessesStartedTotal.WithLabelValues(service, kind).Inc()
}

// RecordProcessCompleted records a process reaching a terminal state, with its
// observed duration. outcome is one of "completed", "failed", or "cancelled".
func (m *Metrics) RecordProcessCompleted(service, kind, outcome string, duration time.Duration) {
	m.ProcessesCompletedTotal.WithLabelValues(service, kind, outcome).Inc()
	m.ProcessDuration.WithLabelValues(service, kind).Observe(duration.Seconds())
}

// SetProcessesRunning sets the current running-process gauge for a server.
func (m *Metrics) SetProcessesRunning(service, serverID string, count int) {
	m.ProcessesRunning.WithLabelValues(service, serverID).Set(float64(count))
}

// SetLedgerUtilization sets the fraction of a resource currently allocated on a server.
func (m *Metrics) SetLedgerUtilization(service, serverID, resource string, ratio float64) {
	m.LedgerUtilization.WithLabelValues(service, serverID, resource).Set(ratio)
}

// RecordAdmissionRejected records a process start request rejected at admission.
func (m *Metrics) RecordAdmissionRejected(service, reason string) {
	m.AdmissionRejectedTotal.WithLabelValues(service, reason).Inc()
}

// RecordEventPublished records an event published through the fan-out hub.
func (m *Metrics) RecordEventPublished(service, kind string) {
	m.EventsPublishedTotal.WithLabelValues(service, kind).Inc()
}

// RecordEventDropped records an event dropped because a subscriber's queue was full.
func (m *Metrics) RecordEventDropped(service string) {
	m.EventsDroppedTotal.WithLabelValues(service).Inc()
}

// SetSubscriptionsActive sets the current active subscription count.
func (m *Metrics) SetSubscriptionsActive(count int) {
	m.SubscriptionsActive.Set(float64(count))
}

// RecordDatabaseQuery records a database query
func (m *Metrics) RecordDatabaseQuery(service, operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// SetDatabaseConnections sets the number of open database connections
func (m *Metrics) SetDatabaseConnections(count int) {
	m.DatabaseConnectionsOpen.Set(float64(count))
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := os.Getenv("METRICS_ENABLED")
	if raw == "" {
		return !runtime.IsProduction()
	}
	return runtime.ParseBoolValue(raw)
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
