// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/legacy-lands/aspectrt/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Database metrics
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec

	// AOP invocation metrics (section 4.4)
	AOPInvocationsTotal   *prometheus.CounterVec
	AOPInvocationDuration *prometheus.HistogramVec
	CircuitBreakerState   *prometheus.GaugeVec

	// Entity store metrics (section 4.6)
	EntityStoreHitsTotal  *prometheus.CounterVec
	EntityStoreOpDuration *prometheus.HistogramVec

	// Stream bus metrics (section 4.7)
	StreamMessagesTotal *prometheus.CounterVec

	// Transaction coordinator metrics (section 4.5)
	TransactionsTotal *prometheus.CounterVec
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

		AOPInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aop_invocations_total",
				Help: "Total number of aspect-intercepted method invocations",
			},
			[]string{"service", "type", "method", "status"},
		),
		AOPInvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aop_invocation_duration_seconds",
				Help:    "Duration of aspect-intercepted method invocations in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "type", "method"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aop_circuit_breaker_state",
				Help: "Circuit breaker state: 0=closed, 1=open, 2=half-open",
			},
			[]string{"service", "breaker"},
		),

		EntityStoreHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entity_store_hits_total",
				Help: "Entity lookups served per tier",
			},
			[]string{"service", "tier", "result"},
		),
		EntityStoreOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entity_store_operation_duration_seconds",
				Help:    "Entity store operation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5, 1},
			},
			[]string{"service", "tier", "operation"},
		),

		StreamMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_messages_total",
				Help: "Stream bus messages processed",
			},
			[]string{"service", "stream", "action", "outcome"},
		),

		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_total",
				Help: "Two-phase commit transactions by outcome",
			},
			[]string{"service", "outcome"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.ServiceUptime,
			m.ServiceInfo,
			m.AOPInvocationsTotal,
			m.AOPInvocationDuration,
			m.CircuitBreakerState,
			m.EntityStoreHitsTotal,
			m.EntityStoreOpDuration,
			m.StreamMessagesTotal,
			m.TransactionsTotal,
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

// RecordAOPInvocation records one pass through the interceptor chain for a method.
func (m *Metrics) RecordAOPInvocation(service, typeName, method, status string, duration time.Duration) {
	m.AOPInvocationsTotal.WithLabelValues(service, typeName, method, status).Inc()
	m.AOPInvocationDuration.WithLabelValues(service, typeName, method).Observe(duration.Seconds())
}

// SetCircuitBreakerState records the current state of a named breaker.
func (m *Metrics) SetCircuitBreakerState(service, breaker string, state int) {
	m.CircuitBreakerState.WithLabelValues(service, breaker).Set(float64(state))
}

// RecordEntityStoreHit records a lookup served by a given tier (l1, l2, durable) with a hit/miss result.
func (m *Metrics) RecordEntityStoreHit(service, tier, result string) {
	m.EntityStoreHitsTotal.WithLabelValues(service, tier, result).Inc()
}

// RecordEntityStoreOp records the latency of an entity store operation at a given tier.
func (m *Metrics) RecordEntityStoreOp(service, tier, operation string, duration time.Duration) {
	m.EntityStoreOpDuration.WithLabelValues(service, tier, operation).Observe(duration.Seconds())
}

// RecordStreamMessage records one message processed off a stream.
func (m *Metrics) RecordStreamMessage(service, stream, action, outcome string) {
	m.StreamMessagesTotal.WithLabelValues(service, stream, action, outcome).Inc()
}

// RecordTransaction records the terminal outcome of a two-phase commit transaction.
func (m *Metrics) RecordTransaction(service, outcome string) {
	m.TransactionsTotal.WithLabelValues(service, outcome).Inc()
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
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
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
