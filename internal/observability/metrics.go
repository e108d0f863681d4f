// Package observability exposes Prometheus metrics for the daemon.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsManager manages Prometheus metrics
type MetricsManager struct {
	registry *prometheus.Registry

	uptime         prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	servicesTotal  prometheus.Gauge
	servicesOnline prometheus.Gauge
	bridgesTotal   prometheus.Gauge
	bridgesRunning prometheus.Gauge
	agentsTotal    prometheus.Gauge
	agentsRunning  prometheus.Gauge
	healthSweeps   *prometheus.CounterVec
	serviceCalls   *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager() *MetricsManager {
	mm := &MetricsManager{
		registry: prometheus.NewRegistry(),
	}
	mm.initMetrics()
	mm.registerMetrics()
	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpbridge_uptime_seconds",
		Help: "Time since the application started",
	})

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpbridge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpbridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	mm.servicesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpbridge_services_total",
		Help: "Total number of registered OpenAPI services",
	})

	mm.servicesOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpbridge_services_online",
		Help: "Number of OpenAPI services currently online",
	})

	mm.bridgesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpbridge_bridges_total",
		Help: "Total number of translation bridges",
	})

	mm.bridgesRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpbridge_bridges_running",
		Help: "Number of translation bridges with a live process",
	})

	mm.agentsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpbridge_agents_total",
		Help: "Total number of registered tool agents",
	})

	mm.agentsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpbridge_agents_running",
		Help: "Number of tool agents with a live session",
	})

	mm.healthSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpbridge_health_sweeps_total",
			Help: "Total number of health monitor sweeps",
		},
		[]string{"result"}, // result: completed
	)

	mm.serviceCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpbridge_service_calls_total",
			Help: "Total number of routed OpenAPI operation calls",
		},
		[]string{"service", "status"},
	)

	mm.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpbridge_tool_calls_total",
			Help: "Total number of routed MCP tool calls",
		},
		[]string{"agent", "status"},
	)
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.servicesTotal,
		mm.servicesOnline,
		mm.bridgesTotal,
		mm.bridgesRunning,
		mm.agentsTotal,
		mm.agentsRunning,
		mm.healthSweeps,
		mm.serviceCalls,
		mm.toolCalls,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying registry, mainly for tests.
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime sets the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records an HTTP request
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// SetRegistryStats updates the record gauges.
func (mm *MetricsManager) SetRegistryStats(servicesTotal, servicesOnline, bridgesTotal, bridgesRunning, agentsTotal, agentsRunning int) {
	mm.servicesTotal.Set(float64(servicesTotal))
	mm.servicesOnline.Set(float64(servicesOnline))
	mm.bridgesTotal.Set(float64(bridgesTotal))
	mm.bridgesRunning.Set(float64(bridgesRunning))
	mm.agentsTotal.Set(float64(agentsTotal))
	mm.agentsRunning.Set(float64(agentsRunning))
}

// RecordHealthSweep counts one completed monitor sweep.
func (mm *MetricsManager) RecordHealthSweep() {
	mm.healthSweeps.WithLabelValues("completed").Inc()
}

// RecordServiceCall records a routed OpenAPI operation call.
func (mm *MetricsManager) RecordServiceCall(service, status string) {
	mm.serviceCalls.WithLabelValues(service, status).Inc()
}

// RecordToolCall records a routed MCP tool call.
func (mm *MetricsManager) RecordToolCall(agent, status string) {
	mm.toolCalls.WithLabelValues(agent, status).Inc()
}

// HTTPMiddleware returns middleware that records request metrics.
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			mm.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.statusCode), time.Since(start))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
