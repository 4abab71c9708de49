package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus metrics. Each Metrics instance
// carries its own registry so tests can construct servers freely.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	apiErrorsTotal      *prometheus.CounterVec

	wsConnections prometheus.Gauge
	wsBroadcasts  prometheus.Counter

	commandExecutions *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec

	snapshotDuration prometheus.Histogram
	snapshotRefreshes prometheus.Counter
}

// NewMetrics creates and registers the gateway metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		apiErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"endpoint", "error_type"},
		),
		wsConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_connections_active",
				Help: "Number of authenticated WebSocket connections",
			},
		),
		wsBroadcasts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "websocket_broadcasts_total",
				Help: "Total number of status broadcasts sent",
			},
		),
		commandExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "command_executions_total",
				Help: "Total number of command executions by outcome",
			},
			[]string{"command", "status"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "command_duration_seconds",
				Help:    "Command execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		snapshotDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "status_snapshot_duration_seconds",
				Help:    "Status snapshot collection duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		snapshotRefreshes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "status_snapshot_refreshes_total",
				Help: "Total number of status cache refreshes",
			},
		),
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.apiErrorsTotal,
		m.wsConnections,
		m.wsBroadcasts,
		m.commandExecutions,
		m.commandDuration,
		m.snapshotDuration,
		m.snapshotRefreshes,
	)

	return m
}

// MetricsMiddleware records request counters and latency for every route.
func (m *Metrics) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)

		if c.Writer.Status() >= 400 {
			errorType := "client_error"
			if c.Writer.Status() >= 500 {
				errorType = "server_error"
			}
			m.apiErrorsTotal.WithLabelValues(path, errorType).Inc()
		}
	}
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCommand records one command execution.
func (m *Metrics) ObserveCommand(command, status string, took time.Duration) {
	m.commandExecutions.WithLabelValues(command, status).Inc()
	m.commandDuration.WithLabelValues(command).Observe(took.Seconds())
}

// ObserveSnapshotRefresh records one status cache refresh.
func (m *Metrics) ObserveSnapshotRefresh(took time.Duration) {
	m.snapshotRefreshes.Inc()
	m.snapshotDuration.Observe(took.Seconds())
}

// SetActiveConnections sets the authenticated WebSocket connection gauge.
func (m *Metrics) SetActiveConnections(count float64) {
	m.wsConnections.Set(count)
}

// IncBroadcasts counts one status broadcast.
func (m *Metrics) IncBroadcasts() {
	m.wsBroadcasts.Inc()
}
