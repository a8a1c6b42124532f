package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/tracebridge/internal/domain/exchange"
)

// Metrics holds all Prometheus metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec

	// Exchange metrics
	ExchangesTotal   *prometheus.CounterVec
	ExchangeDuration *prometheus.HistogramVec
	ChunksSent       *prometheus.CounterVec
	ChunkSize        *prometheus.HistogramVec

	// Engine metrics
	EngineCalls    *prometheus.CounterVec
	EngineDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	WSRejected    prometheus.Counter

	SequenceAnomalies prometheus.Counter

	startTime time.Time
}

var sizeBuckets = []float64{100, 1000, 10000, 100000, 1000000, 10000000, 100000000}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracebridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracebridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracebridge_http_request_size_bytes",
				Help:    "HTTP request body size in bytes",
				Buckets: sizeBuckets,
			},
			[]string{"method", "path"},
		),

		ExchangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracebridge_exchanges_total",
				Help: "Total number of completed exchanges",
			},
			[]string{"transport", "outcome"},
		),
		ExchangeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracebridge_exchange_duration_seconds",
				Help:    "Exchange duration from slot acquisition to release",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"transport"},
		),
		ChunksSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracebridge_chunks_sent_total",
				Help: "Total number of response chunks written",
			},
			[]string{"transport"},
		),
		ChunkSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracebridge_chunk_size_bytes",
				Help:    "Response chunk payload size in bytes",
				Buckets: sizeBuckets,
			},
			[]string{"transport"},
		),

		EngineCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracebridge_engine_calls_total",
				Help: "Total number of engine calls",
			},
			[]string{"method", "status"},
		),
		EngineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracebridge_engine_call_duration_seconds",
				Help:    "Engine call duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"method"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracebridge_ws_connections",
				Help: "Number of open WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracebridge_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction"},
		),
		WSRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracebridge_ws_handshakes_rejected_total",
				Help: "WebSocket handshakes rejected by the origin allow-list",
			},
		),

		SequenceAnomalies: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracebridge_sequence_anomalies_total",
				Help: "Requests observed out of order on the HTTP tunnel",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "tracebridge_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)
	reg.MustRegister(collectors.NewGoCollector())

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
}

// ChunkSent implements exchange.Recorder.
func (m *Metrics) ChunkSent(transport string, size int) {
	m.ChunksSent.WithLabelValues(transport).Inc()
	m.ChunkSize.WithLabelValues(transport).Observe(float64(size))
}

// ExchangeFinished implements exchange.Recorder.
func (m *Metrics) ExchangeFinished(transport string, outcome exchange.Outcome, d time.Duration) {
	m.ExchangesTotal.WithLabelValues(transport, string(outcome)).Inc()
	m.ExchangeDuration.WithLabelValues(transport).Observe(d.Seconds())
}

// RecordEngineCall records one engine invocation.
func (m *Metrics) RecordEngineCall(method string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EngineCalls.WithLabelValues(method, status).Inc()
	m.EngineDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction string) {
	m.WSMessages.WithLabelValues(direction).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// IncWSRejected counts a handshake refused for its origin.
func (m *Metrics) IncWSRejected() {
	m.WSRejected.Inc()
}

// IncSequenceAnomalies counts an out-of-order request.
func (m *Metrics) IncSequenceAnomalies() {
	m.SequenceAnomalies.Inc()
}

var _ exchange.Recorder = (*Metrics)(nil)
