// Package metrics provides Prometheus metrics for shakeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "shakeline"
)

// Metrics contains all Prometheus metrics for a shakeline process.
type Metrics struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	ConnectionsClosed *prometheus.CounterVec

	// Handshake metrics
	HandshakeLatency prometheus.Histogram
	HandshakeErrors  *prometheus.CounterVec

	// Login metrics
	LoginAttempts  prometheus.Counter
	LoginSuccesses prometheus.Counter
	LoginFailures  *prometheus.CounterVec
	LoginLatency   prometheus.Histogram

	// Frame metrics
	FramesSent     prometheus.Counter
	FramesReceived prometheus.Counter
	FrameErrors    *prometheus.CounterVec
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter

	// Acceptor metrics
	AcceptThrottled prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance, registered against the
// global Prometheus registerer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry,
// so tests and multiple in-process instances don't collide on registration.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently live connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of connections accepted or dialed",
		}),
		ConnectionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Total connections closed, by reason",
		}, []string{"reason"}),

		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Histogram of DH transport-key handshake latency",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		HandshakeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_errors_total",
			Help:      "Total handshake errors by type",
		}, []string{"error_type"}),

		LoginAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Total login attempts started",
		}),
		LoginSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_successes_total",
			Help:      "Total logins that reached VERIFIED",
		}),
		LoginFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_failures_total",
			Help:      "Total login failures by terminal error code",
		}, []string{"error_code"}),
		LoginLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "login_latency_seconds",
			Help:      "Histogram of time from LOGIN to VERIFIED",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total framed datagrams sent",
		}),
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total framed datagrams received",
		}),
		FrameErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Total framing failures collapsed to (nil, false), by stage",
		}, []string{"stage"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total ciphertext bytes written to connections",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total ciphertext bytes read from connections",
		}),

		AcceptThrottled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_throttled_total",
			Help:      "Total connection attempts delayed by the accept-rate limiter",
		}),
	}
}

// RecordConnect records a new connection, either accepted or dialed.
func (m *Metrics) RecordConnect() {
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

// RecordDisconnect records a connection closing for the given reason
// (e.g. "eof", "frame_error", "ctx_done").
func (m *Metrics) RecordDisconnect(reason string) {
	m.ConnectionsActive.Dec()
	m.ConnectionsClosed.WithLabelValues(reason).Inc()
}

// RecordHandshake records a completed DH handshake.
func (m *Metrics) RecordHandshake(latencySeconds float64) {
	m.HandshakeLatency.Observe(latencySeconds)
}

// RecordHandshakeError records a handshake failure by type.
func (m *Metrics) RecordHandshakeError(errorType string) {
	m.HandshakeErrors.WithLabelValues(errorType).Inc()
}

// RecordLoginAttempt records the start of a login state machine run.
func (m *Metrics) RecordLoginAttempt() {
	m.LoginAttempts.Inc()
}

// RecordLoginSuccess records a login reaching VERIFIED.
func (m *Metrics) RecordLoginSuccess(latencySeconds float64) {
	m.LoginSuccesses.Inc()
	m.LoginLatency.Observe(latencySeconds)
}

// RecordLoginFailure records a login ending in a terminal error, labelled
// with the caller's description of the error code (serverconn passes the
// wire.ErrorInfo text, e.g. "bad credentials").
func (m *Metrics) RecordLoginFailure(errorCode string) {
	m.LoginFailures.WithLabelValues(errorCode).Inc()
}

// RecordFrameSent records a framed datagram write.
func (m *Metrics) RecordFrameSent(bytes int) {
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(bytes))
}

// RecordFrameReceived records a framed datagram read.
func (m *Metrics) RecordFrameReceived(bytes int) {
	m.FramesReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordFrameError records a framing failure at the given stage
// ("length_prefix", "decrypt", "base85", "json", "oversize").
func (m *Metrics) RecordFrameError(stage string) {
	m.FrameErrors.WithLabelValues(stage).Inc()
}

// RecordAcceptThrottled records the accept loop delaying a connection.
func (m *Metrics) RecordAcceptThrottled() {
	m.AcceptThrottled.Inc()
}
