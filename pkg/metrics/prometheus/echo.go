package prometheus

import (
	"sync"
	"time"

	"github.com/marmos91/dittoecho/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// echoMetrics is the Prometheus implementation of metrics.EchoMetrics.
type echoMetrics struct {
	connectionsAccepted    prometheus.Counter
	connectionsClosed      *prometheus.CounterVec
	connectionsForceClosed prometheus.Counter
	connectionDuration     *prometheus.HistogramVec
	dispatchFailures       *prometheus.CounterVec
	acceptErrors           prometheus.Counter
	bytesEchoed            prometheus.Counter
	activeWorkers          prometheus.Gauge
}

var (
	echoOnce     sync.Once
	echoInstance *echoMetrics
)

// NewEchoMetrics returns the Prometheus-backed EchoMetrics instance. The
// collectors are registered on first use and shared by later calls.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewEchoMetrics() metrics.EchoMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopEchoMetrics()
	}

	echoOnce.Do(func() {
		echoInstance = newEchoMetrics(metrics.GetRegistry())
	})
	return echoInstance
}

func newEchoMetrics(reg prometheus.Registerer) *echoMetrics {
	return &echoMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoecho_connections_accepted_total",
				Help: "Total number of connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoecho_connections_closed_total",
				Help: "Total number of connections closed, by reason",
			},
			[]string{"reason"},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoecho_connections_force_closed_total",
				Help: "Total number of connections force-closed during shutdown",
			},
		),
		connectionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittoecho_connection_duration_milliseconds",
				Help: "Lifetime of echo connections in milliseconds",
				Buckets: []float64{
					1,      // 1ms
					10,     // 10ms
					100,    // 100ms
					1000,   // 1s
					10000,  // 10s
					100000, // 100s
				},
			},
			[]string{"reason"},
		),
		dispatchFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoecho_dispatch_failures_total",
				Help: "Connections rejected because no worker could be created or queued",
			},
			[]string{"policy"},
		),
		acceptErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoecho_accept_errors_total",
				Help: "Transient accept failures",
			},
		),
		bytesEchoed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoecho_bytes_echoed_total",
				Help: "Total bytes echoed back to clients",
			},
		),
		activeWorkers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittoecho_active_workers",
				Help: "Current number of registered echo workers",
			},
		),
	}
}

func (m *echoMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *echoMetrics) RecordConnectionClosed(reason string, duration time.Duration) {
	m.connectionsClosed.WithLabelValues(reason).Inc()
	m.connectionDuration.WithLabelValues(reason).Observe(duration.Seconds() * 1000) // Convert to milliseconds
}

func (m *echoMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *echoMetrics) RecordDispatchFailure(policy string) {
	m.dispatchFailures.WithLabelValues(policy).Inc()
}

func (m *echoMetrics) RecordAcceptError() {
	m.acceptErrors.Inc()
}

func (m *echoMetrics) RecordBytesEchoed(n int) {
	m.bytesEchoed.Add(float64(n))
}

func (m *echoMetrics) SetActiveWorkers(count int) {
	m.activeWorkers.Set(float64(count))
}
