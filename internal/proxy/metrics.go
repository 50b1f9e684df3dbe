package proxy

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exchange outcomes.
const (
	outcomeComplete  = "complete"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

// Transport labels.
const (
	transportNetwork = "network"
	transportReplay  = "replay"
)

// Pump legs.
const (
	legRequest  = "request"
	legResponse = "response"
)

// ProxyMetrics contains Prometheus metrics for proxy operations.
type ProxyMetrics struct {
	exchangesTotal            *prometheus.CounterVec
	errorsTotal               *prometheus.CounterVec
	backendDuration           *prometheus.HistogramVec
	pumpPausesTotal           *prometheus.CounterVec
	bufferedBodies            prometheus.Counter
	circuitBreakerTransitions *prometheus.CounterVec
}

var (
	proxyMetricsInstance *ProxyMetrics
	proxyMetricsOnce     sync.Once
)

// GetProxyMetrics returns the singleton proxy metrics instance.
func GetProxyMetrics() *ProxyMetrics {
	proxyMetricsOnce.Do(func() {
		proxyMetricsInstance = newProxyMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return proxyMetricsInstance
}

// MustRegister registers all proxy metric collectors with the given
// Prometheus registry.
func (m *ProxyMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.exchangesTotal,
		m.errorsTotal,
		m.backendDuration,
		m.pumpPausesTotal,
		m.bufferedBodies,
		m.circuitBreakerTransitions,
	)
}

// Init pre-populates common label combinations with zero values so that
// the series appear in /metrics output immediately after startup.
func (m *ProxyMetrics) Init() {
	for _, outcome := range []string{outcomeComplete, outcomeFailed, outcomeCancelled} {
		m.exchangesTotal.WithLabelValues(outcome)
	}
	for _, et := range []string{"protocol", "upstream", "client", "finalized"} {
		m.errorsTotal.WithLabelValues(et)
	}
	for _, tr := range []string{transportNetwork, transportReplay} {
		m.backendDuration.WithLabelValues(tr)
	}
	for _, leg := range []string{legRequest, legResponse} {
		m.pumpPausesTotal.WithLabelValues(leg)
	}
}

func newProxyMetrics(factory promauto.Factory) *ProxyMetrics {
	return &ProxyMetrics{
		exchangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "filterproxy",
				Subsystem: "proxy",
				Name:      "exchanges_total",
				Help:      "Total number of client/backend exchanges by outcome",
			},
			[]string{"outcome"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "filterproxy",
				Subsystem: "proxy",
				Name:      "errors_total",
				Help:      "Total number of proxy errors",
			},
			[]string{"error_type"},
		),
		backendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "filterproxy",
				Subsystem: "proxy",
				Name:      "backend_duration_seconds",
				Help:      "Time until backend response headers arrived",
				Buckets: []float64{
					.001, .005, .01, .025,
					.05, .1, .25, .5,
					1, 2.5, 5, 10,
				},
			},
			[]string{"transport"},
		),
		pumpPausesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "filterproxy",
				Subsystem: "proxy",
				Name:      "pump_pauses_total",
				Help:      "Total number of times a pump paused its source",
			},
			[]string{"leg"},
		),
		bufferedBodies: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "filterproxy",
				Subsystem: "proxy",
				Name:      "buffered_bodies_total",
				Help:      "Total number of response bodies buffered for lack of a length",
			},
		),
		circuitBreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "filterproxy",
				Subsystem: "proxy",
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of backend circuit breaker state changes",
			},
			[]string{"from", "to"},
		),
	}
}
