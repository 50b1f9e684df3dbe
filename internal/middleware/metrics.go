package middleware

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MiddlewareMetrics holds Prometheus metrics for middleware
// operations.
type MiddlewareMetrics struct {
	panicsRecovered  prometheus.Counter
	abortedResponses prometheus.Counter
}

var (
	middlewareMetrics     *MiddlewareMetrics
	middlewareMetricsOnce sync.Once
)

// GetMiddlewareMetrics returns the singleton middleware metrics
// instance.
func GetMiddlewareMetrics() *MiddlewareMetrics {
	middlewareMetricsOnce.Do(func() {
		middlewareMetrics = newMiddlewareMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return middlewareMetrics
}

// MustRegister registers all middleware metric collectors with the
// given Prometheus registry.
func (m *MiddlewareMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.panicsRecovered,
		m.abortedResponses,
	)
}

func newMiddlewareMetrics(factory promauto.Factory) *MiddlewareMetrics {
	return &MiddlewareMetrics{
		panicsRecovered: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "filterproxy",
				Subsystem: "middleware",
				Name:      "panics_recovered_total",
				Help:      "Total number of panics recovered",
			},
		),
		abortedResponses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "filterproxy",
				Subsystem: "middleware",
				Name:      "aborted_responses_total",
				Help:      "Total number of responses aborted after the status line was sent",
			},
		),
	}
}
