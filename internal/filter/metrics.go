package filter

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fallback reasons.
const (
	fallbackNoRule      = "no_rule"
	fallbackConstructor = "construct_failed"
)

// Transform results.
const (
	resultSuccess = "success"
	resultError   = "error"
)

// FilterMetrics holds Prometheus metrics for filter selection and transforms.
type FilterMetrics struct {
	selectionsTotal   *prometheus.CounterVec
	fallbacksTotal    *prometheus.CounterVec
	transformsTotal   *prometheus.CounterVec
	transformDuration *prometheus.HistogramVec
	poolWait          prometheus.Histogram
	poolActive        prometheus.Gauge
}

var (
	filterMetricsInstance *FilterMetrics
	filterMetricsOnce     sync.Once
)

// GetFilterMetrics returns the singleton filter metrics instance.
func GetFilterMetrics() *FilterMetrics {
	filterMetricsOnce.Do(func() {
		filterMetricsInstance = newFilterMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return filterMetricsInstance
}

// MustRegister registers all filter metric collectors with the given
// Prometheus registry.
func (m *FilterMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.selectionsTotal,
		m.fallbacksTotal,
		m.transformsTotal,
		m.transformDuration,
		m.poolWait,
		m.poolActive,
	)
}

// Init pre-initializes label combinations.
func (m *FilterMetrics) Init() {
	for _, reason := range []string{fallbackNoRule, fallbackConstructor} {
		m.fallbacksTotal.WithLabelValues(reason)
	}
	for _, id := range []string{IDHTML, IDJSON, IDText} {
		m.transformsTotal.WithLabelValues(id, resultSuccess)
		m.transformsTotal.WithLabelValues(id, resultError)
	}
}

func newFilterMetrics(factory promauto.Factory) *FilterMetrics {
	return &FilterMetrics{
		selectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "filterproxy",
				Subsystem: "filter",
				Name:      "selections_total",
				Help:      "Total number of filters selected for responses",
			},
			[]string{"filter"},
		),
		fallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "filterproxy",
				Subsystem: "filter",
				Name:      "fallbacks_total",
				Help:      "Total number of identity filter fallbacks by reason",
			},
			[]string{"reason"},
		),
		transformsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "filterproxy",
				Subsystem: "filter",
				Name:      "transforms_total",
				Help:      "Total number of body transforms",
			},
			[]string{"filter", "result"},
		),
		transformDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "filterproxy",
				Subsystem: "filter",
				Name:      "transform_duration_seconds",
				Help:      "Duration of body transforms in seconds",
				Buckets: []float64{
					.0001, .0005, .001, .005,
					.01, .025, .05, .1, .5,
				},
			},
			[]string{"filter"},
		),
		poolWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "filterproxy",
				Subsystem: "filter",
				Name:      "pool_wait_seconds",
				Help:      "Time spent waiting for a transform worker",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
		poolActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "filterproxy",
				Subsystem: "filter",
				Name:      "pool_active_workers",
				Help:      "Number of transforms currently running in the pool",
			},
		),
	}
}
