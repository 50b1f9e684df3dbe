package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Eviction reasons.
const (
	EvictExpired            = "expired"
	EvictRevalidationFailed = "revalidation_failed"
	EvictSweep              = "sweep"
)

// Revalidation results.
const (
	revalidationValid       = "valid"
	revalidationInvalid     = "invalid"
	revalidationWithoutETag = "no_etag"
)

// Lookup outcomes.
const (
	outcomeReplay      = "replay"
	outcomeNotModified = "not_modified"
	outcomeRevalidate  = "revalidate"
	outcomeMiss        = "miss"
	outcomeBypass      = "bypass"
)

// CacheMetrics holds Prometheus metrics for the response cache.
type CacheMetrics struct {
	lookupsTotal       *prometheus.CounterVec
	evictionsTotal     *prometheus.CounterVec
	revalidationsTotal *prometheus.CounterVec
	storesTotal        prometheus.Counter
	entries            prometheus.Gauge
	storedBytes        prometheus.Histogram
}

var (
	cacheMetricsInstance *CacheMetrics
	cacheMetricsOnce     sync.Once
)

// GetCacheMetrics returns the singleton cache metrics instance.
func GetCacheMetrics() *CacheMetrics {
	cacheMetricsOnce.Do(func() {
		cacheMetricsInstance = newCacheMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return cacheMetricsInstance
}

// MustRegister registers all cache metric collectors with the given
// Prometheus registry. promauto registers with the default global
// registry while the admin server serves /metrics from its own.
func (m *CacheMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.lookupsTotal,
		m.evictionsTotal,
		m.revalidationsTotal,
		m.storesTotal,
		m.entries,
		m.storedBytes,
	)
}

// Init pre-initializes label combinations so the series are exported
// before the first request.
func (m *CacheMetrics) Init() {
	for _, outcome := range []string{outcomeReplay, outcomeNotModified, outcomeRevalidate, outcomeMiss, outcomeBypass} {
		m.lookupsTotal.WithLabelValues(outcome)
	}
	for _, reason := range []string{EvictExpired, EvictRevalidationFailed, EvictSweep} {
		m.evictionsTotal.WithLabelValues(reason)
	}
	for _, result := range []string{revalidationValid, revalidationInvalid, revalidationWithoutETag} {
		m.revalidationsTotal.WithLabelValues(result)
	}
}

func newCacheMetrics(factory promauto.Factory) *CacheMetrics {
	return &CacheMetrics{
		lookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "filterproxy",
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Total number of cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		evictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "filterproxy",
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Total number of cache evictions by reason",
			},
			[]string{"reason"},
		),
		revalidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "filterproxy",
				Subsystem: "cache",
				Name:      "revalidations_total",
				Help:      "Total number of ETag revalidations by result",
			},
			[]string{"result"},
		),
		storesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "filterproxy",
				Subsystem: "cache",
				Name:      "stores_total",
				Help:      "Total number of responses stored",
			},
		),
		entries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "filterproxy",
				Subsystem: "cache",
				Name:      "entries",
				Help:      "Current number of cached resources",
			},
		),
		storedBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "filterproxy",
				Subsystem: "cache",
				Name:      "stored_body_bytes",
				Help:      "Size of stored response bodies",
				Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
			},
		),
	}
}
