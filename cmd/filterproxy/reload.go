package main

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/filterproxy/internal/config"
	"github.com/vyrodovalexey/filterproxy/internal/filter"
	"github.com/vyrodovalexey/filterproxy/internal/observability"
)

// Reload results.
const (
	reloadSuccess = "success"
	reloadError   = "error"
)

// reloadMetrics contains metrics for configuration reload operations.
type reloadMetrics struct {
	configReloadTotal       *prometheus.CounterVec
	configReloadDuration    prometheus.Histogram
	configReloadLastSuccess prometheus.Gauge
	configWatcherStatus     prometheus.Gauge
	filterRules             prometheus.Gauge
}

// newReloadMetrics creates reload metrics and registers them with the
// admin registry.
func newReloadMetrics(m *observability.Metrics) *reloadMetrics {
	rm := &reloadMetrics{
		configReloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: observability.DefaultNamespace,
				Name:      "config_reload_total",
				Help:      "Total number of configuration reload attempts by result",
			},
			[]string{"result"},
		),
		configReloadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: observability.DefaultNamespace,
				Name:      "config_reload_duration_seconds",
				Help:      "Duration of configuration reload operations",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		configReloadLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: observability.DefaultNamespace,
				Name:      "config_reload_last_success_timestamp",
				Help:      "Unix timestamp of the last successful configuration reload",
			},
		),
		configWatcherStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: observability.DefaultNamespace,
				Name:      "config_watcher_running",
				Help:      "Whether the configuration watcher is running (1) or not (0)",
			},
		),
		filterRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: observability.DefaultNamespace,
				Name:      "filter_rules",
				Help:      "Number of filter rules currently installed",
			},
		),
	}

	m.MustRegisterCollector(rm.configReloadTotal)
	m.MustRegisterCollector(rm.configReloadDuration)
	m.MustRegisterCollector(rm.configReloadLastSuccess)
	m.MustRegisterCollector(rm.configWatcherStatus)
	m.MustRegisterCollector(rm.filterRules)

	rm.configReloadTotal.WithLabelValues(reloadSuccess)
	rm.configReloadTotal.WithLabelValues(reloadError)

	return rm
}

// startConfigWatcher starts the configuration watcher. A watcher that
// cannot be created or started is logged; the proxy keeps the startup
// configuration.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	rm := app.reloadMetrics
	reloader := newConfigReloader(app, logger)

	watcher, err := config.NewWatcher(configPath, reloader.apply,
		config.WithLogger(logger),
		config.WithErrorCallback(func(error) {
			rm.configReloadTotal.WithLabelValues(reloadError).Inc()
		}),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		rm.configWatcherStatus.Set(0)
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		rm.configWatcherStatus.Set(0)
		return watcher
	}

	rm.configWatcherStatus.Set(1)
	return watcher
}

// configReloader applies reloaded configurations. Only the filter rules
// are hot-reloaded: listener, backend, cache, pool, breaker, admin and
// tracing settings are bound at startup.
type configReloader struct {
	app    *application
	logger observability.Logger

	mu      sync.Mutex
	current *config.ProxyConfig
}

func newConfigReloader(app *application, logger observability.Logger) *configReloader {
	return &configReloader{
		app:     app,
		logger:  logger,
		current: app.config,
	}
}

// apply installs the filter rules of newCfg. An invalid rule set is
// rejected and the running rules stay in place.
func (r *configReloader) apply(newCfg *config.ProxyConfig) {
	start := time.Now()
	rm := r.app.reloadMetrics

	r.mu.Lock()
	defer r.mu.Unlock()

	registry := filter.NewRegistry(newCfg.Filters)
	if err := registry.Validate(); err != nil {
		r.logger.Error("rejected reloaded filter rules, keeping the current ones",
			observability.Error(err),
		)
		rm.configReloadTotal.WithLabelValues(reloadError).Inc()
		rm.configReloadDuration.Observe(time.Since(start).Seconds())
		return
	}

	if changed := restartRequired(r.current, newCfg); len(changed) > 0 {
		r.logger.Warn("configuration changes require a restart to take effect",
			observability.Strings("sections", changed),
		)
	}

	r.app.selector.Swap(registry)
	r.current = newCfg

	rm.filterRules.Set(float64(registry.Len()))
	rm.configReloadTotal.WithLabelValues(reloadSuccess).Inc()
	rm.configReloadDuration.Observe(time.Since(start).Seconds())
	rm.configReloadLastSuccess.SetToCurrentTime()
}

// restartRequired lists the sections that differ between two
// configurations and are not hot-reloaded.
func restartRequired(oldCfg, newCfg *config.ProxyConfig) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}

	sections := []struct {
		name     string
		old, new interface{}
	}{
		{"port", oldCfg.Port, newCfg.Port},
		{"target", oldCfg.TargetAddress(), newCfg.TargetAddress()},
		{"useSSL", oldCfg.SSLEnabled(), newCfg.SSLEnabled()},
		{"proxy", oldCfg.ForwardProxyURL(), newCfg.ForwardProxyURL()},
		{"shutdownTimeout", oldCfg.ShutdownTimeout, newCfg.ShutdownTimeout},
		{"cache", oldCfg.Cache, newCfg.Cache},
		{"workers", oldCfg.Workers, newCfg.Workers},
		{"circuitBreaker", oldCfg.CircuitBreaker, newCfg.CircuitBreaker},
		{"log", oldCfg.Log, newCfg.Log},
		{"admin", oldCfg.Admin, newCfg.Admin},
		{"tracing", oldCfg.Tracing, newCfg.Tracing},
	}

	var changed []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			changed = append(changed, s.name)
		}
	}
	return changed
}
