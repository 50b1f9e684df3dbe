package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vyrodovalexey/filterproxy/internal/cache"
	"github.com/vyrodovalexey/filterproxy/internal/config"
	"github.com/vyrodovalexey/filterproxy/internal/filter"
	"github.com/vyrodovalexey/filterproxy/internal/health"
	"github.com/vyrodovalexey/filterproxy/internal/middleware"
	"github.com/vyrodovalexey/filterproxy/internal/observability"
	"github.com/vyrodovalexey/filterproxy/internal/proxy"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers. Bodies are streamed, so there is no read or write timeout.
const readHeaderTimeout = 10 * time.Second

// application holds all application components.
type application struct {
	config        *config.ProxyConfig
	metrics       *observability.Metrics
	reloadMetrics *reloadMetrics
	tracer        *observability.Tracer
	healthChecker *health.Checker
	pool          *filter.Pool
	selector      *filter.Selector
	cache         *cache.ResponseCache
	transport     *proxy.NetworkTransport
	engine        *proxy.Engine
	handler       http.Handler
	server        *http.Server
	adminServer   *http.Server
}

// initApplication initializes all application components.
func initApplication(ctx context.Context, cfg *config.ProxyConfig, logger observability.Logger) *application {
	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		fatalWithSync(logger, "failed to initialize application", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}
	return app
}

// newApplication wires the proxy from cfg. Nothing is started.
func newApplication(ctx context.Context, cfg *config.ProxyConfig, logger observability.Logger) (*application, error) {
	metrics := observability.NewMetrics(observability.DefaultNamespace)
	metrics.SetBuildInfo(version, gitCommit, buildTime)
	registerSubsystemMetrics(metrics)

	tracer, err := initTracer(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	registry := filter.NewRegistry(cfg.Filters)
	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter rules: %w", err)
	}

	pool := filter.NewPool(cfg.Workers.Size)
	selector := filter.NewSelector(registry,
		filter.WithLogger(logger),
		filter.WithPool(pool),
	)

	transport, err := proxy.NewNetworkTransport(cfg, proxy.WithNetworkLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create backend transport: %w", err)
	}

	engineOpts := []proxy.EngineOption{
		proxy.WithLogger(logger),
		proxy.WithFilterSelector(selector),
	}

	var responseCache *cache.ResponseCache
	if cfg.Cache.Enabled {
		responseCache = cache.New(
			cache.WithLogger(logger),
			cache.WithCleanupInterval(cfg.Cache.CleanupInterval.Duration()),
		)
		engineOpts = append(engineOpts, proxy.WithCache(responseCache))
	}

	engine := proxy.NewEngine(transport, engineOpts...)

	app := &application{
		config:        cfg,
		metrics:       metrics,
		tracer:        tracer,
		healthChecker: health.NewChecker(version),
		pool:          pool,
		selector:      selector,
		cache:         responseCache,
		transport:     transport,
		engine:        engine,
	}
	app.reloadMetrics = newReloadMetrics(metrics)
	app.reloadMetrics.filterRules.Set(float64(registry.Len()))
	registerHealthChecks(app)

	app.handler = buildMiddlewareChain(engine, logger, metrics, tracer)
	app.server = &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           app.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.Info("proxy initialized",
		observability.String("listen", cfg.ListenAddress()),
		observability.String("target", transport.Target()),
		observability.Int("workers", pool.Size()),
		observability.Int("filter_rules", registry.Len()),
		observability.Bool("tracing", tracer.Enabled()),
	)

	return app, nil
}

// registerSubsystemMetrics registers the package metric singletons with
// the admin registry. They are created through promauto against the
// default registerer, which /metrics does not serve.
func registerSubsystemMetrics(metrics *observability.Metrics) {
	registry := metrics.Registry()

	proxyMetrics := proxy.GetProxyMetrics()
	proxyMetrics.MustRegister(registry)
	proxyMetrics.Init()

	cacheMetrics := cache.GetCacheMetrics()
	cacheMetrics.MustRegister(registry)
	cacheMetrics.Init()

	filterMetrics := filter.GetFilterMetrics()
	filterMetrics.MustRegister(registry)
	filterMetrics.Init()

	middleware.GetMiddlewareMetrics().MustRegister(registry)
}

// initTracer initializes the tracer.
func initTracer(ctx context.Context, cfg *config.ProxyConfig, logger observability.Logger) (*observability.Tracer, error) {
	serviceName := cfg.Tracing.ServiceName
	if serviceName == "" {
		serviceName = config.DefaultServiceName
	}

	return observability.NewTracer(ctx, observability.TracerConfig{
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
		Logger:       logger,
	})
}

// registerHealthChecks adds the readiness checks of the backend leg and
// the cache.
func registerHealthChecks(app *application) {
	transport := app.transport
	app.healthChecker.RegisterCheck("backend", func() health.Check {
		state := transport.BreakerState()
		switch state {
		case "open":
			return health.Check{Status: health.StatusUnhealthy, Message: "circuit breaker open"}
		case "half-open":
			return health.Check{Status: health.StatusDegraded, Message: "circuit breaker half-open"}
		default:
			return health.Check{Status: health.StatusHealthy, Message: "circuit breaker " + state}
		}
	})

	if app.cache != nil {
		responseCache := app.cache
		app.healthChecker.RegisterCheck("cache", func() health.Check {
			return health.Check{
				Status:  health.StatusHealthy,
				Message: fmt.Sprintf("%d entries", responseCache.Len()),
			}
		})
	}
}
