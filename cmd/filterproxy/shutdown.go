package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/filterproxy/internal/config"
	"github.com/vyrodovalexey/filterproxy/internal/observability"
)

// runProxy runs the proxy until SIGINT or SIGTERM and then shuts down.
func runProxy(app *application, configPath string, logger observability.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app, configPath, logger); err != nil {
		fatalWithSync(logger, "proxy stopped with error", observability.Error(err))
	}
}

// run starts the listeners and the config watcher, blocks until ctx is
// done or the proxy server fails, and then shuts everything down.
func run(ctx context.Context, app *application, configPath string, logger observability.Logger) error {
	ln, err := net.Listen("tcp", app.server.Addr)
	if err != nil {
		shutdown(app, nil, logger)
		return err
	}

	return serve(ctx, app, ln, configPath, logger)
}

// serve runs the proxy on ln.
func serve(
	ctx context.Context,
	app *application,
	ln net.Listener,
	configPath string,
	logger observability.Logger,
) error {
	if app.cache != nil {
		app.cache.Start()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("proxy listening",
			observability.String("address", ln.Addr().String()),
			observability.String("target", app.transport.Target()),
		)
		if err := app.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	startAdminServerIfEnabled(app, logger)

	var watcher *config.Watcher
	if configPath != "" {
		watcher = startConfigWatcher(ctx, app, configPath, logger)
	}

	err := waitForShutdown(ctx, serveErr, logger)
	shutdown(app, watcher, logger)
	return err
}

// waitForShutdown blocks until ctx is done or the proxy server fails.
func waitForShutdown(ctx context.Context, serveErr <-chan error, logger observability.Logger) error {
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		return nil
	case err, ok := <-serveErr:
		if ok && err != nil {
			logger.Error("proxy server error", observability.Error(err))
			return err
		}
		return nil
	}
}

// shutdown drains in-flight exchanges and releases resources. Readiness
// fails first so load balancers stop routing new traffic.
func shutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	app.healthChecker.SetDraining(true)

	timeout := app.config.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("failed to stop config watcher", observability.Error(err))
		}
		app.reloadMetrics.configWatcherStatus.Set(0)
	}

	logger.Info("stopping proxy server",
		observability.Duration("timeout", timeout),
	)
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop proxy server gracefully", observability.Error(err))
		_ = app.server.Close()
	}

	if app.adminServer != nil {
		logger.Info("stopping admin server")
		if err := app.adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop admin server gracefully", observability.Error(err))
		}
	}

	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			logger.Error("failed to close response cache", observability.Error(err))
		}
	}

	app.transport.CloseIdleConnections()

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("filterproxy stopped")
}
