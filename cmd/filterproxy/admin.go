package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vyrodovalexey/filterproxy/internal/config"
	"github.com/vyrodovalexey/filterproxy/internal/health"
	"github.com/vyrodovalexey/filterproxy/internal/observability"
)

// Admin endpoint paths besides the configurable metrics path.
const (
	healthPath = "/healthz"
	readyPath  = "/readyz"
)

// createAdminServer creates the admin HTTP server exposing metrics and
// health endpoints.
func createAdminServer(
	port int,
	path string,
	metrics *observability.Metrics,
	healthChecker *health.Checker,
) *http.Server {
	if path == "" {
		path = config.DefaultMetricsPath
	}

	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())
	mux.HandleFunc(healthPath, healthChecker.HealthHandler())
	mux.HandleFunc(readyPath, healthChecker.ReadinessHandler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runAdminServer serves the admin endpoints on ln until the server is
// shut down.
func runAdminServer(server *http.Server, ln net.Listener, logger observability.Logger) {
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("admin server error", observability.Error(err))
	}
}

// startAdminServerIfEnabled starts the admin server if enabled. A port
// that cannot be bound is logged and the proxy keeps running without it.
func startAdminServerIfEnabled(app *application, logger observability.Logger) {
	admin := app.config.Admin
	if !admin.Enabled {
		return
	}

	port := admin.Port
	if port == 0 {
		port = config.DefaultAdminPort
	}

	server := createAdminServer(port, admin.Path, app.metrics, app.healthChecker)
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		logger.Error("failed to start admin server",
			observability.String("address", server.Addr),
			observability.Error(err),
		)
		return
	}

	logger.Info("starting admin server",
		observability.String("address", ln.Addr().String()),
		observability.String("metrics_path", admin.Path),
	)

	app.adminServer = server
	go runAdminServer(server, ln, logger)
}
