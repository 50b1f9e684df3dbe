package main

import (
	"net/http"

	"github.com/vyrodovalexey/filterproxy/internal/middleware"
	"github.com/vyrodovalexey/filterproxy/internal/observability"
)

// buildMiddlewareChain wraps the proxy engine. Recovery is outermost so
// that it sees panics from every other layer; RequestID runs before
// Logging so log lines carry the id.
func buildMiddlewareChain(
	handler http.Handler,
	logger observability.Logger,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
) http.Handler {
	h := handler

	h = observability.MetricsMiddleware(metrics)(h)
	h = observability.TracingMiddleware(tracer)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.RequestID()(h)
	h = middleware.Recovery(logger)(h)

	return h
}
