// Package middleware provides the HTTP middleware wrapped around the
// proxy engine.
//
// # Middleware Components
//
//   - RequestID: request identifier injection (X-Request-ID)
//   - Recovery: panic recovery with stack trace logging
//   - Logging: structured access logging
//
// # Usage
//
// Middleware functions follow the standard Go pattern:
//
//	handler := middleware.Recovery(logger)(
//	    middleware.RequestID()(
//	        middleware.Logging(logger)(engine),
//	    ),
//	)
package middleware
