// Package util provides utility functions and types shared by the
// filter proxy packages.
//
// # Error Types
//
// Structured error types for consistent error handling:
//
//   - ConfigurationError: unresolvable filter ids and invalid settings
//   - Sentinels: ErrConfigInvalid, ErrUnknownFilter, ErrCircuitOpen
//
// # HTTP Date Helpers
//
// Parsing and formatting of Date, Expires, Last-Modified,
// If-Modified-Since and Warning header dates:
//
//	t, ok := util.ParseHTTPDate(r.Header.Get("If-Modified-Since"))
//	w.Header().Set("Date", util.FormatHTTPDate(time.Now()))
//
// # HTTP Utilities
//
// Absolute request URIs (the cache key) and a response writer wrapper
// for status code capture:
//
//	key := util.AbsoluteURI(r)
//	w := util.NewStatusCapturingResponseWriter(responseWriter)
package util
