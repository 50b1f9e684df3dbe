// Package cache provides the in-memory response cache of the filter proxy.
//
// Entries are keyed by the absolute request URI and hold the status,
// headers and raw body of a public, fresh GET response. A stored
// Resource is never mutated; it is replaced by a newer response or
// evicted when it expires or fails ETag revalidation.
//
// ResponseCache does not write cached bodies itself. A hit is handed to
// a Backend, which replays the stored bytes through the same exchange
// pipeline used for live traffic, or revalidates the entry with a
// conditional request first.
//
// # Metrics
//
// Cache metrics are package level singletons registered with the
// default Prometheus registry. Use MustRegister to expose them on a
// custom registry:
//
//	cache.GetCacheMetrics().MustRegister(metrics.Registry())
package cache
