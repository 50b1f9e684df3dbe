package cache

import (
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/filterproxy/internal/observability"
	"github.com/vyrodovalexey/filterproxy/internal/util"
)

// cacheTracerName is the OpenTelemetry tracer name for cache operations.
const cacheTracerName = "filterproxy/cache"

// Backend answers a client from a cached resource. It is implemented by
// the proxy engine so that cached bytes travel the same response path as
// live traffic.
type Backend interface {
	// Revalidate issues a conditional request for res (If-None-Match) and
	// answers the client, replaying res when the backend confirms it.
	Revalidate(w http.ResponseWriter, r *http.Request, res *Resource)

	// Replay answers the client from res without contacting the backend.
	Replay(w http.ResponseWriter, r *http.Request, res *Resource)
}

// ResponseCache is the in-memory response cache.
type ResponseCache struct {
	store           *Store
	logger          observability.Logger
	metrics         *CacheMetrics
	now             func() time.Time
	cleanupInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option is a functional option for the response cache.
type Option func(*ResponseCache)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *ResponseCache) {
		c.logger = logger
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) {
		c.now = now
	}
}

// WithCleanupInterval enables a periodic sweep of expired entries.
func WithCleanupInterval(interval time.Duration) Option {
	return func(c *ResponseCache) {
		c.cleanupInterval = interval
	}
}

// WithStore sets the backing store.
func WithStore(store *Store) Option {
	return func(c *ResponseCache) {
		c.store = store
	}
}

// New creates a response cache. Call Start to run the cleanup sweep.
func New(opts ...Option) *ResponseCache {
	c := &ResponseCache{
		store:   NewStore(),
		logger:  observability.NopLogger(),
		metrics: GetCacheMetrics(),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the background sweep when a cleanup interval is configured.
func (c *ResponseCache) Start() {
	if c.cleanupInterval <= 0 {
		return
	}
	c.wg.Add(1)
	go c.cleanupLoop()

	c.logger.Info("response cache sweep started",
		observability.Duration("interval", c.cleanupInterval))
}

// Close stops the background sweep. It is safe to call more than once.
func (c *ResponseCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	return nil
}

// Len returns the number of cached resources.
func (c *ResponseCache) Len() int {
	return c.store.Len()
}

// Lookup returns the resource cached for the request, if any. Expiry is
// not checked.
func (c *ResponseCache) Lookup(r *http.Request) (*Resource, bool) {
	return c.store.Get(util.AbsoluteURI(r))
}

// TryServe answers the request from the cache. It returns false when the
// request must be sent to the backend uncached. Only GET and HEAD
// requests are looked up.
func (c *ResponseCache) TryServe(w http.ResponseWriter, r *http.Request, backend Backend) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		c.metrics.lookupsTotal.WithLabelValues(outcomeBypass).Inc()
		return false
	}

	key := util.AbsoluteURI(r)
	ctx, span := otel.Tracer(cacheTracerName).Start(r.Context(), "cache.TryServe",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	logger := c.logger.WithContext(ctx)

	res, ok := c.store.Get(key)
	if !ok {
		c.miss(span)
		return false
	}

	now := c.now()
	if res.Expired(now) {
		c.Evict(key, res, EvictExpired)
		logger.Debug("cached resource expired",
			observability.String("key", key),
			observability.Time("expiresAt", res.ExpiresAt()))
		c.miss(span)
		return false
	}

	if maxAge, ok := ParseRequestMaxAge(r.Header.Get("Cache-Control")); ok && res.Age(now) > maxAge {
		if res.ETag == "" {
			c.metrics.revalidationsTotal.WithLabelValues(revalidationWithoutETag).Inc()
			logger.Debug("cached resource too old for client and has no etag",
				observability.String("key", key),
				observability.Duration("age", res.Age(now)),
				observability.Duration("maxAge", maxAge))
			c.miss(span)
			return false
		}

		c.metrics.lookupsTotal.WithLabelValues(outcomeRevalidate).Inc()
		span.SetAttributes(attribute.String("cache.outcome", outcomeRevalidate))
		backend.Revalidate(w, r.WithContext(ctx), res)
		return true
	}

	if c.notModified(r, res) {
		c.metrics.lookupsTotal.WithLabelValues(outcomeNotModified).Inc()
		span.SetAttributes(attribute.String("cache.outcome", outcomeNotModified))
		writeNotModified(w, res, now)
		return true
	}

	c.metrics.lookupsTotal.WithLabelValues(outcomeReplay).Inc()
	span.SetAttributes(attribute.String("cache.outcome", outcomeReplay))
	backend.Replay(w, r.WithContext(ctx), res)
	return true
}

// notModified reports whether If-Modified-Since covers the resource's Last-Modified.
func (c *ResponseCache) notModified(r *http.Request, res *Resource) bool {
	ims := r.Header.Get("If-Modified-Since")
	if ims == "" || !res.HasLastModified() {
		return false
	}
	since, ok := util.ParseHTTPDate(ims)
	if !ok {
		return false
	}
	return !res.LastModified.After(since)
}

func writeNotModified(w http.ResponseWriter, res *Resource, now time.Time) {
	h := w.Header()
	h.Set("Date", util.FormatHTTPDate(now))
	if res.ETag != "" {
		h.Set("ETag", res.ETag)
	}
	if res.HasLastModified() {
		h.Set("Last-Modified", util.FormatHTTPDate(res.LastModified))
	}
	w.WriteHeader(http.StatusNotModified)
}

func (c *ResponseCache) miss(span trace.Span) {
	c.metrics.lookupsTotal.WithLabelValues(outcomeMiss).Inc()
	span.SetAttributes(attribute.String("cache.outcome", outcomeMiss))
}

// Cacheable reports whether a response to r may be stored: the request
// is a GET and the response is public with a positive max-age.
func Cacheable(r *http.Request, resp StorableResponse) bool {
	return r.Method == http.MethodGet && resp.PublicCacheable() && resp.MaxAge() > 0
}

// MaybeStore stores the response when it is cacheable and reports whether
// it did.
func (c *ResponseCache) MaybeStore(r *http.Request, resp StorableResponse, body []byte) bool {
	if !Cacheable(r, resp) {
		return false
	}

	res := NewResource(util.AbsoluteURI(r), resp, body, c.now())
	c.store.Put(res)

	c.metrics.storesTotal.Inc()
	c.metrics.storedBytes.Observe(float64(len(res.Body)))
	c.metrics.entries.Set(float64(c.store.Len()))

	c.logger.WithContext(r.Context()).Debug("response cached",
		observability.String("key", res.URI),
		observability.Duration("maxAge", res.MaxAge),
		observability.Int("bytes", len(res.Body)))
	return true
}

// Revalidate checks the ETag returned by a conditional request against
// res. On mismatch the entry is evicted.
func (c *ResponseCache) Revalidate(res *Resource, etag string) bool {
	if res.Revalidate(etag) {
		c.metrics.revalidationsTotal.WithLabelValues(revalidationValid).Inc()
		return true
	}
	c.metrics.revalidationsTotal.WithLabelValues(revalidationInvalid).Inc()
	c.Evict(res.URI, res, EvictRevalidationFailed)
	return false
}

// Evict removes res from the cache unless a newer entry replaced it.
func (c *ResponseCache) Evict(key string, res *Resource, reason string) {
	if c.store.DeleteIf(key, res) {
		c.metrics.evictionsTotal.WithLabelValues(reason).Inc()
		c.metrics.entries.Set(float64(c.store.Len()))
	}
}

// Sweep removes every expired entry.
func (c *ResponseCache) Sweep() int {
	removed := c.store.Sweep(c.now())
	if removed > 0 {
		c.metrics.evictionsTotal.WithLabelValues(EvictSweep).Add(float64(removed))
		c.metrics.entries.Set(float64(c.store.Len()))
		c.logger.Debug("expired cache entries removed",
			observability.Int("count", removed))
	}
	return removed
}

func (c *ResponseCache) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stopCh:
			return
		}
	}
}
