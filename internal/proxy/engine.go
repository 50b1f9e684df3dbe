package proxy

import (
	"net/http"
	"time"

	"github.com/vyrodovalexey/filterproxy/internal/cache"
	"github.com/vyrodovalexey/filterproxy/internal/filter"
	"github.com/vyrodovalexey/filterproxy/internal/observability"
)

// Engine is the proxy entry point. Each request is answered from the
// cache when possible and otherwise exchanged with the backend.
type Engine struct {
	transport Transport
	selector  *filter.Selector
	cache     *cache.ResponseCache
	logger    observability.Logger
	now       func() time.Time
}

// EngineOption is a functional option for the engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithCache enables the response cache.
func WithCache(c *cache.ResponseCache) EngineOption {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithFilterSelector sets the selector choosing response filters.
func WithFilterSelector(selector *filter.Selector) EngineOption {
	return func(e *Engine) {
		e.selector = selector
	}
}

// WithClock sets the time source for response dates.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine sending live traffic through transport.
func NewEngine(transport Transport, opts ...EngineOption) *Engine {
	e := &Engine{
		transport: transport,
		logger:    observability.NopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ServeHTTP implements http.Handler.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if e.cache != nil && e.cache.TryServe(w, r, e) {
		return
	}
	e.forward(w, r)
}

// Replay answers r from res through the regular response path.
func (e *Engine) Replay(w http.ResponseWriter, r *http.Request, res *cache.Resource) {
	exchange := e.newExchange(r, NewReplayTransport(res), withTransportLabel(transportReplay))

	resp, err := exchange.Send(r.Context())
	if err != nil {
		e.handleError(w, err, false)
		return
	}
	if err := resp.Send(w); err != nil {
		e.handleError(w, err, resp.HeadersSent())
	}
}

// Revalidate asks the backend whether res is still current. A confirmed
// resource is replayed and an ETag mismatch evicts it and fetches the
// resource again. Any other backend answer is sent to the client as is.
func (e *Engine) Revalidate(w http.ResponseWriter, r *http.Request, res *cache.Resource) {
	logger := e.logger.WithContext(r.Context())

	exchange := e.newExchange(r, e.transport)
	exchange.Header().Set("If-None-Match", res.ETag)

	resp, err := exchange.Send(r.Context())
	if err != nil {
		e.handleError(w, err, false)
		return
	}

	status := resp.StatusCode()
	if status != http.StatusOK && status != http.StatusNotModified {
		logger.Debug("cached resource revalidation answered without a verdict",
			observability.String("key", res.URI),
			observability.Int("status", status))
		if err := resp.Send(w); err != nil {
			e.handleError(w, err, resp.HeadersSent())
		}
		return
	}

	_ = resp.Cancel()
	if e.cache.Revalidate(res, resp.ETag()) {
		logger.Debug("cached resource revalidated",
			observability.String("key", res.URI),
			observability.Int("status", status))
		e.Replay(w, r, res)
		return
	}

	logger.Debug("cached resource changed, fetching again",
		observability.String("key", res.URI),
		observability.String("etag", resp.ETag()))
	e.forward(w, r)
}

// forward exchanges r with the backend and stores a cacheable response.
func (e *Engine) forward(w http.ResponseWriter, r *http.Request) {
	exchange := e.newExchange(r, e.transport)

	resp, err := exchange.Send(r.Context())
	if err != nil {
		e.handleError(w, err, false)
		return
	}

	store := e.cache != nil && cache.Cacheable(r, resp)
	if store {
		resp.CaptureBody()
	}

	if err := resp.Send(w); err != nil {
		e.handleError(w, err, resp.HeadersSent())
		return
	}

	if store {
		e.cache.MaybeStore(r, resp, resp.CapturedBody())
	}
}

func (e *Engine) newExchange(r *http.Request, transport Transport, opts ...ExchangeOption) *Exchange {
	base := []ExchangeOption{
		WithExchangeLogger(e.logger),
		WithSelector(e.selector),
		WithExchangeClock(e.now),
	}
	return NewExchange(r, transport, append(base, opts...)...)
}

// handleError answers the client for a failed exchange. When the status
// line was already sent, a backend failure aborts the client connection.
func (e *Engine) handleError(w http.ResponseWriter, err error, headersSent bool) {
	if !headersSent {
		WriteError(w, err)
		return
	}
	if IsUpstreamError(err) {
		panic(http.ErrAbortHandler)
	}
}
