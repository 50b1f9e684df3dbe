package filter

import (
	"context"
	"sync/atomic"

	"github.com/vyrodovalexey/filterproxy/internal/config"
	"github.com/vyrodovalexey/filterproxy/internal/observability"
)

// Selector picks the filter for a response. The registry can be replaced
// at runtime; each Select call sees one registry.
type Selector struct {
	registry atomic.Pointer[Registry]
	pool     *Pool
	logger   observability.Logger
	metrics  *FilterMetrics
}

// SelectorOption is a functional option for the selector.
type SelectorOption func(*Selector)

// WithLogger sets the logger used by the selector and the filters it builds.
func WithLogger(logger observability.Logger) SelectorOption {
	return func(s *Selector) {
		s.logger = logger
	}
}

// WithPool sets the transform pool handed to filters.
func WithPool(pool *Pool) SelectorOption {
	return func(s *Selector) {
		s.pool = pool
	}
}

// NewSelector creates a selector over reg. A nil registry selects
// nothing.
func NewSelector(reg *Registry, opts ...SelectorOption) *Selector {
	s := &Selector{
		logger:  observability.NopLogger(),
		metrics: GetFilterMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if reg == nil {
		reg = NewRegistry(nil)
	}
	s.registry.Store(reg)
	return s
}

// Registry returns the current registry.
func (s *Selector) Registry() *Registry {
	return s.registry.Load()
}

// Swap installs a new registry.
func (s *Selector) Swap(reg *Registry) {
	if reg == nil {
		return
	}
	s.registry.Store(reg)
	s.logger.Info("filter rules replaced",
		observability.Int("rules", reg.Len()))
}

// Select returns a new filter for a response with the given MIME type
// to a request for url. Any lookup or construction failure yields the
// identity filter; only the first matching rule is ever built.
func (s *Selector) Select(ctx context.Context, mimeType, url string, chunked bool) ContentFilter {
	mime := config.NormalizeMimeType(mimeType)
	logger := s.logger.WithContext(ctx)

	reg := s.registry.Load()

	rule, ok := reg.Lookup(mime, url)
	if !ok {
		s.metrics.fallbacksTotal.WithLabelValues(fallbackNoRule).Inc()
		return Identity()
	}

	f, err := reg.Build(rule, Options{
		Chunked: chunked,
		Pool:    s.pool,
		Logger:  s.logger,
	})
	if err != nil {
		s.metrics.fallbacksTotal.WithLabelValues(fallbackConstructor).Inc()
		logger.Error("cannot instantiate filter, using identity",
			observability.String("filter", rule.FilterID),
			observability.String("mimeType", mime),
			observability.String("url", url),
			observability.Error(err))
		return Identity()
	}

	s.metrics.selectionsTotal.WithLabelValues(rule.FilterID).Inc()
	logger.Debug("filter selected",
		observability.String("filter", rule.FilterID),
		observability.String("mimeType", mime),
		observability.String("url", url),
		observability.Bool("chunked", chunked))
	return f
}
