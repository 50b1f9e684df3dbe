package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/filterproxy/internal/filter"
	"github.com/vyrodovalexey/filterproxy/internal/observability"
)

// proxyTracerName is the OpenTelemetry tracer name for proxy operations.
const proxyTracerName = "filterproxy/proxy"

// State is the state of an exchange.
type State int32

const (
	// StateUnsent is the state before the backend answered.
	StateUnsent State = iota
	// StateHeadersReceived means backend headers arrived and the body is untouched.
	StateHeadersReceived
	// StateStreaming means the body is being forwarded.
	StateStreaming
	// StateComplete is terminal: the exchange finished.
	StateComplete
	// StateFailed is terminal: either leg failed.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnsent:
		return "unsent"
	case StateHeadersReceived:
		return "headers_received"
	case StateStreaming:
		return "streaming"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is COMPLETE or FAILED.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Exchange drives one client/backend exchange. It is used once.
type Exchange struct {
	req       *http.Request
	transport Transport
	selector  *filter.Selector
	logger    observability.Logger
	metrics   *ProxyMetrics
	now       func() time.Time
	label     string

	header http.Header

	state atomic.Int32

	mu      sync.Mutex
	pumps   []*Pump
	backend *BackendResponse
	cancel  context.CancelFunc
	err     error
}

// ExchangeOption is a functional option for an exchange.
type ExchangeOption func(*Exchange)

// WithExchangeLogger sets the logger.
func WithExchangeLogger(logger observability.Logger) ExchangeOption {
	return func(e *Exchange) {
		e.logger = logger
	}
}

// WithSelector sets the filter selector. Without one, bodies pass through.
func WithSelector(selector *filter.Selector) ExchangeOption {
	return func(e *Exchange) {
		e.selector = selector
	}
}

// WithExchangeClock sets the time source used for response dates.
func WithExchangeClock(now func() time.Time) ExchangeOption {
	return func(e *Exchange) {
		e.now = now
	}
}

// withTransportLabel sets the transport label used in metrics.
func withTransportLabel(label string) ExchangeOption {
	return func(e *Exchange) {
		e.label = label
	}
}

// NewExchange creates an exchange for the inbound request r.
func NewExchange(r *http.Request, transport Transport, opts ...ExchangeOption) *Exchange {
	e := &Exchange{
		req:       r,
		transport: transport,
		logger:    observability.NopLogger(),
		metrics:   GetProxyMetrics(),
		now:       time.Now,
		label:     transportNetwork,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Header returns the headers that will be sent to the backend. Host is
// not copied from the inbound request; setting it here overrides the
// backend address.
func (e *Exchange) Header() http.Header {
	if e.header == nil {
		e.header = make(http.Header, len(e.req.Header))
		for k, v := range e.req.Header {
			if strings.EqualFold(k, "Host") {
				continue
			}
			e.header[k] = append([]string(nil), v...)
		}
	}
	return e.header
}

// State returns the current state.
func (e *Exchange) State() State {
	return State(e.state.Load())
}

// Err returns the error that failed the exchange, if any.
func (e *Exchange) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Request returns the inbound request.
func (e *Exchange) Request() *http.Request {
	return e.req
}

// Send sends the request to the backend and returns the response once
// its headers arrived. The caller must finish the response with Send or
// Cancel.
func (e *Exchange) Send(ctx context.Context) (*ExchangeResponse, error) {
	ctx, span := otel.Tracer(proxyTracerName).Start(ctx, "proxy.exchange.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", e.req.Method),
			attribute.String("url.path", e.req.URL.Path),
			attribute.String("proxy.transport", e.label),
		),
	)
	defer span.End()

	if _, _, ok := http.ParseHTTPVersion(e.req.Proto); !ok {
		err := NewUnsupportedVersionError(e.req.Proto)
		e.fail(err)
		observability.RecordError(span, err)
		return nil, err
	}

	breq := e.backendRequest()

	if value, ok := badTransferEncoding(e.req); ok {
		err := NewRequestEncodingError(value)
		e.fail(err)
		observability.RecordError(span, err)
		return nil, err
	}

	backendCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	if breq.Body != nil {
		breq.Body = e.pumpRequestBody(backendCtx, breq.Body)
	}

	start := time.Now()
	resp, err := e.transport.RoundTrip(backendCtx, breq)
	e.metrics.backendDuration.WithLabelValues(e.label).Observe(time.Since(start).Seconds())
	if err != nil {
		if prior := e.Err(); prior != nil {
			err = prior
		} else if ctxErr := e.req.Context().Err(); ctxErr != nil {
			err = &ClientError{Op: "send", Cause: ctxErr}
		} else if !IsUpstreamError(err) {
			err = &UpstreamError{Op: "round_trip", Message: "backend request failed", Cause: err}
		}
		e.fail(err)
		observability.RecordError(span, err)
		return nil, err
	}

	e.mu.Lock()
	e.backend = resp
	e.mu.Unlock()

	if !e.state.CompareAndSwap(int32(StateUnsent), int32(StateHeadersReceived)) {
		_ = resp.Body.Close()
		err := e.Err()
		if err == nil {
			err = &ClientError{Op: "send", Cause: ErrPumpStopped}
		}
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return newExchangeResponse(e, resp), nil
}

// Proxy sends the request and forwards the response to w. Error statuses
// are written when nothing was sent yet.
func (e *Exchange) Proxy(ctx context.Context, w http.ResponseWriter) error {
	resp, err := e.Send(ctx)
	if err != nil {
		WriteError(w, err)
		return err
	}
	if err := resp.Send(w); err != nil {
		if !resp.HeadersSent() {
			WriteError(w, err)
		}
		return err
	}
	return nil
}

// backendRequest derives the backend request from the inbound one.
func (e *Exchange) backendRequest() *BackendRequest {
	header := e.Header()

	breq := &BackendRequest{
		Method:        e.req.Method,
		URI:           e.req.URL.RequestURI(),
		Header:        header,
		ContentLength: e.req.ContentLength,
	}
	if host := header.Get("Host"); host != "" {
		breq.Host = host
		header.Del("Host")
	}
	if e.req.Body != nil && e.req.Body != http.NoBody && e.req.ContentLength != 0 {
		breq.Body = e.req.Body
	}
	return breq
}

// pumpRequestBody streams the inbound body to the backend through a pump.
func (e *Exchange) pumpRequestBody(ctx context.Context, body io.Reader) io.Reader {
	pr, pw := io.Pipe()
	pump := NewPump(body, pw, WithPauseHook(func() {
		e.metrics.pumpPausesTotal.WithLabelValues(legRequest).Inc()
	}))
	e.addPump(pump)

	go func() {
		err := pump.Run(ctx)
		var pumpErr *PumpError
		if errors.As(err, &pumpErr) && pumpErr.Side == SideSource {
			// The client failed while sending its body.
			e.fail(&ClientError{Op: "read_request_body", Cause: pumpErr.Err})
		}
		_ = pw.CloseWithError(err)
	}()
	return pr
}

func (e *Exchange) addPump(p *Pump) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pumps = append(e.pumps, p)
	if State(e.state.Load()).Terminal() {
		p.Stop()
	}
}

// stream marks the start of body forwarding.
func (e *Exchange) stream() bool {
	return e.state.CompareAndSwap(int32(StateHeadersReceived), int32(StateStreaming))
}

// complete finishes the exchange successfully. It returns false when the
// exchange already ended.
func (e *Exchange) complete(outcome string) bool {
	for {
		cur := State(e.state.Load())
		if cur.Terminal() {
			return false
		}
		if e.state.CompareAndSwap(int32(cur), int32(StateComplete)) {
			break
		}
	}
	e.release()
	e.metrics.exchangesTotal.WithLabelValues(outcome).Inc()
	return true
}

// fail moves the exchange to FAILED, stops both pumps, cancels the
// backend request and closes the backend body. Only the first call has
// an effect.
func (e *Exchange) fail(err error) bool {
	for {
		cur := State(e.state.Load())
		if cur.Terminal() {
			return false
		}
		if e.state.CompareAndSwap(int32(cur), int32(StateFailed)) {
			break
		}
	}

	e.mu.Lock()
	e.err = err
	e.mu.Unlock()

	e.release()
	e.metrics.exchangesTotal.WithLabelValues(outcomeFailed).Inc()
	e.metrics.errorsTotal.WithLabelValues(errorType(err)).Inc()

	logger := e.logger.WithContext(e.req.Context())
	if IsClientError(err) {
		logger.Debug("exchange aborted by client",
			observability.String("method", e.req.Method),
			observability.String("path", e.req.URL.Path),
			observability.Error(err))
	} else {
		logger.Warn("exchange failed",
			observability.String("method", e.req.Method),
			observability.String("path", e.req.URL.Path),
			observability.Error(err))
	}
	return true
}

// release stops the pumps and frees the backend leg.
func (e *Exchange) release() {
	e.mu.Lock()
	pumps := e.pumps
	e.pumps = nil
	backend := e.backend
	cancel := e.cancel
	e.mu.Unlock()

	for _, p := range pumps {
		p.Stop()
	}
	if backend != nil && backend.Body != nil {
		_ = backend.Body.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// badTransferEncoding returns the first inbound Transfer-Encoding value
// that is not chunked.
func badTransferEncoding(r *http.Request) (string, bool) {
	values := append([]string(nil), r.TransferEncoding...)
	for _, v := range r.Header.Values("Transfer-Encoding") {
		values = append(values, strings.Split(v, ",")...)
	}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !strings.EqualFold(v, "chunked") {
			return v, true
		}
	}
	return "", false
}
