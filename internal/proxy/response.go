package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/filterproxy/internal/cache"
	"github.com/vyrodovalexey/filterproxy/internal/filter"
	"github.com/vyrodovalexey/filterproxy/internal/observability"
	"github.com/vyrodovalexey/filterproxy/internal/util"
)

type responseState int

const (
	responseNew responseState = iota
	responseSet
	responseSent
	responseCancelled
)

// ExchangeResponse is the response that will be sent to the client. It
// is built from a backend response with Set and may be inspected and
// modified until Send or Cancel.
type ExchangeResponse struct {
	exchange *Exchange

	mu          sync.Mutex
	state       responseState
	backend     *BackendResponse
	statusCode  int
	status      string
	header      http.Header
	etag        string
	maxAge      time.Duration
	public      bool
	chunked     bool
	capture     *bytes.Buffer
	headersSent bool
}

func newExchangeResponse(e *Exchange, backend *BackendResponse) *ExchangeResponse {
	r := &ExchangeResponse{exchange: e, header: make(http.Header)}
	r.set(backend)
	return r
}

// Set replaces the backend response. Headers are rebuilt from br and the
// cache directives are derived again.
func (r *ExchangeResponse) Set(br *BackendResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized() {
		return ErrAlreadyFinalized
	}
	if r.backend != nil && r.backend != br && r.backend.Body != nil {
		_ = r.backend.Body.Close()
	}
	r.set(br)
	r.exchange.mu.Lock()
	r.exchange.backend = br
	r.exchange.mu.Unlock()
	return nil
}

func (r *ExchangeResponse) set(br *BackendResponse) {
	r.backend = br
	r.state = responseSet
	r.statusCode = br.StatusCode
	r.status = br.Status
	if r.status == "" {
		r.status = http.StatusText(br.StatusCode)
	}

	src := br.Header
	if src == nil {
		src = make(http.Header)
	}

	r.public, r.maxAge = cacheDirectives(src)
	r.etag = src.Get("ETag")
	r.chunked, _ = transferMode(br.TransferEncodings())

	header := make(http.Header, len(src)+1)

	dateHeader := src.Get("Date")
	date, ok := util.ParseHTTPDate(dateHeader)
	if !ok {
		date, ok = firstWarningDate(src.Values("Warning"))
	}
	if !ok {
		date = r.exchange.now()
	}
	header.Set("Date", util.FormatHTTPDate(date))

	// Warnings dated differently from the response are stale.
	responseDate, hasDate := util.ParseHTTPDate(dateHeader)
	for _, warning := range src.Values("Warning") {
		if hasDate {
			if wd, ok := util.ParseWarningDate(warning); ok && !wd.Equal(responseDate) {
				continue
			}
		}
		header.Add("Warning", warning)
	}

	for name, values := range src {
		switch http.CanonicalHeaderKey(name) {
		case "Date", "Warning", "Transfer-Encoding":
			continue
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}
	r.header = header
}

// cacheDirectives derives the public flag and freshness lifetime of a
// response. Only public responses get a lifetime: max-age when positive,
// otherwise Expires minus Date. A lifetime of -1 means none.
func cacheDirectives(h http.Header) (bool, time.Duration) {
	values := h.Values("Cache-Control")
	if len(values) == 0 {
		return false, -1
	}
	cc := cache.ParseCacheControl(strings.Join(values, ","))
	if !cc.Public {
		return false, -1
	}
	if cc.MaxAge > 0 {
		return true, cc.MaxAge
	}

	date, dateOK := util.ParseHTTPDate(h.Get("Date"))
	expires, expiresOK := util.ParseHTTPDate(h.Get("Expires"))
	if dateOK && expiresOK {
		return true, expires.Sub(date)
	}
	return true, -1
}

// transferMode scans Transfer-Encoding values in order. A chunked value
// ends the scan; any other value is returned as unsupported.
func transferMode(values []string) (chunked bool, unsupported string) {
	for _, value := range values {
		if strings.EqualFold(value, "chunked") {
			return true, ""
		}
		return false, value
	}
	return false, ""
}

func firstWarningDate(warnings []string) (time.Time, bool) {
	for _, w := range warnings {
		if d, ok := util.ParseWarningDate(w); ok {
			return d, true
		}
	}
	return time.Time{}, false
}

// StatusCode returns the status code sent to the client.
func (r *ExchangeResponse) StatusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusCode
}

// SetStatusCode changes the status code sent to the client.
func (r *ExchangeResponse) SetStatusCode(code int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized() {
		return ErrAlreadyFinalized
	}
	r.statusCode = code
	r.status = http.StatusText(code)
	return nil
}

// Status returns the reason phrase.
func (r *ExchangeResponse) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Header returns the headers sent to the client. They may be modified
// before Send.
func (r *ExchangeResponse) Header() http.Header {
	return r.header
}

// ETag returns the backend ETag.
func (r *ExchangeResponse) ETag() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.etag
}

// MaxAge returns the freshness lifetime, or -1.
func (r *ExchangeResponse) MaxAge() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAge
}

// PublicCacheable reports whether Cache-Control marked the response public.
func (r *ExchangeResponse) PublicCacheable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.public
}

// Chunked reports whether the backend sent the body chunked.
func (r *ExchangeResponse) Chunked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunked
}

// HeadersSent reports whether the status line was written to the client.
func (r *ExchangeResponse) HeadersSent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headersSent
}

// CaptureBody records the raw backend body while it is sent.
func (r *ExchangeResponse) CaptureBody() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capture == nil {
		r.capture = new(bytes.Buffer)
	}
}

// CapturedBody returns the raw backend body recorded by CaptureBody.
func (r *ExchangeResponse) CapturedBody() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capture == nil {
		return nil
	}
	return r.capture.Bytes()
}

func (r *ExchangeResponse) finalized() bool {
	return r.state == responseSent || r.state == responseCancelled
}

// Cancel discards the response: headers are cleared and the backend body
// is drained without writing to the client.
func (r *ExchangeResponse) Cancel() error {
	r.mu.Lock()
	if r.finalized() {
		r.mu.Unlock()
		return ErrAlreadyFinalized
	}
	r.state = responseCancelled
	clear(r.header)
	backend := r.backend
	r.mu.Unlock()

	if backend.Body != nil {
		_, _ = io.Copy(io.Discard, backend.Body)
	}
	r.exchange.complete(outcomeCancelled)
	return nil
}

// Send writes the response to w, applying the filter selected for its
// content type. A second call fails with ErrAlreadyFinalized and writes
// nothing.
func (r *ExchangeResponse) Send(w http.ResponseWriter) error {
	r.mu.Lock()
	if r.finalized() {
		r.mu.Unlock()
		return ErrAlreadyFinalized
	}
	r.state = responseSent
	backend := r.backend
	capture := r.capture
	r.mu.Unlock()

	e := r.exchange
	req := e.req
	ctx, span := otel.Tracer(proxyTracerName).Start(req.Context(), "proxy.response.send",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("http.response.status_code", r.statusCode),
			attribute.String("proxy.transport", e.label),
		),
	)
	defer span.End()

	chunked, unsupported := transferMode(backend.TransferEncodings())
	if unsupported != "" {
		err := NewResponseEncodingError(unsupported)
		e.fail(err)
		observability.RecordError(span, err)
		return err
	}

	if !e.stream() {
		if err := e.Err(); err != nil {
			return err
		}
		return &ClientError{Op: "send_response", Cause: ErrPumpStopped}
	}

	contentFilter := filter.Identity()
	if e.selector != nil {
		contentFilter = e.selector.Select(ctx, r.header.Get("Content-Type"), req.URL.RequestURI(), chunked)
	}
	span.SetAttributes(
		attribute.String("filter.name", filter.NameOf(contentFilter)),
		attribute.Bool("http.response.chunked", chunked),
	)

	knownLength := r.header.Get("Content-Length") != ""
	if !filter.IsIdentity(contentFilter) || chunked {
		r.header.Del("Content-Length")
	}

	if req.Method == http.MethodHead {
		r.writeHeader(w)
		e.complete(outcomeComplete)
		return nil
	}

	var body io.Reader = backend.Body
	if body == nil {
		body = http.NoBody
	}
	if capture != nil {
		body = io.TeeReader(body, capture)
	}

	filtered, err := contentFilter.Apply(ctx, body)
	if err != nil {
		filtered = body
	}

	switch {
	case chunked && req.ProtoAtLeast(1, 1), knownLength:
		r.writeHeader(w)
		if err := r.pump(ctx, filtered, w); err != nil {
			observability.RecordError(span, err)
			return err
		}
		if err := contentFilter.End(ctx, w); err != nil {
			err = &ClientError{Op: "write_response", Cause: err}
			e.fail(err)
			return err
		}
	default:
		// No length and no chunked client: the whole body is buffered.
		e.metrics.bufferedBodies.Inc()
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, filtered); err != nil {
			err = &UpstreamError{Op: "read_response_body", Message: "backend body failed", Cause: err}
			e.fail(err)
			observability.RecordError(span, err)
			return err
		}
		if err := contentFilter.End(ctx, &buf); err != nil {
			err = &UpstreamError{Op: "filter_end", Message: "filter failed", Cause: err}
			e.fail(err)
			return err
		}
		r.header.Set("Content-Length", strconv.Itoa(buf.Len()))
		r.writeHeader(w)
		if _, err := w.Write(buf.Bytes()); err != nil {
			err = &ClientError{Op: "write_response", Cause: err}
			e.fail(err)
			return err
		}
	}

	e.complete(outcomeComplete)
	return nil
}

// pump streams src to w and maps pump failures to exchange errors.
func (r *ExchangeResponse) pump(ctx context.Context, src io.Reader, w http.ResponseWriter) error {
	e := r.exchange
	p := NewPump(src, w, WithFlush(), WithPauseHook(func() {
		e.metrics.pumpPausesTotal.WithLabelValues(legResponse).Inc()
	}))
	e.addPump(p)

	err := p.Run(ctx)
	if err == nil {
		return nil
	}

	var pumpErr *PumpError
	switch {
	case errors.As(err, &pumpErr) && pumpErr.Side == SideSource:
		err = &UpstreamError{Op: "read_response_body", Message: "backend body failed", Cause: pumpErr.Err}
	case errors.As(err, &pumpErr):
		err = &ClientError{Op: "write_response", Cause: pumpErr.Err}
	default:
		if prior := e.Err(); prior != nil {
			return prior
		}
		err = &ClientError{Op: "write_response", Cause: err}
	}
	e.fail(err)
	return err
}

func (r *ExchangeResponse) writeHeader(w http.ResponseWriter) {
	dst := w.Header()
	for name, values := range r.header {
		dst[name] = append([]string(nil), values...)
	}

	r.mu.Lock()
	r.headersSent = true
	status := r.statusCode
	r.mu.Unlock()

	w.WriteHeader(status)
}

// Compile-time check that ExchangeResponse can be stored in the cache.
var _ cache.StorableResponse = (*ExchangeResponse)(nil)
