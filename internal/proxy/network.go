package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/filterproxy/internal/config"
	"github.com/vyrodovalexey/filterproxy/internal/observability"
	"github.com/vyrodovalexey/filterproxy/internal/util"
)

// Network transport defaults.
const (
	DefaultDialTimeout         = 30 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConnsPerHost = 64
	DefaultTLSHandshakeTimeout = 10 * time.Second
)

// hopHeaders are managed by net/http on the backend connection and are
// not copied from the inbound request.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// NetworkTransport sends requests to the configured backend over HTTP or
// HTTPS, optionally through a forward proxy and a circuit breaker.
type NetworkTransport struct {
	client  *http.Client
	target  *url.URL
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics *ProxyMetrics
}

// NetworkOption is a functional option for the network transport.
type NetworkOption func(*NetworkTransport)

// WithNetworkLogger sets the logger.
func WithNetworkLogger(logger observability.Logger) NetworkOption {
	return func(t *NetworkTransport) {
		t.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client. Redirects are never followed.
func WithHTTPClient(client *http.Client) NetworkOption {
	return func(t *NetworkTransport) {
		t.client = client
	}
}

// NewNetworkTransport creates a transport for cfg's target. TLS to the
// backend trusts any certificate.
func NewNetworkTransport(cfg *config.ProxyConfig, opts ...NetworkOption) (*NetworkTransport, error) {
	scheme := "http"
	if cfg.SSLEnabled() {
		scheme = "https"
	}
	target := &url.URL{Scheme: scheme, Host: cfg.TargetAddress()}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		DisableCompression:  true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // trust-all is the documented useSSL behavior
		},
	}

	if proxyURL := cfg.ForwardProxyURL(); proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, util.NewConfigurationErrorWithCause("proxyHost", "invalid forward proxy", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	t := &NetworkTransport{
		client:  &http.Client{Transport: transport},
		target:  target,
		logger:  observability.NopLogger(),
		metrics: GetProxyMetrics(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	if cfg.CircuitBreaker.Enabled {
		t.breaker = t.newBreaker(cfg.CircuitBreaker)
	}
	return t, nil
}

// Target returns the backend base URL.
func (t *NetworkTransport) Target() string {
	return t.target.String()
}

// BreakerState returns the circuit breaker state, or "disabled".
func (t *NetworkTransport) BreakerState() string {
	if t.breaker == nil {
		return "disabled"
	}
	return t.breaker.State().String()
}

// CloseIdleConnections closes idle backend connections.
func (t *NetworkTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}

// RoundTrip implements Transport.
func (t *NetworkTransport) RoundTrip(ctx context.Context, req *BackendRequest) (*BackendResponse, error) {
	outReq, err := t.newRequest(ctx, req)
	if err != nil {
		return nil, &UpstreamError{Op: "build_request", Target: t.target.Host, Message: "invalid backend request", Cause: err}
	}

	resp, err := t.do(outReq)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %w", util.ErrCircuitOpen, err)
		}
		return nil, &UpstreamError{Op: "round_trip", Target: t.target.Host, Message: "backend request failed", Cause: err}
	}

	return &BackendResponse{
		StatusCode:       resp.StatusCode,
		Status:           reasonPhrase(resp.Status, resp.StatusCode),
		Header:           resp.Header,
		Body:             resp.Body,
		ContentLength:    resp.ContentLength,
		TransferEncoding: resp.TransferEncoding,
	}, nil
}

func (t *NetworkTransport) do(req *http.Request) (*http.Response, error) {
	if t.breaker == nil {
		return t.client.Do(req)
	}
	result, err := t.breaker.Execute(func() (interface{}, error) {
		return t.client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

func (t *NetworkTransport) newRequest(ctx context.Context, req *BackendRequest) (*http.Request, error) {
	u, err := t.target.Parse(req.URI)
	if err != nil {
		return nil, err
	}
	u.Scheme = t.target.Scheme
	u.Host = t.target.Host

	var body io.Reader = http.NoBody
	if req.Body != nil && req.ContentLength != 0 {
		body = req.Body
	}

	outReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if body != http.NoBody {
		// NewRequest leaves ContentLength at 0 for unknown readers, which
		// net/http sends chunked.
		outReq.ContentLength = req.ContentLength
		if req.ContentLength < 0 {
			outReq.ContentLength = 0
		}
	}

	outReq.Header = req.Header.Clone()
	if outReq.Header == nil {
		outReq.Header = make(http.Header)
	}
	for _, h := range hopHeaders {
		outReq.Header.Del(h)
	}
	outReq.Header.Del("Host")
	if req.Host != "" {
		outReq.Host = req.Host
	}
	return outReq, nil
}

func (t *NetworkTransport) newBreaker(cfg config.CircuitBreakerConfig) *gobreaker.CircuitBreaker {
	threshold := safeIntToUint32(cfg.Threshold)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        t.target.Host,
		MaxRequests: 1,
		Timeout:     cfg.Timeout.Duration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			t.logger.Warn("backend circuit breaker state change",
				observability.String("backend", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			t.metrics.circuitBreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
		},
	})
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
