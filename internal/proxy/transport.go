package proxy

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// BackendRequest is the request sent to the backend.
type BackendRequest struct {
	Method string

	// URI is the request target: path and query.
	URI string

	// Host overrides the Host header; empty means the backend address.
	Host string

	Header http.Header

	// Body is nil when the request has no body.
	Body io.Reader

	// ContentLength is -1 when unknown.
	ContentLength int64
}

// BackendResponse is the response received from the backend, live or
// replayed.
type BackendResponse struct {
	StatusCode int

	// Status is the reason phrase.
	Status string

	Header http.Header
	Body   io.ReadCloser

	// ContentLength is -1 when unknown.
	ContentLength int64

	// TransferEncoding lists the encodings applied to the body, outermost first.
	TransferEncoding []string
}

// TransferEncodings returns the Transfer-Encoding values of the response
// from both the parsed field and the header map.
func (r *BackendResponse) TransferEncodings() []string {
	values := append([]string(nil), r.TransferEncoding...)
	for _, v := range r.Header.Values("Transfer-Encoding") {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
	}
	return values
}

// Transport delivers a backend request and returns the response once its
// headers are available. The body is read by the caller.
type Transport interface {
	RoundTrip(ctx context.Context, req *BackendRequest) (*BackendResponse, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *BackendRequest) (*BackendResponse, error)

// RoundTrip calls f(ctx, req).
func (f TransportFunc) RoundTrip(ctx context.Context, req *BackendRequest) (*BackendResponse, error) {
	return f(ctx, req)
}

// reasonPhrase strips the status code from an http.Response status line.
func reasonPhrase(status string, code int) string {
	if _, rest, ok := strings.Cut(status, " "); ok {
		return rest
	}
	if status != "" {
		return status
	}
	return http.StatusText(code)
}
