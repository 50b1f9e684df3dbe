package cache

import (
	"net/http"
	"time"

	"github.com/vyrodovalexey/filterproxy/internal/util"
)

// StorableResponse is the view of a proxied response needed to decide
// whether and how it is stored.
type StorableResponse interface {
	StatusCode() int
	Status() string
	Header() http.Header
	PublicCacheable() bool
	MaxAge() time.Duration
	// Chunked reports whether the backend sent the body chunked.
	Chunked() bool
}

// Resource is a cached response. It is immutable once stored: callers
// must not modify Header or Body.
type Resource struct {
	URI          string
	StatusCode   int
	Status       string
	Header       http.Header
	Body         []byte
	CreatedAt    time.Time
	MaxAge       time.Duration
	ETag         string
	LastModified time.Time
	// Chunked is set when the backend sent the body chunked. A replay
	// uses the same transfer mode so filters see the body the same way.
	Chunked bool
}

// NewResource builds a Resource from a response and its raw body. Header
// and body are copied.
func NewResource(uri string, resp StorableResponse, body []byte, createdAt time.Time) *Resource {
	header := resp.Header().Clone()
	if header == nil {
		header = make(http.Header)
	}

	res := &Resource{
		URI:        uri,
		StatusCode: resp.StatusCode(),
		Status:     resp.Status(),
		Header:     header,
		Body:       append([]byte(nil), body...),
		CreatedAt:  createdAt,
		MaxAge:     resp.MaxAge(),
		ETag:       header.Get("ETag"),
		Chunked:    resp.Chunked(),
	}
	if lm, ok := util.ParseHTTPDate(header.Get("Last-Modified")); ok {
		res.LastModified = lm
	}
	return res
}

// ExpiresAt returns the instant at which the resource stops being fresh.
func (r *Resource) ExpiresAt() time.Time {
	return r.CreatedAt.Add(r.MaxAge)
}

// Expired reports whether now >= createdAt + maxAge.
func (r *Resource) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt())
}

// Age returns the time elapsed since the resource was stored.
func (r *Resource) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// HasLastModified reports whether the stored response carried a valid Last-Modified date.
func (r *Resource) HasLastModified() bool {
	return !r.LastModified.IsZero()
}

// Revalidate reports whether a revalidation response with etag confirms
// the resource. A missing ETag on either side counts as a confirmation.
func (r *Resource) Revalidate(etag string) bool {
	if r.ETag == "" || etag == "" {
		return true
	}
	return r.ETag == etag
}
