package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/filterproxy/internal/observability"
)

// RequestIDHeader carries the request id to the backend and back to the
// client.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength bounds inbound ids that are trusted.
const maxRequestIDLength = 128

// RequestID returns a middleware that assigns a UUID to requests without
// a usable X-Request-ID.
func RequestID() func(http.Handler) http.Handler {
	return RequestIDWithGenerator(func() string {
		return uuid.New().String()
	})
}

// RequestIDWithGenerator is RequestID with a custom id source. The id is
// written to the inbound header so the exchange forwards it, stored in
// the request context for logging and echoed on the response.
func RequestIDWithGenerator(generator func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if !validRequestID(id) {
				id = generator()
				r.Header.Set(RequestIDHeader, id)
			}

			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(observability.ContextWithRequestID(r.Context(), id)))
		})
	}
}

// validRequestID accepts non-empty printable ASCII ids of bounded length.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
