package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/vyrodovalexey/filterproxy/internal/observability"
)

// Recovery returns a middleware that recovers from panics and answers
// 500. http.ErrAbortHandler is re-panicked so that net/http aborts the
// client connection: the proxy uses it when a backend fails after the
// status line was sent.
func Recovery(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					GetMiddlewareMetrics().abortedResponses.Inc()
					panic(rec)
				}

				logger.WithContext(r.Context()).Error("panic recovered",
					observability.String("path", r.URL.Path),
					observability.String("method", r.Method),
					observability.Any("error", rec),
					observability.String("stack", string(debug.Stack())),
				)

				GetMiddlewareMetrics().panicsRecovered.Inc()

				w.Header().Set("Connection", "close")
				w.Header().Set("Content-Length", "0")
				w.WriteHeader(http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
