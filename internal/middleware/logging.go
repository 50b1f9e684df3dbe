package middleware

import (
	"net/http"
	"time"

	"github.com/vyrodovalexey/filterproxy/internal/observability"
	"github.com/vyrodovalexey/filterproxy/internal/util"
)

// Logging writes one access log line per request. A handler that panics
// (including an exchange aborted after its headers went out) is logged
// at warn level as aborted before the panic continues.
func Logging(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := util.NewStatusCapturingResponseWriter(w)

			completed := false
			defer func() {
				//nolint:contextcheck // the request context carries the request id
				accessLog(logger.WithContext(r.Context()), r, rw, time.Since(start), completed)
			}()

			next.ServeHTTP(rw, r)
			completed = true
		})
	}
}

func accessLog(
	l observability.Logger,
	r *http.Request,
	rw *util.StatusCapturingResponseWriter,
	elapsed time.Duration,
	completed bool,
) {
	fields := []observability.Field{
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.String("query", r.URL.RawQuery),
		observability.String("proto", r.Proto),
		observability.Int("status", rw.StatusCode),
		observability.Int64("size", rw.BytesWritten),
		observability.Duration("duration", elapsed),
		observability.String("remote_addr", r.RemoteAddr),
		observability.String("user_agent", r.UserAgent()),
	}
	if !completed {
		l.Warn("http request aborted", fields...)
		return
	}
	l.Info("http request", fields...)
}
