package rest

import (
	"net"
	"net/http"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/metrics"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(p []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += n
	return n, err
}

// HTTPLogger writes one access log line and records request metrics under
// the matched route pattern.
func HTTPLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		elapsed := time.Since(start)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.RecordHTTPRequest(r.Method, route, rec.status, elapsed)

		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}

		logger.WithCtx(r.Context()).
			Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", ip).
			Int("status", rec.status).
			Int("bytes", rec.bytes).
			Dur("duration", elapsed).
			Msg("http_request")
	})
}
