package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

func structuredLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// rateLimit rejects requests once the gate's window is exhausted. Rejected
// requests are not counted. Paths in skip bypass the gate.
func rateLimit(gate Gate, skip ...string) func(http.Handler) http.Handler {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipped[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			d, err := gate.Allow(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			if !d.Allowed {
				slog.Debug("Rate limit exceeded", "path", r.URL.Path, "count", d.Count, "retry_after", d.RetryAfter)
				writeError(w, gate.Err(d))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
