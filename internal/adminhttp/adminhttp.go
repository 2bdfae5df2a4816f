// Package adminhttp serves the small ambient operations surface for
// the store and queue core: /healthz, /metrics, and /logs. It never
// touches ActivityPub inbox/outbox traffic — that HTTP surface is a
// separate layer's concern.
package adminhttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klppl/fedcore/internal/logging"
	"github.com/klppl/fedcore/internal/metrics"
	"github.com/klppl/fedcore/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Mux builds the admin router: health, prometheus metrics, and a
// ring-buffer log tail backed by broadcaster.
func Mux(srv *store.ServerContext, broadcaster *logging.Broadcaster) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status := "ok"
		code := http.StatusOK
		if !srv.Running() {
			status = "stopping"
			code = http.StatusServiceUnavailable
		}
		jsonResponse(w, map[string]any{
			"status":  status,
			"baseDir": srv.Redact(srv.BaseDir()),
			"layout":  srv.Layout(),
		}, code)
	})

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	if broadcaster != nil {
		r.Get("/logs", func(w http.ResponseWriter, req *http.Request) {
			jsonResponse(w, broadcaster.Lines(), http.StatusOK)
		})
	}

	return r
}

func jsonResponse(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		slog.Debug("admin http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
