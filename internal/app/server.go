package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bissquit/bagwatch/internal/pkg/httputil"
	"github.com/bissquit/bagwatch/internal/version"
)

// ReadinessProbe reports whether the service can be considered ready.
type ReadinessProbe interface {
	Ready() bool
}

// newOpsRouter serves health, readiness, version and metrics endpoints.
func newOpsRouter(probe ReadinessProbe, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", healthzHandler)
	r.Get("/readyz", readyzHandler(probe))
	r.Get("/version", versionHandler)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func newOpsServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func readyzHandler(probe ReadinessProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !probe.Ready() {
			httputil.Text(w, http.StatusServiceUnavailable, "Scanner warming up")
			return
		}
		httputil.Text(w, http.StatusOK, "OK")
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Map())
}
