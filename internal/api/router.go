// Package api provides the HTTP management API for hookrelay.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bargom/hookrelay/internal/api/handlers"
	"github.com/bargom/hookrelay/internal/auth"
	"github.com/bargom/hookrelay/internal/health"
	"github.com/bargom/hookrelay/internal/shutdown"
	"github.com/bargom/hookrelay/pkg/logging"
	"github.com/bargom/hookrelay/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig wires the optional surfaces around the management API.
// Everything here may be nil; the router then serves the API routes
// alone, which keeps handler tests free of probe and metrics setup.
type RouterConfig struct {
	// Health serves /healthz and /readyz when set.
	Health *health.Handler

	// Metrics meters every request and serves the Prometheus endpoint
	// at MetricsPath (default /metrics) when set.
	Metrics     *metrics.Registry
	MetricsPath string

	// Auth guards the /api/v1 subtree with bearer tokens when set.
	Auth *auth.Authenticator

	// Drainer rejects new API requests once shutdown has begun. Probe
	// endpoints stay reachable so the load balancer sees the drain.
	Drainer *shutdown.Drainer

	// Logger receives the access log. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewRouter creates a chi router with all routes and middleware configured.
func NewRouter(h *handlers.Handler, cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	quiet := []string{"/healthz", "/readyz", metricsPath}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(logging.NewHTTPMiddleware(logger).WithSkipPaths(quiet...).Handler)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if cfg.Metrics != nil {
		r.Use(metrics.HTTPMiddlewareWithOptions(cfg.Metrics, metrics.MiddlewareOptions{
			SkipPaths: quiet,
		}))
	}

	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.Healthz)
		r.Get("/readyz", cfg.Health.Readyz)
	}
	if cfg.Metrics != nil {
		r.Handle(metricsPath, cfg.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jsonContentType)
		if cfg.Drainer != nil {
			r.Use(shutdown.DrainMiddleware(cfg.Drainer))
		}
		if cfg.Auth != nil {
			r.Use(cfg.Auth.Middleware())
		}

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", h.CreateWebhook)
			r.Get("/", h.ListWebhooks)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetWebhook)
				r.Patch("/", h.UpdateWebhook)
				r.Delete("/", h.DeleteWebhook)
				r.Post("/enable", h.EnableWebhook)
				r.Post("/disable", h.DisableWebhook)
			})
		})

		r.Route("/events", func(r chi.Router) {
			r.Post("/", h.CreateEvent)
			r.Get("/", h.ListEvents)
			r.Get("/stats", h.GetEventStats)
		})

		r.Get("/errors", h.ListErrors)
	})

	return r
}

// jsonContentType sets the Content-Type header ahead of the handlers.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
