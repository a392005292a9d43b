// Package router assembles the ops HTTP surface: health probes, Prometheus
// metrics, job status lookups, and the admin endpoints for egress stream
// recovery and instance lifecycle announcements.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brightline-ai/concierge/internal/http/handlers"
	httpmiddleware "github.com/brightline-ai/concierge/internal/http/middleware"
	"github.com/brightline-ai/concierge/pkg/logging"
)

// Config holds the handlers to mount. Nil handlers leave their routes off,
// so the API process and the worker processes can share this router with
// different slices wired.
type Config struct {
	Logger      *logging.Logger
	Health      *handlers.HealthHandler
	EgressAdmin *handlers.EgressAdminHandler
	Jobs        *handlers.JobStatusHandler
	Status      *handlers.StatusHandler

	MetricsHandler http.Handler

	// AdminToken guards everything under /admin. Empty disables those
	// endpoints; authentication beyond the shared token belongs to the
	// deployment in front.
	AdminToken string
}

// New builds the chi router.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.Liveness)
		r.Get("/readyz", cfg.Health.Readiness)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	if cfg.Jobs != nil {
		r.Get("/jobs/{jobID}", cfg.Jobs.GetJob)
	}

	if cfg.EgressAdmin != nil || cfg.Status != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminToken(cfg.AdminToken))
			if cfg.EgressAdmin != nil {
				admin.Route("/egress/{instance}", func(r chi.Router) {
					r.Post("/reset", cfg.EgressAdmin.ResetGroup)
					r.Post("/recreate", cfg.EgressAdmin.RecreateGroup)
					r.Post("/claim", cfg.EgressAdmin.ClaimPending)
					r.Get("/health", cfg.EgressAdmin.Health)
				})
				admin.Post("/instances", cfg.EgressAdmin.PublishInstance)
			}
			if cfg.Status != nil {
				admin.Get("/status", cfg.Status.GetStatus)
			}
		})
	}

	return r
}
