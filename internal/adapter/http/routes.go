package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all endpoints on the given chi router. metrics may be
// nil when the Prometheus exporter is disabled.
func MountRoutes(r chi.Router, h *Handlers, metrics http.Handler) {
	r.Get("/healthz", h.Healthz)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/github", h.HandleGitHubWebhook)

		r.Get("/deliveries", h.ListDeliveries)
		r.Get("/deliveries/{id}", h.GetDelivery)
		r.Post("/deliveries/{id}/replay", h.ReplayDelivery)
	})
}
