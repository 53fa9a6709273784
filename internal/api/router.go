package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"link-cloaker/internal/observability"
)

// Router mounts the redirect, reporting and operational endpoints.
// middleware.RealIP is not used: the detection layers read the forwarding
// headers themselves and need the raw peer address.
func Router(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))

	r.Get("/r/{slug}", h.Redirect)
	r.Get("/go/{slug}", h.Redirect)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/countries", h.Countries)
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAdmin)
			r.Get("/campaigns/{id}/stats", h.CampaignStats)
			r.Get("/campaigns/{id}/logs", h.CampaignLogs)
			r.Get("/users/{id}/stats", h.UserStats)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
