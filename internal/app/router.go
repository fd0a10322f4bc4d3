// Package app assembles the HTTP router and the background maintenance
// loops shared by the entry points.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/ai-table-enricher/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-table-enricher/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input means any origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the control-plane handler with all middleware and
// routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Mutating endpoints: rate limited, optionally behind the admin guard.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		if cfg.AdminEnabled() {
			wr.Use(srv.AdminGuard)
		}
		wr.Post("/v1/jobs", srv.SubmitHandler())
		wr.Post("/v1/jobs/{id}/pause", srv.PauseHandler())
		wr.Post("/v1/jobs/{id}/resume", srv.ResumeHandler())
		wr.Post("/v1/jobs/{id}/stop", srv.StopHandler())
		wr.Put("/v1/jobs/{id}/options", srv.PutOptionsHandler())
		wr.Put("/v1/credentials/{provider}", srv.PutKeyHandler())
	})

	// Read-only endpoints.
	r.Get("/v1/jobs/{id}", srv.GetJobHandler())
	r.Get("/v1/jobs/{id}/logs", srv.LogsHandler())
	r.Get("/v1/jobs/{id}/download", srv.DownloadHandler())

	// Health and metrics.
	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
