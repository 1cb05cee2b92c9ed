// Package app wires the HTTP router, readiness probes and background
// sweepers around the adapters.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/latticehq/lattice/internal/adapter/httpserver"
	"github.com/latticehq/lattice/internal/adapter/redisrate"
	"github.com/latticehq/lattice/internal/config"
	"github.com/latticehq/lattice/internal/observability"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces. Empty
// input means all origins.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middleware and routes.
// limiter may be nil to disable per-tenant throttling.
func BuildRouter(cfg config.Config, srv *httpserver.Server, limiter redisrate.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(otelhttp.NewMiddleware("lattice.http"))
	r.Use(httpserver.RequestID())
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health and metrics stay outside tenant auth.
	r.Get("/healthz", srv.Healthz())
	r.Get("/readyz", srv.Readyz())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	r.Route("/v1", func(r chi.Router) {
		// Coarse pre-auth guard per IP; the tenant bucket is the real limit.
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMin*4, time.Minute))
		r.Use(httpserver.RequireCompany())
		r.Use(httpserver.TenantRateLimit(limiter))

		r.Post("/matrices", srv.CreateMatrix())
		r.Get("/matrices/{matrixID}", srv.GetMatrix())
		r.Post("/matrices/{matrixID}/entity-sets", srv.CreateEntitySet())
		r.Get("/matrices/{matrixID}/entity-sets", srv.ListEntitySets())
		r.Post("/matrices/{matrixID}/entity-sets/{setID}/members", srv.AddMembers())
		r.Post("/matrices/{matrixID}/reprocess", srv.ReprocessCells())

		r.Group(func(r chi.Router) {
			r.Use(httpserver.MaxBody(cfg.MaxUploadMB << 20))
			r.Post("/documents", srv.UploadDocument())
		})
		r.Get("/documents/{documentID}", srv.GetDocument())

		r.Get("/search", srv.SearchChunks())
		r.Patch("/questions/{questionID}", srv.UpdateQuestion())
		r.Post("/executions/{executionID}/start", srv.StartExecution())
	})

	return httpserver.SecurityHeaders()(r)
}
