// Package app wires configuration, adapters, and services into a runnable
// HTTP gateway: route table, middleware stack, and readiness probes.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kamusis/swissql-sub000/internal/adapter/httpserver"
	"github.com/kamusis/swissql-sub000/internal/adapter/observability"
	"github.com/kamusis/swissql-sub000/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
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

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	// Security & instrumentation middleware
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limit mutating endpoints
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/v1/connect", srv.ConnectHandler())
		wr.Post("/v1/disconnect", srv.DisconnectHandler())
		wr.Post("/v1/execute", srv.ExecuteHandler())
		wr.Post("/v1/meta/explain", srv.ExplainHandler())
		wr.Post("/v1/meta/drivers/reload", srv.DriversReloadHandler())
		wr.Post("/v1/collectors/run", srv.CollectorRunHandler())
		wr.Put("/v1/sessions/{sid}/samplers/{id}", srv.SamplerUpsertHandler())
		wr.Delete("/v1/sessions/{sid}/samplers/{id}", srv.SamplerStopHandler())
		wr.Post("/v1/ai/generate", srv.GenerateHandler())
		wr.Post("/v1/ai/context/clear", srv.AIContextClearHandler())
	})
	// Read-only endpoints
	r.Get("/v1/meta/conninfo", srv.ConnInfoHandler())
	r.Get("/v1/meta/describe", srv.DescribeHandler())
	r.Get("/v1/meta/list", srv.ListObjectsHandler())
	r.Get("/v1/meta/completions", srv.CompletionsHandler())
	r.Get("/v1/meta/drivers", srv.DriversHandler())
	r.Get("/v1/collectors/list", srv.CollectorsListHandler())
	r.Get("/v1/collectors/queries", srv.CollectorQueriesHandler())
	r.Get("/v1/sessions/{sid}/samplers", srv.SamplersListHandler())
	r.Get("/v1/sessions/{sid}/samplers/{id}", srv.SamplerStatusHandler())
	r.Get("/v1/sessions/{sid}/samplers/{id}/snapshot", srv.SamplerSnapshotHandler())
	r.Get("/v1/ai/context", srv.AIContextHandler())

	// Health and metrics
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
	r.Get("/readyz", srv.ReadyzHandler())

	// OpenAPI if present
	r.Get("/openapi.yaml", srv.OpenAPIServe())

	return httpserver.SecurityHeaders(r)
}
