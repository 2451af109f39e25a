/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Bounded request time
  6. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/schools/{schoolID}/students/*        Generation, preview, ledger
  /api/schools/{schoolID}/fee-versions/*    Hikes and resolution
  /api/schools/{schoolID}/generation-runs/* Batch runs
  /healthz                                  Liveness and database ping
  /metrics                                  Prometheus

SECURITY NOTE:
  No authentication middleware. The service is expected to sit behind the
  school platform's gateway, which authenticates and scopes schoolID.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures the parts of the router that vary per deploy.
type RouterOptions struct {
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
	// Ping checks the database for /healthz. Nil skips the check.
	Ping func(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api/schools/{schoolID}", func(r chi.Router) {
		r.Route("/students/{studentID}", func(r chi.Router) {
			r.Post("/fees/generate", h.GenerateFees)
			r.Get("/fees/preview", h.PreviewFees)
			r.Get("/ledger", h.GetLedger)
		})

		r.Route("/fee-versions", func(r chi.Router) {
			r.Post("/hike", h.HikeFee)
			r.Get("/resolve", h.ResolveVersion)
		})

		r.Route("/generation-runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Post("/", h.TriggerRun)
			r.Get("/{runID}", h.GetRun)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ping != nil {
			if err := opts.Ping(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "database unavailable", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
