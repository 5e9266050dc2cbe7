/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. Actor:      X-Actor-ID header -> tariff.WithActor

  The bulk provisioning route additionally passes a token bucket
  (golang.org/x/time/rate); excess requests get 429.

ROUTE GROUPS:
  /api/waterfall        Calculation only
  /api/combinations/*   Primary + supplementary stacking
  /api/tariffs/*        Bulk provisioning, listing, export
  /api/plans/*          Plan management
  /api/services/*       Service management
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/warp/coverage-engine/config"
	"github.com/warp/coverage-engine/tariff"
)

// Request headers understood by the API.
const (
	HeaderActorID        = "X-Actor-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg config.ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderIdempotencyKey},
		AllowCredentials: true,
	}))
	r.Use(actor)

	bulkLimiter := rate.NewLimiter(rate.Limit(cfg.BulkRatePerSec), cfg.BulkBurst)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/waterfall", h.ComputeWaterfall)

		r.Route("/combinations", func(r chi.Router) {
			r.Post("/", h.CreateCombination)
			r.Post("/quote", h.QuoteCombination)
		})

		r.Route("/tariffs", func(r chi.Router) {
			r.Get("/", h.ListTariffs)
			r.Get("/export.xlsx", h.ExportTariffs)
			r.With(rateLimit(bulkLimiter)).Post("/bulk", h.BulkProvision)
		})

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.CreatePlan)
			r.Get("/{id}", h.GetPlan)
			r.Delete("/{id}", h.DeletePlan)
		})

		r.Route("/services", func(r chi.Router) {
			r.Get("/", h.ListServices)
			r.Post("/", h.CreateService)
			r.Get("/{id}", h.GetService)
			r.Delete("/{id}", h.DeleteService)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// actor attaches the X-Actor-ID header to the request context.
func actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(HeaderActorID); id != "" {
			r = r.WithContext(tariff.WithActor(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded", Code: "rate_limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
