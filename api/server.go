/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions. This
  is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for a frontend

ROUTE GROUPS:
  /api/instruments/*   Lots, gains, trade recording
  /api/trades/*        Edits, deletion, audit history
  /api/tax/*           Fiscal-year estimates
  /api/scenarios/*     Demo scenarios
  /api/reset           Database reset (dev only)

SECURITY NOTE:
  No authentication middleware. Session and credential management belong to
  an external collaborator.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/instruments/{id}", func(r chi.Router) {
			r.Post("/acquisitions", h.RecordAcquisition)
			r.Post("/disposals", h.RecordDisposal)
			r.Get("/lots", h.GetLots)
			r.Get("/gains", h.GetGains)
		})

		r.Route("/trades/{id}", func(r chi.Router) {
			r.Post("/edits", h.EditTrade)
			r.Delete("/", h.DeleteTrade)
			r.Get("/history", h.GetHistory)
		})

		r.Route("/tax", func(r chi.Router) {
			r.Get("/estimate", h.TaxEstimate)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})

		r.Post("/reset", h.Reset)
	})

	return r
}
