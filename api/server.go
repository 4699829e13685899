/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for back-office frontends

ROUTE GROUPS:
  /api/tanks/*     Tank registry, readings, deliveries, reconciliation
  /api/records/*   Reconciliation records, void, classification
  /api/alerts/*    Variance alert workflow
  /api/prices      Selling prices
  /api/stations/*  Station-level margin

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public;
  deploy behind the back-office gateway.

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

	r.Route("/api", func(r chi.Router) {
		// Tank routes
		r.Route("/tanks", func(r chi.Router) {
			r.Get("/", h.ListTanks)
			r.Post("/", h.CreateTank)
			r.Get("/{id}", h.GetTank)
			r.Get("/{id}/cost", h.GetCostSnapshot)
			r.Post("/{id}/dips", h.CreateDip)
			r.Post("/{id}/meters", h.CreateMeter)
			r.Post("/{id}/deliveries", h.CreateDelivery)
			r.Post("/{id}/reconcile", h.Reconcile)
			r.Get("/{id}/records", h.ListRecords)
			r.Get("/{id}/margin", h.GetTankMargin)
		})

		// Record routes
		r.Route("/records", func(r chi.Router) {
			r.Get("/{id}", h.GetRecord)
			r.Get("/{id}/consumptions", h.GetConsumptions)
			r.Post("/{id}/void", h.VoidRecord)
			r.Post("/{id}/classify", h.ClassifyRecord)
		})

		// Alert routes
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.ListAlerts)
			r.Get("/{id}", h.GetAlert)
			r.Post("/{id}/transition", h.TransitionAlert)
		})

		// Pricing routes
		r.Post("/prices", h.CreatePrice)

		// Station routes
		r.Route("/stations", func(r chi.Router) {
			r.Get("/{id}/margin", h.GetStationMargin)
		})
	})

	return r
}
