/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the drafting UI

ROUTE GROUPS:
  /api/contracts/*      Contract setup, availability, drafting, statement
  /api/requisitions/*   Requisition fetch/edit, payment request issue
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/settlementd/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
// allowedOrigins feeds the CORS middleware; empty means localhost dev.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.CreateContract)
			r.Get("/{id}", h.GetContract)
			r.Post("/{id}/items", h.AddLineItems)
			r.Post("/{id}/amendments", h.CreateAmendment)
			r.Post("/{id}/amendments/{aid}/apply", h.ApplyAmendment)

			r.Get("/{id}/availability", h.GetAvailability)
			r.Post("/{id}/requisitions/recompute", h.Recompute)
			r.Post("/{id}/requisitions", h.CreateRequisition)
			r.Get("/{id}/requisitions", h.ListRequisitions)

			r.Get("/{id}/payment-requests", h.ListPaymentRequests)
			r.Get("/{id}/statement", h.GetStatement)
		})

		r.Route("/requisitions", func(r chi.Router) {
			r.Get("/{id}", h.GetRequisition)
			r.Put("/{id}", h.UpdateRequisition)
			r.Post("/{id}/payment-requests", h.IssuePaymentRequest)
		})
	})

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	return r
}
