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

ROUTE GROUPS:
  /api/account, /api/plans, /api/policies, /api/claims, /api/doctors
  /api/admin/*          Owner operations and stats
  /api/journal          Intent journal
  /api/documents/{ref}  Claim documents
  /api/scenarios/*      Simulated ledger seeding (dev mode only)
  /healthz              Liveness

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", AccountHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/account", h.GetAccount)

		// Catalog routes
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Put("/{kind}", h.UpdatePlan)
		})

		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.PurchasePolicy)
			r.Get("/{id}", h.GetPolicy)
			r.Get("/{id}/claims", h.ListPolicyClaims)
			r.Post("/{id}/premium", h.PayPremium)
			r.Post("/{id}/cancel", h.CancelPolicy)
		})

		// Claim routes
		r.Route("/claims", func(r chi.Router) {
			r.Get("/", h.ListClaims)
			r.Post("/", h.SubmitClaim)
			r.Get("/{id}", h.GetClaim)
			r.Post("/{id}/process", h.ProcessClaim)
		})

		// Doctor routes
		r.Route("/doctors", func(r chi.Router) {
			r.Get("/", h.ListDoctors)
			r.Get("/{address}", h.GetDoctor)
			r.Put("/{address}", h.AuthorizeDoctor)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/stats", h.GetStats)
			r.Post("/withdraw", h.Withdraw)
			r.Post("/pause", h.Pause)
			r.Post("/unpause", h.Unpause)
		})

		r.Get("/journal", h.ListJournal)
		r.Get("/documents/{ref}", h.GetDocument)

		// Scenario routes
		if h.Sim != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
