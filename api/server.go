/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/workorders/*     Work-order lifecycle, versions, history, documents
  /api/versions/*       Line-item ledger scoped to a budget version
  /api/items/*          Item mutations addressed by item id
  /api/clients/*        Client and site registry
  /api/materials/*      Material catalog
  /api/scenarios/*      Demo data seeding

SECURITY NOTE:
  No authentication middleware currently. The acting user arrives via
  X-Actor-ID; auth is expected upstream.

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Work-order routes
		r.Route("/workorders", func(r chi.Router) {
			r.Get("/", h.ListWorkOrders)
			r.Post("/", h.CreateWorkOrder)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetWorkOrder)
				r.Put("/", h.UpdateWorkOrder)
				r.Delete("/", h.DeleteWorkOrder)
				r.Post("/transition", h.Transition)
				r.Get("/history", h.History)
				r.Post("/expenses", h.RecordExpense)
				r.Post("/document", h.GenerateDocument)

				r.Route("/versions", func(r chi.Router) {
					r.Get("/", h.ListVersions)
					r.Post("/", h.CreateNextVersion)
					r.Get("/current", h.GetCurrentVersion)
					r.Post("/{versionID}/switch", h.SwitchVersion)
				})
			})
		})

		// Line-item routes scoped to a version
		r.Route("/versions/{versionID}/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.AddItem)
			r.Post("/reorder", h.ReorderItems)
		})

		// Item mutations by id
		r.Route("/items/{itemID}", func(r chi.Router) {
			r.Put("/", h.UpdateItem)
			r.Delete("/", h.DeleteItem)
		})

		// Registry routes
		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
			r.Get("/{id}/sites", h.ListSites)
			r.Post("/{id}/sites", h.CreateSite)
		})

		// Material catalog routes
		r.Route("/materials", func(r chi.Router) {
			r.Get("/", h.ListMaterials)
			r.Post("/", h.CreateMaterial)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
