/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for internal dashboards

ROUTE GROUPS:
  /api/points/*   Point commands (earn, use, cancels)
  /api/members/*  Member queries (balance, journal)
  /api/admin/*    Audit operations
  /healthz        Liveness probe

SECURITY NOTE:
  No authentication middleware; this service sits behind the internal
  gateway which terminates auth.

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
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Command routes
		r.Route("/points", func(r chi.Router) {
			r.Post("/earn", h.Earn)
			r.Post("/earn/cancel", h.CancelEarn)
			r.Post("/use", h.Use)
			r.Post("/use/cancel", h.CancelUse)
		})

		// Query routes
		r.Route("/members", func(r chi.Router) {
			r.Get("/{id}/balance", h.Balance)
			r.Get("/{id}/entries", h.History)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/members/{id}/consistency", h.Consistency)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
