/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for map clients

ROUTE GROUPS:
  /api/communes/*            Communes, commune data, composition requests
  /api/voies/*, /api/numeros/*  Address views
  /api/compositions/*        Pipeline job intake
  /api/force-certification   Force certification set
  /api/tiles/*               Map tile features
  /metrics                   Prometheus metrics

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

	"github.com/warp/ban-registry/metrics"
)

// DefaultAllowedOrigins is used when NewRouter gets no origins.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Commune routes
		r.Route("/communes", func(r chi.Router) {
			r.Get("/", h.ListCommunes)
			r.Get("/{code}", h.GetCommune)
			r.Patch("/{code}", h.UpdateCommune)
			r.Get("/{code}/data", h.GetCommuneData)
			r.Put("/{code}/data", h.SaveCommuneData)
			r.Post("/{code}/compose", h.AskComposition)
			r.Post("/{code}/compose/finish", h.FinishComposition)
		})

		// Address routes
		r.Get("/voies/{id}", h.GetVoie)
		r.Get("/numeros/{id}", h.GetNumero)

		// Composition pipeline routes
		r.Route("/compositions", func(r chi.Router) {
			r.Get("/pending", h.ListPendingCompositions)
			r.Post("/next", h.NextComposition)
		})

		// Force certification routes
		r.Get("/force-certification", h.GetForceCertification)
		r.Put("/force-certification", h.UpdateForceCertification)

		// Tile routes
		r.Get("/tiles/{z}/{x}/{y}", h.GetTile)
	})

	return r
}
