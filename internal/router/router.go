// Package router wires the admin API routes.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"wafleet/internal/handlers"
	"wafleet/internal/middleware"
)

// Router holds all the route handlers
type Router struct {
	sessionHandler *handlers.SessionHandler
	fleetHandler   *handlers.FleetHandler
	apiKey         string
}

// NewRouter creates a new router instance
func NewRouter(sessionHandler *handlers.SessionHandler, fleetHandler *handlers.FleetHandler, apiKey string) *Router {
	return &Router{
		sessionHandler: sessionHandler,
		fleetHandler:   fleetHandler,
		apiKey:         apiKey,
	}
}

// SetupRoutes configures all the HTTP routes
func (rt *Router) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	// Add Chi built-in middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Compress(5))

	// Add custom middleware
	r.Use(middleware.LoggingMiddleware)

	// Setup CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure this properly for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", rt.fleetHandler.Health)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyMiddleware(rt.apiKey))

		rt.setupFleetRoutes(r)
		rt.setupSessionRoutes(r)
	})

	return r
}

func (rt *Router) setupFleetRoutes(r chi.Router) {
	r.Get("/fleet/status", rt.fleetHandler.Status)
	r.Post("/broadcast", rt.fleetHandler.Broadcast)
}

func (rt *Router) setupSessionRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/add", rt.sessionHandler.CreateSession)
		r.Get("/list", rt.sessionHandler.ListSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/info", rt.sessionHandler.GetSessionInfo)
			r.Get("/qr", rt.sessionHandler.GetQR)
			r.Post("/connect", rt.sessionHandler.ConnectSession)
			r.Post("/disconnect", rt.sessionHandler.DisconnectSession)
			r.Post("/cleanup", rt.sessionHandler.CleanupSession)
			r.Post("/takeover", rt.sessionHandler.TakeoverSession)
			r.Post("/reinitialize", rt.sessionHandler.ReinitializeSession)
		})
	})
}
