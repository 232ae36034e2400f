package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"wafleet/internal/handlers"
	"wafleet/internal/router"
)

// Version is the release tag reported by the health endpoint
const Version = "1.0.0"

// Server represents the HTTP server
type Server struct {
	container *Container
	server    *http.Server
	handler   http.Handler
}

// NewServer creates a new HTTP server
func NewServer(container *Container) *Server {
	sessionHandler := handlers.NewSessionHandler(
		container.Manager(),
		container.SessionRepository(),
		container.WebDetector(),
		container.HealthMonitor(),
	)

	fleetHandler := handlers.NewFleetHandler(
		container.Manager(),
		container.Database(),
		container.Broadcaster(),
		container.InstanceID(),
		Version,
	)

	appRouter := router.NewRouter(sessionHandler, fleetHandler, container.Config().Server.APIKey)
	handler := appRouter.SetupRoutes()

	server := &Server{
		container: container,
		handler:   handler,
	}

	server.setupHTTPServer()

	return server
}

// setupHTTPServer configures the HTTP server
func (s *Server) setupHTTPServer() {
	cfg := s.container.Config()

	s.server = &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           s.handler,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	log.Info().Msg("HTTP server configured successfully")
}

// Start starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	cfg := s.container.Config()

	go func() {
		log.Info().
			Str("address", cfg.GetServerAddress()).
			Msg("Starting HTTP server")

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info().Msg("Server stopped gracefully")
	return nil
}
