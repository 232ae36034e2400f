package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"wafleet/internal/app"
	"wafleet/internal/app/config"
)

var (
	versionFlag = flag.Bool("version", false, "Display version information and exit")
)

func init() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("WaFleet version %s\n", app.Version)
		os.Exit(0)
	}
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	cfg.SetupLogger()

	log.Info().Str("version", app.Version).Msg("Starting WaFleet")

	// Create application container
	container, err := app.NewContainer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application container")
	}
	defer container.Close()

	// Create server before rehydration so the API is configured once
	// sessions start coming up
	server := app.NewServer(container)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	// Verify storage and bring persisted sessions back up
	manager := container.Manager()
	if err := manager.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize fleet")
	}

	container.StartBackground(ctx)

	go func() {
		result, err := manager.InitializeExistingSessions(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Startup rehydration failed")
			return
		}
		log.Info().
			Int("initialized", result.Initialized).
			Int("failed", result.Failed).
			Int("total", result.Total).
			Msg("Startup rehydration finished")
	}()

	// Start server, blocks until shutdown
	if err := server.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
	}

	// Close every session cleanly before exiting
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()
	manager.Shutdown(shutdownCtx)

	log.Info().Msg("WaFleet stopped gracefully")
}
