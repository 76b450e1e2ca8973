package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/config"

	"github.com/joho/godotenv"
)

// Version is reported in the startup log
const Version = "1.0.0"

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting federation gateway", logging.Field{Key: "version", Value: Version})

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv, err := app.RunServer()
	if err != nil {
		logging.Error("Failed to configure server", err)
		return err
	}
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	// Wait for interrupt signal or a serve failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	var serveErr error
	select {
	case <-quit:
	case serveErr = <-srv.Errors():
	}

	logging.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting requests first so no new deliveries are queued
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
	}
	if err := app.Shutdown(ctx); err != nil {
		logging.Warn("Error during app shutdown", logging.Field{Key: "error", Value: err.Error()})
	}

	logging.Info("Server exited")
	return serveErr
}
