package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/execledger/execledger/internal/publisher/server"
	"github.com/execledger/execledger/pkg/config"
	"github.com/execledger/execledger/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("publisher")
	if err != nil {
		logger.NewDefault().Fatal("Failed to load configuration", "error", err)
	}

	// Initialize logger
	log := logger.New(cfg.Logger.ToLoggerConfig())
	defer func() { _ = log.Sync() }()

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Fatal("Failed to create server", "error", err)
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down publisher service...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Publisher service exited")
}
