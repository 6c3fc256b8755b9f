package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/verilens/detection-engine/internal/config"
	"github.com/verilens/detection-engine/internal/container"
)

func main() {
	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize dependency injection container
	c, err := container.NewContainer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	// Setup structured logging
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	// Start the engine worker pool
	c.Start()

	// Create HTTP server. The write timeout leaves slack beyond the analysis
	// budget so a verdict settled near the deadline can still be sent.
	server := &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      c.Handler(),
		ReadTimeout:  cfg.RequestBudget,
		WriteTimeout: cfg.RequestBudget + 5*time.Second,
	}

	// Start server in a goroutine
	go func() {
		logrus.WithFields(logrus.Fields{
			"address": cfg.ServerAddress(),
			"workers": cfg.Workers,
			"budget":  cfg.RequestBudget.String(),
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new requests, then drain in-flight analyses.
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("HTTP server forced to shutdown")
	}
	if err := c.Stop(ctx); err != nil {
		logrus.WithError(err).Error("Engine did not drain cleanly")
	}

	logrus.Info("Server exited")
}
