package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pinabook/cmd/consumers/jobs"
	"pinabook/internal/config"
	"pinabook/internal/consumers"
	"pinabook/internal/logger"
)

func main() {
	// .env необязателен
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	slog.Info("Starting consumers service...")

	// Override NATS client ID for consumers
	cfg.NATS.ClientID = "pinabook-consumers"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumerService, err := consumers.NewConsumerService(ctx, cfg)
	if err != nil {
		slog.Error("Failed to create consumer service", "error", err)
		os.Exit(1)
	}

	// Start consuming messages
	if err := consumerService.Start(); err != nil {
		slog.Error("Failed to start consumers", "error", err)
		os.Exit(1)
	}

	services := consumerService.Services()
	evaluation := jobs.NewSubscriptionEvaluationJob(services.Subscriptions, cfg.Subscriptions.EvaluationInterval, services.Now)
	evaluation.Start(ctx)
	drift := jobs.NewCounterDriftJob(services.Projector, cfg.Subscriptions.DriftCheckInterval)
	drift.Start(ctx)

	slog.Info("Consumers service started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down consumers service...")

	evaluation.Stop()
	drift.Stop()
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := consumerService.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	slog.Info("Consumers service stopped")
}
