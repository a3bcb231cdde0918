package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pinabook/internal/api"
	"pinabook/internal/app"
	"pinabook/internal/config"
	"pinabook/internal/logger"
)

func main() {
	// .env необязателен
	_ = godotenv.Load()

	// Загружаем конфигурацию
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	if err := a.AttachLocalProjector(); err != nil {
		slog.Error("Failed to attach projector", "error", err)
		a.Close()
		os.Exit(1)
	}

	// Создаем и настраиваем сервер
	server := api.NewServer(cfg, a)

	// Создаем HTTP сервер
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.GetRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Запускаем сервер в отдельной горутине
	go func() {
		slog.Info("Starting server", "port", cfg.Port, "store", cfg.StoreDriver, "bus", cfg.BusDriver, "lock", cfg.LockDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Ждем сигнал для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")

	// Graceful shutdown с таймаутом
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Закрываем соединения
	server.Cleanup()

	slog.Info("Server stopped")
}
