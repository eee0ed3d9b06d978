package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"mediascribe/internal/blob"
	"mediascribe/internal/config"
	"mediascribe/internal/endpoints"
	"mediascribe/internal/events"
	"mediascribe/internal/push"
	"mediascribe/internal/queue"
	"mediascribe/internal/server"
	"mediascribe/internal/store"
)

func main() {
	// Initialize structured logging
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(jsonHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records, err := store.Open(config.DatabaseURL)
	if err != nil {
		slog.Error("Failed to open record store", "error", err)
		os.Exit(1)
	}

	jobQueue, err := queue.NewQueue(ctx)
	if err != nil {
		slog.Error("Failed to connect to job queue", "error", err)
		os.Exit(1)
	}
	defer jobQueue.Close()

	broker, err := blob.NewBrokerFromEnv(ctx)
	if err != nil {
		slog.Error("Failed to create upload broker", "error", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	hub := push.NewHub(bus, func(origin string) bool {
		return slices.Contains(config.AllowedOrigins, "*") ||
			slices.Contains(config.AllowedOrigins, origin)
	})
	defer hub.Close()

	// Worker progress arrives over Redis pub/sub
	go events.NewRelay(jobQueue.Client()).Receive(ctx, bus)

	srv := server.NewServer(config.Port, endpoints.Deps{
		Records: records,
		Queue:   jobQueue,
		Broker:  broker,
		Hub:     hub,
	})

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed to start", "error", err)
			cancel()
		}
	}()

	slog.Info("Mediascribe HTTP server started", "port", config.Port)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	} else {
		slog.Info("Server exited gracefully")
	}
}
