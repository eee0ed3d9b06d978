package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mediascribe/internal/ai"
	"mediascribe/internal/blob"
	"mediascribe/internal/config"
	"mediascribe/internal/events"
	"mediascribe/internal/media"
	"mediascribe/internal/queue"
	"mediascribe/internal/stages"
	"mediascribe/internal/store"
	"mediascribe/internal/sweeper"
	"mediascribe/internal/worker"
)

func main() {
	// Initialize structured logging with JSON handler
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(jsonHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down gracefully", "signal", sig)
		cancel()
	}()

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

	if config.GeminiAPIKey == "" {
		slog.Error("GEMINI_API_KEY is required")
		os.Exit(1)
	}
	speech := ai.NewGemini(config.GeminiAPIKey, config.GeminiModel)

	// Text generation falls back to Gemini when no OpenRouter key is set
	var llm ai.LLMAdapter = speech
	if config.OpenRouterKey != "" {
		llm = ai.NewOpenRouter(config.OpenRouterKey, config.OpenRouterModel)
	}

	toolkit := media.NewFFmpeg()
	bus := events.NewBus()

	// Progress events leave this process over Redis pub/sub
	go events.NewRelay(jobQueue.Client()).Forward(ctx, bus)

	handlers := []stages.Handler{
		stages.NewTranscriptionHandler(records, broker, speech, llm, jobQueue, toolkit),
		stages.NewSummaryHandler(records, llm, jobQueue),
		stages.NewArticleHandler(records, llm),
	}

	opts := worker.Options{
		Concurrency:  config.WorkerConcurrency,
		StageTimeout: config.StageTimeout,
	}

	var wg sync.WaitGroup
	var activities []*worker.Activity
	for _, handler := range handlers {
		w := worker.New(jobQueue, records, handler, bus, opts)
		activities = append(activities, w.Activity())

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	if config.IdleTimeout > 0 {
		supervisor := worker.NewIdleSupervisor(jobQueue, queue.Queues, activities,
			config.IdleTimeout, cancel)
		wg.Add(1)
		go func() {
			defer wg.Done()
			supervisor.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.New(jobQueue).Run(ctx)
	}()

	slog.Info("Worker started, waiting for jobs...",
		"queues", queue.Queues, "concurrency", config.WorkerConcurrency)

	wg.Wait()
	slog.Info("Worker exited gracefully")
}
