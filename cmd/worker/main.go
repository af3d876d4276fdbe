package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"docdigest/constants"
	"docdigest/internal/common"
	"docdigest/internal/extract"
	"docdigest/internal/llm/openai"
	"docdigest/internal/metrics"
	"docdigest/internal/queue"
	"docdigest/internal/redisx"
	"docdigest/internal/status"
	"docdigest/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.ValidateWorker(); err != nil {
		logger.Error("config invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := redisx.Open(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close failed", "error", err)
		}
	}()

	q, err := queue.NewRedisQueue(ctx, client, queue.Options{
		Stream:         cfg.Queue.Stream,
		Group:          cfg.Queue.Group,
		DeadStream:     cfg.Queue.DeadStream,
		ReclaimMinIdle: cfg.Queue.ReclaimMinIdle,
	}, logger)
	if err != nil {
		logger.Error("queue init failed", "error", err)
		os.Exit(1)
	}

	store := status.NewRedisStore(client, logger)
	metrics.Register(nil)

	llmClient := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		VisionModel: cfg.LLM.VisionModel,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	backends := worker.Backends{
		constants.ModeTextExtraction: extract.NewTextBackend(llmClient, logger),
		constants.ModeVisionOCR:      extract.NewVisionBackend(llmClient, llmClient, extract.NewRunner(), cfg.Raster, logger),
	}

	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}

	consumers := cfg.Worker.Consumers
	if consumers < 1 {
		consumers = 1
	}
	logger.Info("workers.starting", "consumers", consumers, "stream", cfg.Queue.Stream, "group", cfg.Queue.Group)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < consumers; i++ {
		name := fmt.Sprintf("%s-%d", host, i)
		w := worker.New(q, store, backends, cfg.Worker, name, logger)
		g.Go(func() error { return w.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker group failed", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}
