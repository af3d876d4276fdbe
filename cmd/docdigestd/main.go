package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"docdigest/internal/common"
	"docdigest/internal/metrics"
	"docdigest/internal/producer"
	"docdigest/internal/queue"
	"docdigest/internal/redisx"
	"docdigest/internal/server"
	"docdigest/internal/status"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.ValidateServer(); err != nil {
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

	p := producer.New(q, store, logger)
	api := server.New(p, store, client, cfg.Server, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewMux(),
	}

	go func() {
		logger.Info("http.serving", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	logger.Info("stopped")
}
