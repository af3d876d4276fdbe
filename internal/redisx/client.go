// Package redisx owns the shared Redis client construction for the queue
// and the status store.
package redisx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"docdigest/internal/common"
)

// Open creates a Redis client and verifies the connection with a ping.
func Open(ctx context.Context, cfg common.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Error("redis.connect.failed", "addr", cfg.Addr, "error", err)
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("redis.connect.ok", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}
