// Package redis owns the Redis client used for shared rate limit windows.
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"echohook/internal/config"
)

type RedisServer struct {
	cfg    *config.Config
	Client *redis.Client
	logger *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *RedisServer {
	return &RedisServer{
		cfg:    cfg,
		logger: logger.With("component", "redis"),
	}
}

// Start connects and pings the configured server.
func (rs *RedisServer) Start(ctx context.Context) error {
	rs.Client = redis.NewClient(&redis.Options{
		Addr:     rs.cfg.RedisAddr,
		Password: rs.cfg.RedisPassword,
		DB:       rs.cfg.RedisDB,
	})

	if err := rs.Client.Ping(ctx).Err(); err != nil {
		rs.logger.Error("failed to connect to redis", "addr", rs.cfg.RedisAddr, "error", err)
		_ = rs.Client.Close()
		rs.Client = nil
		return err
	}

	rs.logger.Info("redis connection established", "addr", rs.cfg.RedisAddr, "db", rs.cfg.RedisDB)
	return nil
}

func (rs *RedisServer) Stop() error {
	if rs.Client != nil {
		if err := rs.Client.Close(); err != nil {
			rs.logger.Error("failed to close redis connection", "error", err)
			return err
		}
		rs.logger.Info("redis connection closed")
	}
	return nil
}
