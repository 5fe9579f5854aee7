package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

// NewRedisClient connects the client backing distributed wallet locks.
func NewRedisClient(ctx context.Context, url string, logger *slog.Logger) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opt.Addr, err)
	}

	logger.Info("redis connected", slog.String("addr", opt.Addr), slog.Int("db", opt.DB))
	return client, nil
}
