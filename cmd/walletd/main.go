package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/infra"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/routes"
	"github.com/congo-pay/walletledger/internal/server"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With(slog.String("app", cfg.AppName))

	if err := run(cfg, logger); err != nil {
		logger.Error("walletd stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()
	deps := routes.Deps{Cfg: cfg, Logger: logger}

	if cfg.DatabaseURL != "" {
		if cfg.Migrate {
			if err := infra.Migrate(cfg.DatabaseURL); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("schema migrated")
		}
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()
		deps.DB = db
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer closeRedis(cache, logger)
		deps.Cache = cache
	}

	if cfg.NatsURL != "" {
		nc, err := infra.NewNatsConn(cfg.NatsURL, cfg.AppName, logger)
		if err != nil {
			return err
		}
		defer drainNats(nc, logger)
		deps.Nats = nc
	}

	srv, err := server.New(deps)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Address(), "lock_backend", cfg.LockBackend, "postgres", deps.DB != nil)
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func closeRedis(cache *redis.Client, logger *slog.Logger) {
	if err := cache.Close(); err != nil {
		logger.Warn("close redis", "error", err)
	}
}

func drainNats(nc *nats.Conn, logger *slog.Logger) {
	if err := nc.Drain(); err != nil {
		logger.Warn("drain nats", "error", err)
	}
}

