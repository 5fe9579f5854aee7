// Command reconcile replays every wallet's ledger once and reports wallets
// whose stored balance drifted from it. It exits with status 2 on drift.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/events"
	"github.com/congo-pay/walletledger/internal/infra"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/reconcile"
)

const (
	exitOK = iota
	exitFailure
	exitDrift
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return exitFailure
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With(slog.String("app", cfg.AppName+"-reconcile"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := run(ctx, cfg, logger)
	if err != nil {
		logger.Error("reconciliation failed", "error", err)
		return exitFailure
	}
	if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
		logger.Warn("write report", "error", err)
	}
	if len(report.Drifted) > 0 {
		return exitDrift
	}
	return exitOK
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) (reconcile.Report, error) {
	if cfg.DatabaseURL == "" {
		return reconcile.Report{}, fmt.Errorf("DATABASE_URL must be set")
	}
	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return reconcile.Report{}, fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	publishers := events.Fanout{events.NewLoggerPublisher(logger)}
	if cfg.NatsURL != "" {
		nc, err := infra.NewNatsConn(cfg.NatsURL, cfg.AppName+"-reconcile", logger)
		if err != nil {
			return reconcile.Report{}, err
		}
		defer func() {
			// flushes drift events still buffered
			if err := nc.Drain(); err != nil {
				logger.Warn("drain nats", "error", err)
			}
		}()
		publishers = append(publishers, events.NewNatsPublisher(nc, cfg.NatsSubjectPrefix))
	}

	wallets, entries := infra.NewStores(db)
	return reconcile.NewJob(wallets, entries, publishers, logger, 0).Run(ctx)
}
