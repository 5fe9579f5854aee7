package events

import (
	"context"
	"log/slog"
)

// LoggerPublisher writes events to the structured logger. Inconsistency and
// drift events are logged at error level.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish writes the event to the logger.
func (p *LoggerPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	level := slog.LevelDebug
	switch event.Kind {
	case KindTransferReversed:
		level = slog.LevelWarn
	case KindWalletInconsistent, KindBalanceDrift:
		level = slog.LevelError
	}
	p.logger.Log(ctx, level, "ledger event",
		slog.String("kind", string(event.Kind)),
		slog.String("wallet_id", event.WalletID),
		slog.String("entry_id", event.EntryID),
		slog.String("transfer_id", event.TransferID),
		slog.Int64("amount", event.Amount),
		slog.Int64("balance", event.Balance),
		slog.String("detail", event.Detail),
	)
	return nil
}
