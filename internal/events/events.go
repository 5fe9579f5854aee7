// Package events publishes ledger activity to downstream systems.
package events

import (
	"context"
	"time"
)

// Kind classifies an event.
type Kind string

const (
	// KindEntryCommitted is emitted for every ledger entry made durable.
	KindEntryCommitted Kind = "entry.committed"
	// KindTransferReversed is emitted when a transfer's source leg was compensated.
	KindTransferReversed Kind = "transfer.reversed"
	// KindWalletInconsistent alerts an operator that a wallet is halted
	// because its balance and ledger could not be brought back in line.
	KindWalletInconsistent Kind = "wallet.inconsistent"
	// KindBalanceDrift is emitted by reconciliation when a stored balance
	// disagrees with its ledger replay.
	KindBalanceDrift Kind = "wallet.drift"
)

// Event describes something that happened to a wallet.
type Event struct {
	Kind           Kind      `json:"kind"`
	WalletID       string    `json:"wallet_id"`
	EntryID        string    `json:"entry_id,omitempty"`
	TransferID     string    `json:"transfer_id,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Operation      string    `json:"operation,omitempty"`
	Amount         int64     `json:"amount,omitempty"`
	Balance        int64     `json:"balance"`
	Expected       int64     `json:"expected,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Fanout publishes to every publisher and returns the first error.
type Fanout []Publisher

// Publish delivers event to every publisher, even after a failure.
func (f Fanout) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
