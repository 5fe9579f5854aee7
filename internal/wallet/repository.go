package wallet

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates no wallet matches the lookup.
	ErrNotFound = errors.New("wallet not found")

	// ErrDuplicate occurs when a wallet already exists for the (user, currency) pair.
	ErrDuplicate = errors.New("wallet already exists for user and currency")

	// ErrStaleState is returned by CompareAndSetBalance when the stored balance,
	// version or pending record no longer matches what the caller observed.
	ErrStaleState = errors.New("wallet state changed concurrently")

	// ErrPendingMismatch is returned by ClearPending when the wallet's pending
	// record is not the entry being cleared.
	ErrPendingMismatch = errors.New("pending entry mismatch")

	// ErrHalted is returned by CompareAndSetBalance on a halted wallet.
	ErrHalted = errors.New("wallet halted")
)

// Store persists wallet records. Balances change only through
// CompareAndSetBalance.
type Store interface {
	Create(ctx context.Context, wallet Wallet) (Wallet, error)
	Get(ctx context.Context, id string) (Wallet, error)
	FindByUser(ctx context.Context, userID, currency string) (Wallet, error)
	List(ctx context.Context, afterID string, limit int) ([]Wallet, error)
	CompareAndSetBalance(ctx context.Context, id string, update BalanceUpdate) (Wallet, error)
	ClearPending(ctx context.Context, id, entryID string) error
	SetStatus(ctx context.Context, id string, status Status) (Wallet, error)
	// SetHalt records reason as the wallet's halt; an empty reason lifts it.
	SetHalt(ctx context.Context, id, reason string) (Wallet, error)
}
