package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateEntry occurs when an entry with the same id, the same
	// (idempotency key, wallet, operation) triple or the same wallet sequence
	// has already been appended.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")

	// ErrEntryNotFound indicates no entry exists for the requested id.
	ErrEntryNotFound = errors.New("ledger entry not found")
)

// Operation identifies the kind of balance change recorded by an entry.
type Operation string

const (
	OperationDeposit     Operation = "DEPOSIT"
	OperationWithdraw    Operation = "WITHDRAW"
	OperationTransferIn  Operation = "TRANSFER_IN"
	OperationTransferOut Operation = "TRANSFER_OUT"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OperationDeposit, OperationWithdraw, OperationTransferIn, OperationTransferOut:
		return true
	}
	return false
}

// Credit reports whether the operation increases the wallet balance.
func (op Operation) Credit() bool {
	return op == OperationDeposit || op == OperationTransferIn
}

// Signed returns amount with the sign the operation applies to a balance.
func (op Operation) Signed(amount int64) int64 {
	if op.Credit() {
		return amount
	}
	return -amount
}

// Entry is an immutable record of one balance change on one wallet.
type Entry struct {
	ID               string            `json:"id"`
	WalletID         string            `json:"wallet_id"`
	Sequence         int64             `json:"sequence"`
	IdempotencyKey   string            `json:"idempotency_key"`
	TransferID       string            `json:"transfer_id,omitempty"`
	Operation        Operation         `json:"operation"`
	Amount           int64             `json:"amount"`
	ResultingBalance int64             `json:"resulting_balance"`
	Reversal         bool              `json:"reversal,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	OccurredAt       time.Time         `json:"occurred_at"`
}

// SignedAmount is the amount with the sign applied by the entry's operation.
func (e Entry) SignedAmount() int64 {
	return e.Operation.Signed(e.Amount)
}

// Clone returns a copy that shares no mutable state with e.
func (e Entry) Clone() Entry {
	if e.Metadata != nil {
		md := make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}
	return e
}

// Order selects the direction entries are listed in.
type Order int

const (
	// NewestFirst lists entries by descending sequence.
	NewestFirst Order = iota
	// OldestFirst lists entries by ascending sequence.
	OldestFirst
)

// Page selects a window of a wallet's entries. After is an exclusive
// sequence cursor: 0 starts from the newest (NewestFirst) or oldest
// (OldestFirst) entry. From and To bound occurred_at inclusively when set.
type Page struct {
	After int64
	Limit int
	Order Order
	From  time.Time
	To    time.Time
}

// Matches reports whether e falls inside the page window, ignoring Limit.
func (p Page) Matches(e Entry) bool {
	if p.After > 0 {
		if p.Order == OldestFirst && e.Sequence <= p.After {
			return false
		}
		if p.Order == NewestFirst && e.Sequence >= p.After {
			return false
		}
	}
	if !p.From.IsZero() && e.OccurredAt.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && e.OccurredAt.After(p.To) {
		return false
	}
	return true
}

// Store persists ledger entries. Entries are append-only: there is no update
// or delete. Append returns only after the entry is durable. Lookups by an
// identifier the store cannot hold fail with ErrEntryNotFound.
type Store interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	FindByIdempotencyKey(ctx context.Context, key string) ([]Entry, error)
	FindByTransferID(ctx context.Context, transferID string) ([]Entry, error)
	ListByWallet(ctx context.Context, walletID string, page Page) ([]Entry, error)
}
