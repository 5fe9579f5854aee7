package wallet

import (
	"time"

	"github.com/congo-pay/walletledger/internal/ledger"
)

// Status is the lifecycle state of a wallet.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusFrozen Status = "FROZEN"
	StatusClosed Status = "CLOSED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusFrozen, StatusClosed:
		return true
	}
	return false
}

// Wallet holds the balance of one user in one currency.
//
// Version increments on every balance change and equals the sequence of the
// wallet's newest ledger entry. Pending is the write-ahead copy of an entry
// whose balance change has been applied but whose append has not yet been
// confirmed.
type Wallet struct {
	ID       string
	UserID   string
	Currency string
	Balance  int64
	Version  int64
	Status   Status
	Pending  *ledger.Entry
	// HaltReason is set while an operator must resolve a failed transfer
	// compensation. A halted wallet accepts no balance changes.
	HaltReason string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone returns a copy that shares no mutable state with w.
func (w Wallet) Clone() Wallet {
	if w.Pending != nil {
		p := w.Pending.Clone()
		w.Pending = &p
	}
	return w
}

// BalanceUpdate is a compare-and-set request. It applies only while the
// wallet still has ExpectedBalance and ExpectedVersion and no pending entry.
// Pending becomes the wallet's write-ahead record; its ResultingBalance and
// Sequence become the new balance and version.
type BalanceUpdate struct {
	ExpectedBalance int64
	ExpectedVersion int64
	Pending         ledger.Entry
}
