// Package reconcile replays wallet ledgers and compares the result with the
// stored balances.
package reconcile

import (
	"github.com/congo-pay/walletledger/internal/ledger"
)

// Status is the outcome of verifying one wallet.
type Status string

const (
	StatusConsistent Status = "CONSISTENT"
	StatusDrift      Status = "DRIFT"
)

// Result compares a wallet's stored balance (Actual) with the balance its
// ledger replays to (Expected). BrokenAt is the first sequence whose
// resulting balance, position or sign does not follow from its predecessor.
type Result struct {
	WalletID string `json:"wallet_id"`
	Status   Status `json:"status"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
	Entries  int    `json:"entries"`
	BrokenAt int64  `json:"broken_at,omitempty"`
}

// Consistent reports whether no drift was found.
func (r Result) Consistent() bool { return r.Status == StatusConsistent }

// Project replays entries, oldest first, from a zero balance.
func Project(entries []ledger.Entry) int64 {
	var balance int64
	for _, e := range entries {
		balance += e.SignedAmount()
	}
	return balance
}

// Verify checks a wallet's entries, oldest first, against its stored
// balance. It has no side effects.
func Verify(walletID string, stored int64, entries []ledger.Entry) Result {
	r := Result{
		WalletID: walletID,
		Status:   StatusConsistent,
		Expected: Project(entries),
		Actual:   stored,
		Entries:  len(entries),
	}

	var running int64
	for i, e := range entries {
		running += e.SignedAmount()
		if e.Sequence != int64(i+1) || e.Amount <= 0 || e.ResultingBalance != running || running < 0 {
			r.BrokenAt = e.Sequence
			break
		}
	}
	if r.Expected != r.Actual || r.BrokenAt != 0 {
		r.Status = StatusDrift
	}
	return r
}
