package ledger

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is returned by FaultyStore when a fault is triggered.
var ErrInjected = errors.New("injected ledger fault")

// FaultyStore wraps a Store and fails the next N appends, optionally only for
// one wallet. It is a test helper for exercising repair paths.
type FaultyStore struct {
	Store

	mu          sync.Mutex
	failAppends int
	walletID    string
}

// NewFaultyStore wraps inner.
func NewFaultyStore(inner Store) *FaultyStore {
	return &FaultyStore{Store: inner}
}

// FailAppends makes the next n appends fail. An empty walletID matches every
// wallet.
func (s *FaultyStore) FailAppends(n int, walletID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppends = n
	s.walletID = walletID
}

func (s *FaultyStore) Append(ctx context.Context, entry Entry) (Entry, error) {
	s.mu.Lock()
	if s.failAppends > 0 && (s.walletID == "" || s.walletID == entry.WalletID) {
		s.failAppends--
		s.mu.Unlock()
		return Entry{}, ErrInjected
	}
	s.mu.Unlock()
	return s.Store.Append(ctx, entry)
}
