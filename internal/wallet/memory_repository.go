package wallet

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.RWMutex
	storage map[string]Wallet
	owners  map[string]string // user|currency -> wallet id
	now     func() time.Time
}

// NewMemoryStore constructs an in-memory wallet store.
func NewMemoryStore() Store {
	return &memoryStore{
		storage: make(map[string]Wallet),
		owners:  make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func ownerKey(userID, currency string) string {
	return userID + "|" + currency
}

func (s *memoryStore) Create(_ context.Context, wallet Wallet) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownerKey(wallet.UserID, wallet.Currency)
	if _, exists := s.owners[key]; exists {
		return Wallet{}, ErrDuplicate
	}
	if _, exists := s.storage[wallet.ID]; exists {
		return Wallet{}, ErrDuplicate
	}
	stored := wallet.Clone()
	s.storage[wallet.ID] = stored
	s.owners[key] = wallet.ID
	return stored.Clone(), nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wallet, ok := s.storage[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return wallet.Clone(), nil
}

func (s *memoryStore) FindByUser(_ context.Context, userID, currency string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.owners[ownerKey(userID, currency)]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return s.storage[id].Clone(), nil
}

func (s *memoryStore) List(_ context.Context, afterID string, limit int) ([]Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.storage))
	for id := range s.storage {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Wallet, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.storage[id].Clone())
	}
	return out, nil
}

func (s *memoryStore) CompareAndSetBalance(_ context.Context, id string, update BalanceUpdate) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallet, ok := s.storage[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	if wallet.HaltReason != "" {
		return Wallet{}, ErrHalted
	}
	if wallet.Balance != update.ExpectedBalance || wallet.Version != update.ExpectedVersion || wallet.Pending != nil {
		return Wallet{}, ErrStaleState
	}
	pending := update.Pending.Clone()
	wallet.Balance = pending.ResultingBalance
	wallet.Version = pending.Sequence
	wallet.Pending = &pending
	wallet.UpdatedAt = s.now()
	s.storage[id] = wallet
	return wallet.Clone(), nil
}

func (s *memoryStore) ClearPending(_ context.Context, id, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallet, ok := s.storage[id]
	if !ok {
		return ErrNotFound
	}
	if wallet.Pending == nil {
		return nil
	}
	if wallet.Pending.ID != entryID {
		return ErrPendingMismatch
	}
	wallet.Pending = nil
	s.storage[id] = wallet
	return nil
}

func (s *memoryStore) SetStatus(_ context.Context, id string, status Status) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallet, ok := s.storage[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	wallet.Status = status
	wallet.UpdatedAt = s.now()
	s.storage[id] = wallet
	return wallet.Clone(), nil
}

func (s *memoryStore) SetHalt(_ context.Context, id, reason string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallet, ok := s.storage[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	wallet.HaltReason = reason
	wallet.UpdatedAt = s.now()
	s.storage[id] = wallet
	return wallet.Clone(), nil
}
