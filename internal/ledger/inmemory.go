package ledger

import (
	"context"
	"sort"
	"sync"
)

type inMemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]Entry
	byWallet map[string][]string // entry ids in append order
	byKey    map[string][]string
	byXfer   map[string][]string
}

// NewInMemory creates a concurrency-safe in-memory ledger store useful for
// tests and for running without a database.
func NewInMemory() Store {
	return &inMemoryStore{
		byID:     make(map[string]Entry),
		byWallet: make(map[string][]string),
		byKey:    make(map[string][]string),
		byXfer:   make(map[string][]string),
	}
}

func (s *inMemoryStore) Append(_ context.Context, entry Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[entry.ID]; exists {
		return Entry{}, ErrDuplicateEntry
	}
	for _, id := range s.byKey[entry.IdempotencyKey] {
		other := s.byID[id]
		if other.WalletID == entry.WalletID && other.Operation == entry.Operation {
			return Entry{}, ErrDuplicateEntry
		}
	}
	for _, id := range s.byWallet[entry.WalletID] {
		if s.byID[id].Sequence == entry.Sequence {
			return Entry{}, ErrDuplicateEntry
		}
	}

	stored := entry.Clone()
	s.byID[stored.ID] = stored
	s.byWallet[stored.WalletID] = append(s.byWallet[stored.WalletID], stored.ID)
	s.byKey[stored.IdempotencyKey] = append(s.byKey[stored.IdempotencyKey], stored.ID)
	if stored.TransferID != "" {
		s.byXfer[stored.TransferID] = append(s.byXfer[stored.TransferID], stored.ID)
	}
	return stored.Clone(), nil
}

func (s *inMemoryStore) Get(_ context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.byID[id]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return entry.Clone(), nil
}

func (s *inMemoryStore) FindByIdempotencyKey(_ context.Context, key string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byKey[key]), nil
}

func (s *inMemoryStore) FindByTransferID(_ context.Context, transferID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byXfer[transferID]), nil
}

func (s *inMemoryStore) ListByWallet(_ context.Context, walletID string, page Page) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.collect(s.byWallet[walletID])
	sort.Slice(entries, func(i, j int) bool {
		if page.Order == OldestFirst {
			return entries[i].Sequence < entries[j].Sequence
		}
		return entries[i].Sequence > entries[j].Sequence
	})

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !page.Matches(e) {
			continue
		}
		out = append(out, e)
		if page.Limit > 0 && len(out) == page.Limit {
			break
		}
	}
	return out, nil
}

func (s *inMemoryStore) collect(ids []string) []Entry {
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id].Clone())
	}
	return out
}
