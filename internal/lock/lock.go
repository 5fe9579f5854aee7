// Package lock provides per-key mutual exclusion used to serialize
// operations on a wallet.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotAcquired is returned when a lock could not be obtained before the
// caller gave up.
var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

// Locker grants exclusive ownership of a key. Lock blocks until the key is
// free or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

type keyEntry struct {
	sem  chan struct{}
	refs int
}

// KeyedMutex is an in-process Locker. Keys are independent: holding one never
// delays another. Entries are dropped once no goroutine holds or awaits them.
type KeyedMutex struct {
	mu   sync.Mutex
	keys map[string]*keyEntry
}

// NewKeyedMutex builds an empty lock table.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{keys: make(map[string]*keyEntry)}
}

// Lock waits for key. A waiter whose ctx ends leaves the queue with ctx.Err().
func (m *KeyedMutex) Lock(ctx context.Context, key string) (Unlock, error) {
	m.mu.Lock()
	e, ok := m.keys[key]
	if !ok {
		e = &keyEntry{sem: make(chan struct{}, 1)}
		m.keys[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, fmt.Errorf("%w: %w", ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			m.release(key, e)
		})
	}, nil
}

func (m *KeyedMutex) release(key string, e *keyEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.keys, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}
