package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	const workers = 50
	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		counter int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "wallet-a")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			defer unlock()

			if n := holders.Add(1); n != 1 {
				t.Errorf("expected a single holder, got %d", n)
			}
			counter++
			holders.Add(-1)
		}()
	}
	wg.Wait()

	require.Equal(t, workers, counter)
	require.Zero(t, m.Len(), "idle keys are dropped")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := m.Lock(ctx, "wallet-a")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := m.Lock(ctx, "wallet-b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another key blocked")
	}
}

func TestKeyedMutex_CancelWhileQueued(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "wallet-a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "wallet-a")
	require.ErrorIs(t, err, ErrNotAcquired)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op

	again, err := m.Lock(context.Background(), "wallet-a")
	require.NoError(t, err)
	again()
	require.Zero(t, m.Len())
}
