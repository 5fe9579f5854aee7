package lock

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/logging"
)

func setupRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisLocker(client, ttl, 5*time.Millisecond, logging.Discard()), mr
}

func TestRedisLocker_ExclusiveUntilUnlock(t *testing.T) {
	l, mr := setupRedisLocker(t, time.Minute)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "wallet-a")
	require.NoError(t, err)
	require.True(t, mr.Exists(redisKeyPrefix+"wallet-a"))

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "wallet-a")
	require.ErrorIs(t, err, ErrNotAcquired)

	other, err := l.Lock(ctx, "wallet-b")
	require.NoError(t, err, "other keys are independent")
	other()

	unlock()
	require.False(t, mr.Exists(redisKeyPrefix+"wallet-a"))

	again, err := l.Lock(ctx, "wallet-a")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_ExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	l, mr := setupRedisLocker(t, time.Second)
	ctx := context.Background()

	stale, err := l.Lock(ctx, "wallet-a")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	current, err := l.Lock(ctx, "wallet-a")
	require.NoError(t, err)

	stale()
	require.True(t, mr.Exists(redisKeyPrefix+"wallet-a"), "stale holder must not delete the new owner's key")

	current()
	require.False(t, mr.Exists(redisKeyPrefix+"wallet-a"))
}
