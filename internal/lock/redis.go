package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "walletledger:lock:"

// releaseScript deletes the key only while it still holds our token, so a
// holder whose lease expired cannot release the next owner's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker is a Locker shared by every process using the same Redis. A
// lock is a key set with NX and a lease; waiting callers poll until the key
// is free or ctx ends.
type RedisLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	logger        *slog.Logger
}

// NewRedisLocker builds a Redis-backed locker. ttl bounds how long a crashed
// holder can block a key.
func NewRedisLocker(client *redis.Client, ttl, retryInterval time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retryInterval <= 0 {
		retryInterval = 25 * time.Millisecond
	}
	return &RedisLocker{client: client, ttl: ttl, retryInterval: retryInterval, logger: logger}
}

// Lock acquires key, retrying until ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := redisKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrNotAcquired, ctx.Err())
			}
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil && l.logger != nil {
			l.logger.Warn("release wallet lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}
