package infra

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/logging"
)

func TestNewRedisClient(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(ctx, "redis://"+mr.Addr()+"/0", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())

	_, err = NewRedisClient(ctx, "", logging.Discard())
	require.Error(t, err)

	_, err = NewRedisClient(ctx, "http://"+mr.Addr(), logging.Discard())
	require.ErrorContains(t, err, "parse redis url")

	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisClient(ctx, "redis://"+addr, logging.Discard())
	require.ErrorContains(t, err, "ping redis")
}
