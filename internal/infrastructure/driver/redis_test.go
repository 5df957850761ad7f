package driver

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisClient) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	return mr, NewRedisClientFromConn(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestRedisClient(t *testing.T) {
	mr, rdb := setupMiniRedis(t)
	defer mr.Close()
	defer rdb.Close()
	ctx := context.Background()

	require.NoError(t, rdb.Ping(ctx))
	require.NoError(t, rdb.SetEX(ctx, "k", "v", time.Minute))

	v, err := rdb.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	ok, err := rdb.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = rdb.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	mr.FastForward(2 * time.Minute)
	ok, err = rdb.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
