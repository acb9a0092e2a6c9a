// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMiniRedis creates a test Redis server using miniredis.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisCache(client, zerolog.Nop())
}

func TestRedisCache_SetGet(t *testing.T) {
	ctx := context.Background()
	_, c := setupMiniRedis(t)

	require.NoError(t, c.Set(ctx, "test-key", []byte(`{"a":1}`), 5*time.Minute))

	val, err := c.Get(ctx, "test-key")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(val))

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestRedisCache_TTL(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)

	require.NoError(t, c.Set(ctx, "lease", []byte("x"), 30*time.Second))
	assert.Equal(t, 30*time.Second, mr.TTL("lease"))

	mr.FastForward(31 * time.Second)
	_, err := c.Get(ctx, "lease")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisCache_DeleteAndKeys(t *testing.T) {
	ctx := context.Background()
	_, c := setupMiniRedis(t)

	for _, k := range []string{"bridge:subscription:a", "bridge:subscription:b", "bridge:other"} {
		require.NoError(t, c.Set(ctx, k, []byte("x"), time.Minute))
	}

	keys, err := c.Keys(ctx, "bridge:subscription:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"bridge:subscription:a", "bridge:subscription:b"}, keys)

	require.NoError(t, c.Delete(ctx, "bridge:subscription:a"))
	keys, err = c.Keys(ctx, "bridge:subscription:")
	require.NoError(t, err)
	assert.Equal(t, []string{"bridge:subscription:b"}, keys)
}

func TestRedisCache_ServerDown(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)
	mr.Close()

	_, err := c.Get(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
	assert.Error(t, c.HealthCheck(ctx))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: addr})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = NewRedisClient(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}
