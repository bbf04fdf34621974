package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brain/internal/types"
)

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCacheFromClient(client, 7*24*time.Hour)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

// caches runs one test body against both implementations.
func caches(t *testing.T, fn func(t *testing.T, c types.Cache)) {
	t.Run("redis", func(t *testing.T) {
		c, _ := newRedisCache(t)
		fn(t, c)
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryCache(0))
	})
}

func TestCacheGetSet(t *testing.T) {
	caches(t, func(t *testing.T, c types.Cache) {
		ctx := context.Background()

		_, found, err := c.Get(ctx, "test", "missing")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, c.Set(ctx, "test", "key", "value", time.Minute))
		val, found, err := c.Get(ctx, "test", "key")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "value", val)
	})
}

func TestCacheBrainNamespacing(t *testing.T) {
	caches(t, func(t *testing.T, c types.Cache) {
		ctx := context.Background()
		require.NoError(t, c.Set(ctx, "brain-a", "key", "value", time.Minute))

		_, found, err := c.Get(ctx, "brain-b", "key")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestCacheDelete(t *testing.T) {
	caches(t, func(t *testing.T, c types.Cache) {
		ctx := context.Background()
		require.NoError(t, c.Set(ctx, "test", "key", "value", time.Minute))
		require.NoError(t, c.Delete(ctx, "test", "key"))

		_, found, err := c.Get(ctx, "test", "key")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestCacheDecr(t *testing.T) {
	caches(t, func(t *testing.T, c types.Cache) {
		ctx := context.Background()
		require.NoError(t, c.Set(ctx, "test", "counter", "3", 0))

		for _, want := range []int64{2, 1, 0, -1} {
			got, err := c.Decr(ctx, "test", "counter")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})
}

func TestCacheDecrMissingCounter(t *testing.T) {
	caches(t, func(t *testing.T, c types.Cache) {
		got, err := c.Decr(context.Background(), "test", "never-set")
		require.NoError(t, err)
		assert.Equal(t, int64(-1), got)
	})
}

func TestCacheTaskKeysRegistered(t *testing.T) {
	caches(t, func(t *testing.T, c types.Cache) {
		ctx := context.Background()
		require.NoError(t, c.Set(ctx, "test", "task:abc", `{"status":"pending"}`, time.Hour))
		require.NoError(t, c.Set(ctx, "test", "task:def", `{"status":"done"}`, time.Hour))
		require.NoError(t, c.Set(ctx, "test", "not-a-task", "x", time.Hour))

		keys, err := c.GetTaskKeys(ctx, "test")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"task:abc", "task:def"}, keys)
	})
}

func TestCacheTaskKeysDeleteUnregisters(t *testing.T) {
	caches(t, func(t *testing.T, c types.Cache) {
		ctx := context.Background()
		require.NoError(t, c.Set(ctx, "test", "task:abc", "x", time.Hour))
		require.NoError(t, c.Delete(ctx, "test", "task:abc"))

		keys, err := c.GetTaskKeys(ctx, "test")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestRedisCacheTTLExpiry(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "test", "ephemeral", "x", time.Second))
	mr.FastForward(2 * time.Second)

	_, found, err := c.Get(ctx, "test", "ephemeral")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCacheTaskKeyPurge(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCacheFromClient(client, time.Hour)
	defer c.Close()
	ctx := context.Background()

	// Backdate a registry entry beyond the retention window.
	require.NoError(t, client.HSet(ctx, "test:_tasks", "task:old",
		time.Now().Add(-2*time.Hour).Unix()).Err())
	require.NoError(t, c.Set(ctx, "test", "task:new", "x", time.Hour))

	keys, err := c.GetTaskKeys(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, []string{"task:new"}, keys)

	// The purge is persistent, not per-read.
	entries, err := client.HGetAll(ctx, "test:_tasks").Result()
	require.NoError(t, err)
	_, stillThere := entries["task:old"]
	assert.False(t, stillThere)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "test", "ephemeral", "x", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, found, err := c.Get(ctx, "test", "ephemeral")
	require.NoError(t, err)
	assert.False(t, found)
}
