package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"brain/internal/logging"
	"brain/internal/types"
)

// =============================================================================
// CACHE (Redis)
// =============================================================================

// RedisCache implements types.Cache over Redis. Keys are namespaced as
// <brain>:<key>. Keys beginning with "task:" are mirrored into the
// <brain>:_tasks hash with their creation time so the status surface can
// enumerate tasks; GetTaskKeys purges hash entries older than the
// retention window as it reads.
type RedisCache struct {
	client    *redis.Client
	retention time.Duration
}

var _ types.Cache = (*RedisCache)(nil)

const defaultTaskRetention = 7 * 24 * time.Hour

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int, retention time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	if retention <= 0 {
		retention = defaultTaskRetention
	}
	logging.Cache("Connected to redis at %s (db %d)", addr, db)
	return &RedisCache{client: client, retention: retention}, nil
}

// NewRedisCacheFromClient wraps an existing client. Used by tests.
func NewRedisCacheFromClient(client *redis.Client, retention time.Duration) *RedisCache {
	if retention <= 0 {
		retention = defaultTaskRetention
	}
	return &RedisCache{client: client, retention: retention}
}

// Client exposes the underlying connection for the task queue, which
// shares the Redis instance.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func cacheKey(brain, key string) string {
	return sanitizeBrain(brain) + ":" + key
}

func tasksHashKey(brain string) string {
	return sanitizeBrain(brain) + ":_tasks"
}

// Get reads a value. The second return reports presence.
func (c *RedisCache) Get(ctx context.Context, brain, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(brain, key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get failed: %w", err)
	}
	return val, true, nil
}

// Set writes a value with a TTL. A zero expiresIn stores without expiry.
// Task-status keys are also registered in the _tasks hash.
func (c *RedisCache) Set(ctx context.Context, brain, key, value string, expiresIn time.Duration) error {
	if err := c.client.Set(ctx, cacheKey(brain, key), value, expiresIn).Err(); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	if isTaskKey(key) {
		// HSetNX keeps the original creation time across status updates.
		if err := c.client.HSetNX(ctx, tasksHashKey(brain), key, time.Now().Unix()).Err(); err != nil {
			logging.CacheError("Failed to register task key %s: %v", key, err)
		}
	}
	return nil
}

// Delete removes a key and its task-registry entry if present.
func (c *RedisCache) Delete(ctx context.Context, brain, key string) error {
	if err := c.client.Del(ctx, cacheKey(brain, key)).Err(); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	if isTaskKey(key) {
		c.client.HDel(ctx, tasksHashKey(brain), key)
	}
	return nil
}

// GetTaskKeys lists registered task keys, purging entries older than the
// retention window.
func (c *RedisCache) GetTaskKeys(ctx context.Context, brain string) ([]string, error) {
	entries, err := c.client.HGetAll(ctx, tasksHashKey(brain)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list task keys: %w", err)
	}

	cutoff := time.Now().Add(-c.retention).Unix()
	var keys []string
	var expired []string
	for key, createdAt := range entries {
		ts, err := strconv.ParseInt(createdAt, 10, 64)
		if err != nil || ts < cutoff {
			expired = append(expired, key)
			continue
		}
		keys = append(keys, key)
	}
	if len(expired) > 0 {
		if err := c.client.HDel(ctx, tasksHashKey(brain), expired...).Err(); err != nil {
			logging.CacheError("Failed to purge %d expired task keys: %v", len(expired), err)
		} else {
			logging.CacheDebug("Purged %d expired task keys from brain %s", len(expired), brain)
		}
	}
	return keys, nil
}

// Decr atomically decrements a counter and returns the new value.
func (c *RedisCache) Decr(ctx context.Context, brain, counter string) (int64, error) {
	val, err := c.client.Decr(ctx, cacheKey(brain, counter)).Result()
	if err != nil {
		return 0, fmt.Errorf("cache decrement failed: %w", err)
	}
	return val, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func isTaskKey(key string) bool {
	return len(key) > 5 && key[:5] == "task:"
}
