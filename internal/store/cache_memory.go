package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"brain/internal/types"
)

// =============================================================================
// CACHE (in-memory)
// =============================================================================

// MemoryCache is an in-process types.Cache for tests and single-process
// runs. Same key semantics as RedisCache, including the task registry.
type MemoryCache struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	tasks     map[string]map[string]time.Time
	retention time.Duration
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

var _ types.Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache with the given task retention.
func NewMemoryCache(retention time.Duration) *MemoryCache {
	if retention <= 0 {
		retention = defaultTaskRetention
	}
	return &MemoryCache{
		entries:   make(map[string]memoryEntry),
		tasks:     make(map[string]map[string]time.Time),
		retention: retention,
	}
}

func (c *MemoryCache) Get(ctx context.Context, brain, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[cacheKey(brain, key)]
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(c.entries, cacheKey(brain, key))
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, brain, key, value string, expiresIn time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expiresAt time.Time
	if expiresIn > 0 {
		expiresAt = time.Now().Add(expiresIn)
	}
	c.entries[cacheKey(brain, key)] = memoryEntry{value: value, expiresAt: expiresAt}
	if isTaskKey(key) {
		b := sanitizeBrain(brain)
		if c.tasks[b] == nil {
			c.tasks[b] = make(map[string]time.Time)
		}
		if _, ok := c.tasks[b][key]; !ok {
			c.tasks[b][key] = time.Now()
		}
	}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, brain, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(brain, key))
	if isTaskKey(key) {
		if reg := c.tasks[sanitizeBrain(brain)]; reg != nil {
			delete(reg, key)
		}
	}
	return nil
}

func (c *MemoryCache) GetTaskKeys(ctx context.Context, brain string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reg := c.tasks[sanitizeBrain(brain)]
	cutoff := time.Now().Add(-c.retention)
	var keys []string
	for key, createdAt := range reg {
		if createdAt.Before(cutoff) {
			delete(reg, key)
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (c *MemoryCache) Decr(ctx context.Context, brain, counter string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(brain, counter)
	entry := c.entries[key]
	// Redis treats a missing counter as zero.
	val := int64(0)
	if entry.value != "" {
		if parsed, err := strconv.ParseInt(entry.value, 10, 64); err == nil {
			val = parsed
		}
	}
	val--
	entry.value = strconv.FormatInt(val, 10)
	c.entries[key] = entry
	return val, nil
}

func (c *MemoryCache) Close() error {
	return nil
}
