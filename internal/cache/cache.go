// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache provides a small key/value store with TTL support used for
// shared runtime state. Backends: in-memory (single node), Redis (shared
// between instances) and a no-op cache that stores nothing.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	// ErrMiss is returned by Get when the key is absent or expired.
	ErrMiss = errors.New("cache miss")
	// ErrUnsupported is returned by backends that cannot enumerate keys.
	ErrUnsupported = errors.New("operation not supported by cache backend")
)

// Cache provides thread-safe storage with expiration support.
type Cache interface {
	// Get returns the stored value or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value with ttl. ttl <= 0 keeps the value until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Stats returns cache statistics.
	Stats() CacheStats
	Close() error
}

// CacheStats holds cache performance metrics.
type CacheStats struct {
	Hits        int64 // Number of successful Get operations
	Misses      int64 // Number of failed Get operations (not found or expired)
	Sets        int64 // Number of Set operations
	Evictions   int64 // Number of expired entries cleaned up
	CurrentSize int   // Current number of cached entries
}

type entry struct {
	value      []byte
	expiration time.Time // zero: never expires
}

func (e *entry) isExpired(now time.Time) bool {
	return !e.expiration.IsZero() && !now.Before(e.expiration)
}

// MemoryCache is an in-memory implementation of Cache.
type MemoryCache struct {
	clock   clock.Clock
	mu      sync.RWMutex
	entries map[string]*entry
	stats   CacheStats
	janitor *janitor
}

// NewMemoryCache creates a new in-memory cache with automatic cleanup.
// The cleanupInterval determines how often expired entries are removed.
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	return NewMemoryCacheWithClock(clock.New(), cleanupInterval)
}

// NewMemoryCacheWithClock is NewMemoryCache with an injectable clock.
func NewMemoryCacheWithClock(clk clock.Clock, cleanupInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		clock:   clk,
		entries: make(map[string]*entry),
	}
	if cleanupInterval > 0 {
		c.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
			done:     make(chan struct{}),
		}
		go c.janitor.run(c)
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found || e.isExpired(c.clock.Now()) {
		c.stats.Misses++
		return nil, ErrMiss
	}
	c.stats.Hits++
	return append([]byte(nil), e.value...), nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := &entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiration = c.clock.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	c.stats.Sets++
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) Keys(_ context.Context, prefix string) ([]string, error) {
	now := c.clock.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	var keys []string
	for k, e := range c.entries {
		if strings.HasPrefix(k, prefix) && !e.isExpired(now) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (c *MemoryCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.CurrentSize = len(c.entries)
	return stats
}

// deleteExpired removes all expired entries and returns how many it removed.
func (c *MemoryCache) deleteExpired() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, e := range c.entries {
		if e.isExpired(now) {
			delete(c.entries, key)
			count++
		}
	}
	c.stats.Evictions += int64(count)
	return count
}

// Close stops the background cleanup goroutine.
func (c *MemoryCache) Close() error {
	if c.janitor != nil {
		c.janitor.once.Do(func() { close(c.janitor.stop) })
		<-c.janitor.done
	}
	return nil
}

// janitor performs periodic cleanup of expired entries.
type janitor struct {
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func (j *janitor) run(c *MemoryCache) {
	defer close(j.done)
	ticker := c.clock.Ticker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			return
		}
	}
}

// noOpCache stores nothing. Keys reports ErrUnsupported since it cannot
// tell "nothing stored" from "cannot enumerate".
type noOpCache struct{}

// NewNoOpCache creates a cache that doesn't cache anything.
func NewNoOpCache() Cache {
	return noOpCache{}
}

func (noOpCache) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (noOpCache) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}
func (noOpCache) Delete(context.Context, string) error { return nil }
func (noOpCache) Keys(context.Context, string) ([]string, error) {
	return nil, ErrUnsupported
}
func (noOpCache) Stats() CacheStats { return CacheStats{} }
func (noOpCache) Close() error      { return nil }

var _ Cache = (*MemoryCache)(nil)
