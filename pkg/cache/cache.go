// Package cache provides a small in-memory TTL cache used for configuration
// and catalog lookups that are read on every request.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Cache stores values of type V by key.
type Cache[V any] interface {
	// Get returns the value for key and whether it was present and fresh.
	Get(ctx context.Context, key string) (V, bool)
	// Put stores value under key.
	Put(ctx context.Context, key string, value V)
	// Delete removes key.
	Delete(ctx context.Context, key string)
	// Clear removes all entries.
	Clear(ctx context.Context)
	// Close releases any resources held by the cache.
	Close() error
}

// Entry is a single cache entry with its bookkeeping.
type Entry[V any] struct {
	Value     V
	CreatedAt time.Time
	LastUsed  time.Time
}

// MemoryCache is a Cache bounded by entry count. Entries older than the TTL
// are treated as absent; when full, the least recently used entry is evicted.
type MemoryCache[V any] struct {
	mu         sync.Mutex
	entries    map[string]*Entry[V]
	maxEntries int
	ttl        time.Duration
	stats      *StatsCollector
	now        func() time.Time
}

// NewMemoryCache creates a cache from cfg. A nil cfg uses DefaultConfig.
func NewMemoryCache[V any](cfg *Config) *MemoryCache[V] {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &MemoryCache[V]{
		entries:    make(map[string]*Entry[V]),
		maxEntries: cfg.MaxEntries,
		ttl:        cfg.TTL,
		now:        time.Now,
	}
	if cfg.EnableStats {
		c.stats = NewStatsCollector()
	}
	return c
}

// Get returns the value stored under key.
func (c *MemoryCache[V]) Get(ctx context.Context, key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.entries[key]
	if !ok {
		c.recordMiss()
		return zero, false
	}
	now := c.now()
	if c.ttl > 0 && now.Sub(entry.CreatedAt) > c.ttl {
		delete(c.entries, key)
		c.recordMiss()
		c.updateSize()
		return zero, false
	}
	entry.LastUsed = now
	if c.stats != nil {
		c.stats.RecordHit()
	}
	return entry.Value, true
}

// Put stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *MemoryCache[V]) Put(ctx context.Context, key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	now := c.now()
	c.entries[key] = &Entry[V]{
		Value:     value,
		CreatedAt: now,
		LastUsed:  now,
	}
	c.updateSize()
}

// Delete removes key.
func (c *MemoryCache[V]) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	c.updateSize()
}

// Clear removes all entries.
func (c *MemoryCache[V]) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry[V])
	c.updateSize()
}

// Close releases any resources held by the cache.
func (c *MemoryCache[V]) Close() error {
	c.Clear(context.Background())
	return nil
}

// Stats returns a snapshot of the cache statistics. It is the zero value
// when stats are disabled.
func (c *MemoryCache[V]) Stats() Stats {
	if c.stats == nil {
		return Stats{}
	}
	return c.stats.GetStats()
}

// evictOldest removes the least recently used entry from the cache.
func (c *MemoryCache[V]) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.LastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.LastUsed
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		if c.stats != nil {
			c.stats.RecordEviction()
		}
	}
}

func (c *MemoryCache[V]) recordMiss() {
	if c.stats != nil {
		c.stats.RecordMiss()
	}
}

func (c *MemoryCache[V]) updateSize() {
	if c.stats != nil {
		c.stats.UpdateSize(int64(len(c.entries)))
	}
}

// Key joins parts into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, "\x00")
}
