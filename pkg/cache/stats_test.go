package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats_TableListLookups(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t, DefaultConfig())
	key := Key("tables", "prod", "app")

	_, ok := cache.Get(ctx, key)
	require.False(t, ok)
	cache.Put(ctx, key, []string{"orders", "users"})
	for i := 0; i < 2; i++ {
		_, ok = cache.Get(ctx, key)
		require.True(t, ok)
	}

	stats := cache.Stats()
	assert.Equal(t, Stats{Hits: 2, Misses: 1, Size: 1, LastUpdated: stats.LastUpdated}, stats)
	assert.InDelta(t, 2.0/3.0, cache.stats.HitRate(), 1e-9)
}

func TestStats_ExpiredRulesCountAsMiss(t *testing.T) {
	ctx := context.Background()
	cache, clk := newTestCache(t, DefaultConfig().WithTTL(30*time.Second))

	cache.Put(ctx, Key("rules"), []string{"phone"})
	clk.advance(31 * time.Second)
	_, ok := cache.Get(ctx, Key("rules"))
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, uint64(0), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, int64(0), stats.Size)
	assert.Equal(t, 0.0, cache.stats.HitRate())
}

func TestStats_EvictionsAtCapacity(t *testing.T) {
	ctx := context.Background()
	cache, clk := newTestCache(t, DefaultConfig().WithMaxEntries(2))

	// app is the oldest when audit arrives, billing when app comes back
	for _, schema := range []string{"app", "billing", "audit", "app"} {
		cache.Put(ctx, Key("tables", "prod", schema), []string{"t"})
		clk.advance(time.Second)
	}

	stats := cache.Stats()
	assert.Equal(t, uint64(2), stats.Evictions)
	assert.Equal(t, int64(2), stats.Size)
}

func TestStats_ConcurrentLookups(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t, DefaultConfig())
	cache.Put(ctx, Key("databases", "prod"), []string{"app"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				cache.Get(ctx, Key("databases", "prod"))
				cache.Get(ctx, Key("databases", "staging"))
			}
		}()
	}
	wg.Wait()

	stats := cache.Stats()
	assert.Equal(t, uint64(1000), stats.Hits)
	assert.Equal(t, uint64(1000), stats.Misses)
	assert.Equal(t, 0.5, cache.stats.HitRate())
}

func TestStatsCollector_LastUpdated(t *testing.T) {
	collector := NewStatsCollector()
	before := collector.GetStats().LastUpdated
	require.False(t, before.IsZero())

	collector.RecordMiss()
	assert.False(t, collector.GetStats().LastUpdated.Before(before))
}
