package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCacheKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, CacheKey("audio", testURL), CacheKey("audio", testURL))
	})
	t.Run("different inputs differ", func(t *testing.T) {
		assert.NotEqual(t, CacheKey("audio", "a"), CacheKey("audio", "b"))
	})
	t.Run("has prefix", func(t *testing.T) {
		assert.Regexp(t, `^yta:[0-9a-f]{24}$`, CacheKey("audio"))
	})
}

func TestCacheGetSet(t *testing.T) {
	clk := newClock()
	c := NewResultCache(time.Hour, 10, WithCacheClock(clk.Now))
	ctx := context.Background()

	_, ok := c.Get(ctx, testURL)
	assert.False(t, ok)

	want := ExtractionResult{AudioURL: "https://a/1", Title: "one", StrategyUsed: StrategyWebDesktop}
	c.Set(ctx, testURL, want)
	got, ok := c.Get(ctx, testURL)
	require.True(t, ok)
	assert.Equal(t, want, got)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.False(t, st.Redis)
}

func TestCacheExpiry(t *testing.T) {
	clk := newClock()
	c := NewResultCache(time.Hour, 10, WithCacheClock(clk.Now))
	ctx := context.Background()

	c.Set(ctx, "k", ExtractionResult{AudioURL: "https://a/1"})
	clk.Advance(59 * time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	clk.Advance(time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "entry at exactly ttl is stale")
	assert.Equal(t, 0, c.Len(), "stale entry removed on read")
}

func TestCacheEvictsOldestWhenFull(t *testing.T) {
	clk := newClock()
	c := NewResultCache(time.Hour, 3, WithCacheClock(clk.Now))
	ctx := context.Background()

	for i := range 3 {
		c.Set(ctx, fmt.Sprintf("k%d", i), ExtractionResult{AudioURL: "https://a"})
		clk.Advance(time.Second)
	}
	c.Set(ctx, "k3", ExtractionResult{AudioURL: "https://a"})

	assert.Equal(t, 3, c.Len())
	_, ok := c.Get(ctx, "k0")
	assert.False(t, ok, "oldest evicted")
	for _, k := range []string{"k1", "k2", "k3"} {
		_, ok := c.Get(ctx, k)
		assert.True(t, ok, k)
	}
}

func TestCacheEvictsExpiredBeforeOldest(t *testing.T) {
	clk := newClock()
	c := NewResultCache(10*time.Minute, 3, WithCacheClock(clk.Now))
	ctx := context.Background()

	c.Set(ctx, "old1", ExtractionResult{})
	c.Set(ctx, "old2", ExtractionResult{})
	clk.Advance(9 * time.Minute)
	c.Set(ctx, "fresh", ExtractionResult{})
	clk.Advance(2 * time.Minute)

	c.Set(ctx, "new", ExtractionResult{})
	assert.Equal(t, 2, c.Len(), "both expired entries go, nothing fresh does")
	_, ok := c.Get(ctx, "fresh")
	assert.True(t, ok)
}

func TestCacheOverwriteDoesNotEvict(t *testing.T) {
	c := NewResultCache(time.Hour, 2)
	ctx := context.Background()
	c.Set(ctx, "a", ExtractionResult{Title: "1"})
	c.Set(ctx, "b", ExtractionResult{Title: "1"})
	c.Set(ctx, "a", ExtractionResult{Title: "2"})

	assert.Equal(t, 2, c.Len())
	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "2", got.Title)
}

func TestCacheDropOldest(t *testing.T) {
	clk := newClock()
	c := NewResultCache(time.Hour, 100, WithCacheClock(clk.Now))
	ctx := context.Background()
	for i := range 25 {
		c.Set(ctx, fmt.Sprintf("k%02d", i), ExtractionResult{})
		clk.Advance(time.Second)
	}

	assert.Equal(t, 10, c.DropOldest(10))
	assert.Equal(t, 15, c.Len())
	_, ok := c.Get(ctx, "k09")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "k10")
	assert.True(t, ok)

	assert.Equal(t, 15, c.DropOldest(50), "stops when empty")
}

func TestCacheSweep(t *testing.T) {
	clk := newClock()
	c := NewResultCache(time.Minute, 10, WithCacheClock(clk.Now))
	ctx := context.Background()
	c.Set(ctx, "a", ExtractionResult{})
	clk.Advance(30 * time.Second)
	c.Set(ctx, "b", ExtractionResult{})
	clk.Advance(45 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestRefillStampKeepsRemainingLifetime(t *testing.T) {
	now := newClock().Now()
	assert.Equal(t, now.Add(-40*time.Minute), refillStamp(now, 20*time.Minute, time.Hour))
	assert.Equal(t, now, refillStamp(now, time.Hour, time.Hour))
	assert.Equal(t, now, refillStamp(now, 2*time.Hour, time.Hour))
}

func TestRefilledEntryExpiresWithRemoteCopy(t *testing.T) {
	clk := newClock()
	c := NewResultCache(time.Hour, 10, WithCacheClock(clk.Now))
	ctx := context.Background()

	// An L2 copy written 40 minutes ago has 20 minutes left.
	c.store("k", ExtractionResult{AudioURL: "https://a/1"}, refillStamp(clk.Now(), 20*time.Minute, time.Hour), clk.Now())

	clk.Advance(19 * time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	clk.Advance(time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "served no longer than the original ttl")
}
