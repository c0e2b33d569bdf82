package engine

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResultCache memoizes extraction results by input URL: L1 in memory,
// optional L2 in Redis. L1 is bounded; L2 relies on key expiry.
type ResultCache struct {
	mu         sync.Mutex
	l1         map[string]cacheEntry
	rdb        *redis.Client // nil = L1 only
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	result ExtractionResult
	stored time.Time
}

// CacheOption configures a ResultCache.
type CacheOption func(*ResultCache)

// WithCacheClock replaces time.Now (tests).
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *ResultCache) { c.now = now }
}

// WithRedis enables the L2 tier.
func WithRedis(rdb *redis.Client) CacheOption {
	return func(c *ResultCache) { c.rdb = rdb }
}

// NewResultCache creates a cache holding at most maxEntries results for ttl.
func NewResultCache(ttl time.Duration, maxEntries int, opts ...CacheOption) *ResultCache {
	c := &ResultCache{
		l1:         make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ConnectRedis parses redisURL and pings the server.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	slog.Info("cache: L2 redis connected", slog.String("addr", opts.Addr))
	return rdb, nil
}

// CacheKey builds a deterministic Redis key from parts.
func CacheKey(parts ...string) string {
	joined := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(joined))
	return fmt.Sprintf("yta:%x", hash[:12])
}

// Get returns a result stored less than ttl ago. An L2 hit refills L1.
func (c *ResultCache) Get(ctx context.Context, key string) (ExtractionResult, bool) {
	now := c.now()
	c.mu.Lock()
	if e, ok := c.l1[key]; ok {
		if now.Sub(e.stored) < c.ttl {
			c.mu.Unlock()
			c.hits.Add(1)
			slog.Debug("cache: L1 hit", slog.String("url", key))
			return e.result, true
		}
		delete(c.l1, key)
	}
	c.mu.Unlock()

	if c.rdb != nil {
		rk := CacheKey("audio", key)
		data, err := c.rdb.Get(ctx, rk).Bytes()
		if err == nil {
			var r ExtractionResult
			if json.Unmarshal(data, &r) == nil {
				c.hits.Add(1)
				slog.Debug("cache: L2 hit", slog.String("url", key))
				stored := now
				if remaining, err := c.rdb.PTTL(ctx, rk).Result(); err == nil && remaining > 0 {
					stored = refillStamp(now, remaining, c.ttl)
				}
				c.store(key, r, stored, now)
				return r, true
			}
		}
	}

	c.misses.Add(1)
	return ExtractionResult{}, false
}

// Set stores r in both tiers.
func (c *ResultCache) Set(ctx context.Context, key string, r ExtractionResult) {
	now := c.now()
	c.store(key, r, now, now)
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, CacheKey("audio", key), data, c.ttl).Err(); err != nil {
		slog.Debug("cache: L2 set failed", slog.Any("error", err))
	}
}

// store puts r in L1 as if written at stored; now drives eviction.
func (c *ResultCache) store(key string, r ExtractionResult, stored, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.l1[key]; !exists {
		c.evictLocked(now)
	}
	c.l1[key] = cacheEntry{result: r, stored: stored}
}

// refillStamp back-dates an L2 entry with remaining lifetime so that L1
// expires it when Redis does.
func refillStamp(now time.Time, remaining, ttl time.Duration) time.Time {
	if remaining >= ttl {
		return now
	}
	return now.Add(remaining - ttl)
}

// evictLocked makes room for one entry: expired entries go first, then the
// oldest until below maxEntries.
func (c *ResultCache) evictLocked(now time.Time) {
	if c.maxEntries <= 0 || len(c.l1) < c.maxEntries {
		return
	}
	for k, e := range c.l1 {
		if now.Sub(e.stored) >= c.ttl {
			delete(c.l1, k)
		}
	}
	for len(c.l1) >= c.maxEntries {
		c.dropOldestLocked()
	}
}

func (c *ResultCache) dropOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.l1 {
		if first || e.stored.Before(oldest) || (e.stored.Equal(oldest) && k < oldestKey) {
			oldestKey, oldest, first = k, e.stored, false
		}
	}
	if !first {
		delete(c.l1, oldestKey)
	}
}

// DropOldest removes up to n of the oldest L1 entries.
func (c *ResultCache) DropOldest(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for ; dropped < n && len(c.l1) > 0; dropped++ {
		c.dropOldestLocked()
	}
	return dropped
}

// Sweep removes expired L1 entries.
func (c *ResultCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.l1 {
		if now.Sub(e.stored) >= c.ttl {
			delete(c.l1, k)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done.
func (c *ResultCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				slog.Debug("cache: swept expired entries", slog.Int("removed", n))
			}
		}
	}
}

// Len is the number of L1 entries, expired or not.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.l1)
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries    int           `json:"entries"`
	MaxEntries int           `json:"max_entries"`
	TTL        time.Duration `json:"ttl"`
	Hits       int64         `json:"hits"`
	Misses     int64         `json:"misses"`
	Redis      bool          `json:"redis"`
}

// Stats returns current cache counters.
func (c *ResultCache) Stats() CacheStats {
	return CacheStats{
		Entries:    c.Len(),
		MaxEntries: c.maxEntries,
		TTL:        c.ttl,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Redis:      c.rdb != nil,
	}
}

// Close releases the Redis connection, if any.
func (c *ResultCache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
