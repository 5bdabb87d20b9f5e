package changeengine

import (
	"sync"
	"time"
)

type idempotencyEntry struct {
	result    ApplyResult
	expiresAt time.Time
}

// idempotencyCache is a process-wide, size- and TTL-bounded cache of
// (itineraryID, key) -> ApplyResult, defaulting to 10k entries and a 1h
// TTL. Evictions never compromise correctness because the underlying
// operation remains the source of truth; a cache miss simply re-executes.
type idempotencyCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]*idempotencyEntry
	order   []string // insertion order, for FIFO eviction once maxSize is hit
}

func newIdempotencyCache(maxSize int, ttl time.Duration) *idempotencyCache {
	if maxSize <= 0 {
		maxSize = 10_000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &idempotencyCache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*idempotencyEntry),
	}
}

func cacheKey(itineraryID, idempotencyKey string) string {
	return itineraryID + "\x00" + idempotencyKey
}

func (c *idempotencyCache) get(itineraryID, key string) (ApplyResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := cacheKey(itineraryID, key)
	e, ok := c.entries[k]
	if !ok {
		return ApplyResult{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, k)
		return ApplyResult{}, false
	}
	return e.result, true
}

func (c *idempotencyCache) put(itineraryID, key string, result ApplyResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := cacheKey(itineraryID, key)
	if _, exists := c.entries[k]; !exists {
		c.order = append(c.order, k)
	}
	c.entries[k] = &idempotencyEntry{result: result, expiresAt: time.Now().Add(c.ttl)}

	for len(c.order) > c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}
