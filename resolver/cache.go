package resolver

import (
	"sync"
	"time"

	"github.com/mailflow/rudder/pkg/metrics"
)

type cacheEntry struct {
	match      *Match
	err        error
	generation uint64
	expiresAt  time.Time
}

// matchCache memoizes corpus-scan resolutions (hierarchy and fuzzy) keyed by
// candidate domain. Entries are bound to the snapshot generation that
// produced them, so a registry reload invalidates the cache implicitly.
type matchCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	maxSize int
}

func newMatchCache(ttl time.Duration, maxSize int) *matchCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &matchCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

func (c *matchCache) get(domain string, generation uint64) (*Match, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[domain]
	if !ok || entry.generation != generation || time.Now().After(entry.expiresAt) {
		if ok {
			delete(c.entries, domain)
		}
		metrics.MatchCacheMissesTotal.Inc()
		return nil, nil, false
	}

	metrics.MatchCacheHitsTotal.Inc()
	return entry.match, entry.err, true
}

func (c *matchCache) put(domain string, generation uint64, match *Match, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictLocked()
	}

	c.entries[domain] = cacheEntry{
		match:      match,
		err:        err,
		generation: generation,
		expiresAt:  time.Now().Add(c.ttl),
	}
}

// evictLocked drops expired and stale entries first; if nothing expired it
// removes the entry closest to expiry. Caller holds the lock.
func (c *matchCache) evictLocked() {
	now := time.Now()
	var oldestKey string
	var oldestExpiry time.Time

	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			continue
		}
		if oldestKey == "" || entry.expiresAt.Before(oldestExpiry) {
			oldestKey = key
			oldestExpiry = entry.expiresAt
		}
	}

	if len(c.entries) >= c.maxSize && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *matchCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
