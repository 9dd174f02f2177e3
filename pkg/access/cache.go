package access

import (
	"sync"
	"time"
)

// scopeCache holds resolved accessible-project sets per user email for a
// short TTL. It is process-local and eventually consistent: a membership
// change can take up to the TTL to be seen by other in-flight requests
// unless a write path invalidates the key explicitly.
type scopeCache struct {
	mu      sync.RWMutex
	entries map[string]scopeCacheEntry
	ttl     time.Duration
}

type scopeCacheEntry struct {
	set       *ProjectSet
	expiresAt time.Time
}

func newScopeCache(ttl time.Duration) *scopeCache {
	return &scopeCache{
		entries: make(map[string]scopeCacheEntry),
		ttl:     ttl,
	}
}

func (c *scopeCache) get(email string) (*ProjectSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[email]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.set, true
}

func (c *scopeCache) set(email string, set *ProjectSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[email] = scopeCacheEntry{
		set:       set,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *scopeCache) invalidate(email string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, email)
}

func (c *scopeCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]scopeCacheEntry)
}
