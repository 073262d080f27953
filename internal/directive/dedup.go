package directive

import (
	"sync"
	"time"
)

// DefaultDedupCapacity bounds the number of remembered directives.
const DefaultDedupCapacity = 1024

// DedupCache remembers recently forwarded controller directives. It is local
// to one running instance, so suppression across instances is best-effort.
type DedupCache struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	entries  map[string]time.Time
	now      func() time.Time
}

// NewDedupCache creates a cache that suppresses repeats within window. A
// zero window disables suppression.
func NewDedupCache(window time.Duration, capacity int) *DedupCache {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DedupCache{
		window:   window,
		capacity: capacity,
		entries:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// DedupKey identifies a directive for suppression. Keys are scoped to a
// client so households sharing an endpoint ID never suppress each other.
func DedupKey(clientID, endpointID, namespace, name string) string {
	return clientID + ":" + endpointID + ":" + namespace + ":" + name
}

// Seen reports whether key was recorded within the window.
func (c *DedupCache) Seen(key string) bool {
	if c == nil || c.window <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.now().Sub(at) >= c.window {
		delete(c.entries, key)
		return false
	}
	return true
}

// Record marks key as forwarded now.
func (c *DedupCache) Record(key string) {
	if c == nil || c.window <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.capacity {
		c.evict(now)
	}
	c.entries[key] = now
}

// Len returns the number of remembered entries.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evict drops expired entries, then the oldest one if the cache is still
// full. Callers hold c.mu.
func (c *DedupCache) evict(now time.Time) {
	for key, at := range c.entries {
		if now.Sub(at) >= c.window {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.capacity {
		return
	}
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, at := range c.entries {
		if oldestKey == "" || at.Before(oldestAt) {
			oldestKey, oldestAt = key, at
		}
	}
	delete(c.entries, oldestKey)
}
