package utils

import (
	"sync"
	"time"
)

// ValueCache keeps the most recent reading per key and forgets readings older
// than its TTL. It is safe for concurrent use.
type ValueCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	data map[string]Entry
	now  func() time.Time
}

// Entry is a cached reading and the time it was taken.
type Entry struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// NewValueCache creates a cache with the given TTL. If ttl <= 0, it defaults to 1h.
func NewValueCache(ttl time.Duration) *ValueCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ValueCache{ttl: ttl, data: make(map[string]Entry, 8), now: time.Now}
}

// Set stores v as taken at. An older reading never replaces a newer one.
func (c *ValueCache) Set(key string, v float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.data[key]; ok && old.At.After(at) {
		return
	}
	c.data[key] = Entry{Value: v, At: at}
}

// Snapshot returns every unexpired entry.
func (c *ValueCache) Snapshot() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Entry, len(c.data))
	for k, e := range c.data {
		if c.expiredLocked(e) {
			delete(c.data, k)
			continue
		}
		out[k] = e
	}
	return out
}

func (c *ValueCache) expiredLocked(e Entry) bool {
	return c.clock().Sub(e.At) > c.ttl
}

func (c *ValueCache) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}
