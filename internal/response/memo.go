package response

import (
	"sync"
	"time"
)

// MemoCache holds successful payloads in memory for ExecuteWithCache
type MemoCache struct {
	mu      sync.RWMutex
	entries map[string]*memoEntry
	now     func() time.Time
}

type memoEntry struct {
	data     any
	storedAt time.Time
}

// NewMemoCache creates an empty memo cache
func NewMemoCache() *MemoCache {
	return &MemoCache{
		entries: make(map[string]*memoEntry),
		now:     time.Now,
	}
}

// Get returns the payload stored under key if it is younger than ttl
func (c *MemoCache) Get(key string, ttl time.Duration) (any, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if c.now().Sub(entry.storedAt) > ttl {
		c.mu.Lock()
		// only drop the entry we read, a concurrent Set may have replaced it
		if c.entries[key] == entry {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.data, true
}

// Set stores data under key
func (c *MemoCache) Set(key string, data any) {
	c.mu.Lock()
	c.entries[key] = &memoEntry{data: data, storedAt: c.now()}
	c.mu.Unlock()
}

// Clear removes all cached entries
func (c *MemoCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*memoEntry)
	c.mu.Unlock()
}

// Size returns the number of cached entries
func (c *MemoCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
