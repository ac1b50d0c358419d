package cache

import (
	"sync"
	"time"
)

// Entry represents a cached value with its timestamp
type Entry[V any] struct {
	Value     V
	Timestamp time.Time
}

// Cache provides thread-safe caching with TTL support. The clock is
// injectable so TTL expiry is deterministically testable.
type Cache[V any] struct {
	data   map[string]*Entry[V]
	mutex  sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	stopCh chan struct{}
}

// New creates a new Cache instance with the specified TTL
func New[V any](ttl time.Duration) *Cache[V] {
	c := NewWithClock[V](ttl, time.Now)

	// Start cleanup goroutine
	go c.cleanup()

	return c
}

// NewWithClock creates a Cache with an injected clock and no cleanup
// goroutine. Intended for tests and for callers that drive cleanup
// themselves.
func NewWithClock[V any](ttl time.Duration, now func() time.Time) *Cache[V] {
	return &Cache[V]{
		data:   make(map[string]*Entry[V]),
		ttl:    ttl,
		now:    now,
		stopCh: make(chan struct{}),
	}
}

// Get retrieves a value from the cache if it exists and hasn't expired
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var zero V
	entry, exists := c.data[key]
	if !exists {
		return zero, false
	}

	// Check if entry has expired
	if c.now().Sub(entry.Timestamp) > c.ttl {
		return zero, false
	}

	return entry.Value, true
}

// Set stores a value in the cache with the current timestamp
func (c *Cache[V]) Set(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data[key] = &Entry[V]{
		Value:     value,
		Timestamp: c.now(),
	}
}

// Delete removes a key from the cache
func (c *Cache[V]) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.data, key)
}

// Clear removes all entries from the cache
func (c *Cache[V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data = make(map[string]*Entry[V])
}

// Size returns the number of entries in the cache
func (c *Cache[V]) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.data)
}

// cleanup runs periodically to remove expired entries
func (c *Cache[V]) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RemoveExpired()
		case <-c.stopCh:
			return
		}
	}
}

// RemoveExpired removes all expired entries from the cache
func (c *Cache[V]) RemoveExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	for key, entry := range c.data {
		if now.Sub(entry.Timestamp) > c.ttl {
			delete(c.data, key)
		}
	}
}

// Stop stops the cleanup goroutine
func (c *Cache[V]) Stop() {
	close(c.stopCh)
}
