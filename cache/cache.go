package cache

import (
	"sync"
	"time"
)

// A Cache remembers the last timestamp written to each log file during this
// process. It is never persisted: on restart the timestamps are recovered by
// re-reading the log files themselves.
type Cache struct {
	lock  sync.RWMutex
	store map[string]time.Time
}

// NewCache returns a properly configured cache with the initial size provided
func NewCache(size int) *Cache {
	return &Cache{
		store: make(map[string]time.Time, size),
	}
}

func (c *Cache) Add(key string, lastWritten time.Time) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.store[key] = lastWritten
}

// Get returns the cached timestamp and whether there was one
func (c *Cache) Get(key string) (time.Time, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	ts, ok := c.store[key]
	return ts, ok
}

func (c *Cache) Del(key string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.store, key)
}

func (c *Cache) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return len(c.store)
}
