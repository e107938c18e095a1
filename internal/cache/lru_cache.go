package cache

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"fieldmap/internal/tile"
)

// LRUCache evicts the least recently used tile. Get counts as a use;
// ContainsKey does not.
type LRUCache struct {
	mu      sync.Mutex
	cache   *lru.Cache
	present map[tile.Key]struct{}
}

func NewLRUCache(capacity int) *LRUCache {
	if capacity < 0 {
		capacity = 0
	}
	c := &LRUCache{
		cache:   lru.New(capacity),
		present: make(map[tile.Key]struct{}),
	}
	c.cache.OnEvicted = func(key lru.Key, _ interface{}) {
		delete(c.present, key.(tile.Key))
	}
	return c
}

func (c *LRUCache) Get(key tile.Key) (*tile.Bitmap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*tile.Bitmap), true
}

func (c *LRUCache) Put(key tile.Key, bmp *tile.Bitmap) {
	if bmp == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// lru treats zero as unbounded
	if c.cache.MaxEntries == 0 {
		return
	}
	c.cache.Add(key, bmp)
	c.present[key] = struct{}{}
}

func (c *LRUCache) ContainsKey(key tile.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.present[key]
	return ok
}

func (c *LRUCache) SetCapacity(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n < 0 {
		n = 0
	}
	c.cache.MaxEntries = n
	for c.cache.Len() > n {
		c.cache.RemoveOldest()
	}
}

func (c *LRUCache) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.MaxEntries
}

func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Clear()
}

func (c *LRUCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Clear()
	c.cache.MaxEntries = 0
}
