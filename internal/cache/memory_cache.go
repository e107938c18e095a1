package cache

import (
	"sync"

	"fieldmap/internal/tile"
)

type slot struct {
	key  tile.Key
	bmp  *tile.Bitmap
	used bool
}

// MemoryCache is a fixed arena of slots written in ring order, so eviction
// always drops the earliest inserted entry that is still present.
type MemoryCache struct {
	mu    sync.RWMutex
	slots []slot
	index map[tile.Key]int
	next  int
	count int
}

// NewMemoryCache creates an in-memory cache holding at most capacity tiles
func NewMemoryCache(capacity int) *MemoryCache {
	c := &MemoryCache{}
	c.reset(capacity)
	return c
}

func (c *MemoryCache) reset(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	c.slots = make([]slot, capacity)
	c.index = make(map[tile.Key]int, capacity)
	c.next = 0
	c.count = 0
}

func (c *MemoryCache) ContainsKey(key tile.Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.index[key]
	return ok
}

func (c *MemoryCache) Get(key tile.Key) (*tile.Bitmap, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return c.slots[i].bmp, true
}

func (c *MemoryCache) Put(key tile.Key, bmp *tile.Bitmap) {
	if bmp == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.index[key]; ok {
		c.slots[i].bmp = bmp
		return
	}
	if len(c.slots) == 0 {
		return
	}

	s := &c.slots[c.next]
	if s.used {
		delete(c.index, s.key)
	} else {
		c.count++
	}
	*s = slot{key: key, bmp: bmp, used: true}
	c.index[key] = c.next
	c.next = (c.next + 1) % len(c.slots)
}

// SetCapacity resizes the arena, keeping the newest entries.
func (c *MemoryCache) SetCapacity(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.ordered()
	c.reset(n)
	if len(entries) > len(c.slots) {
		entries = entries[len(entries)-len(c.slots):]
	}
	for _, e := range entries {
		c.slots[c.next] = e
		c.index[e.key] = c.next
		c.next = (c.next + 1) % len(c.slots)
		c.count++
	}
}

// ordered returns live slots from oldest to newest.
func (c *MemoryCache) ordered() []slot {
	out := make([]slot, 0, c.count)
	n := len(c.slots)
	start := 0
	if c.count == n {
		start = c.next
	}
	for i := 0; i < n; i++ {
		s := c.slots[(start+i)%n]
		if s.used {
			out = append(out, s)
		}
	}
	return out
}

func (c *MemoryCache) Capacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset(len(c.slots))
}

func (c *MemoryCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset(0)
}
