package cache

import "fieldmap/internal/tile"

type NoopCache struct{}

func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) Get(key tile.Key) (*tile.Bitmap, bool) {
	return nil, false
}

func (c *NoopCache) Put(key tile.Key, bmp *tile.Bitmap) {
}

func (c *NoopCache) ContainsKey(key tile.Key) bool {
	return false
}

func (c *NoopCache) SetCapacity(n int) {
}

func (c *NoopCache) Capacity() int {
	return 0
}

func (c *NoopCache) Len() int {
	return 0
}

func (c *NoopCache) Clear() {
}

func (c *NoopCache) Destroy() {
}
