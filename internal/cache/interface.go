package cache

import "fieldmap/internal/tile"

// Cache is one tier of the tile cache. Implementations are safe for
// concurrent use by the worker and the render loop.
type Cache interface {
	Get(key tile.Key) (*tile.Bitmap, bool)
	Put(key tile.Key, bmp *tile.Bitmap)
	ContainsKey(key tile.Key) bool // Check if tile exists without reading it (lightweight check)
	SetCapacity(n int)
	Capacity() int
	Len() int
	Clear()
	Destroy()
}
