package cache

import (
	"fmt"

	"go.uber.org/zap"
)

// NewMemoryTier creates the in-memory tier for the given eviction policy
func NewMemoryTier(policy string, capacity int, log *zap.Logger) (Cache, error) {
	switch policy {
	case "", "fifo":
		log.Info("Using memory cache", zap.String("policy", "fifo"), zap.Int("max_tiles", capacity))
		return NewMemoryCache(capacity), nil
	case "lru":
		log.Info("Using memory cache", zap.String("policy", "lru"), zap.Int("max_tiles", capacity))
		return NewLRUCache(capacity), nil
	default:
		return nil, fmt.Errorf("unknown cache policy: %s (supported: fifo, lru)", policy)
	}
}

// NewDiskTier creates the on-disk tier based on the cache type
func NewDiskTier(cacheType string, opts FileOptions, log *zap.Logger) (Cache, error) {
	switch cacheType {
	case "file":
		log.Info("Using file cache",
			zap.String("cache_dir", opts.Dir),
			zap.Int("max_tiles", opts.Capacity),
			zap.Bool("persistent", opts.Persistent))
		return NewFileCache(opts, log.Named("file_cache"))
	case "disabled":
		log.Info("File cache disabled")
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: file, disabled)", cacheType)
	}
}
