package cache

import (
	"bytes"
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"

	"fieldmap/internal/tile"
)

const manifestName = "manifest.json"

type FileOptions struct {
	Dir        string
	Capacity   int
	Persistent bool
}

type manifestEntry struct {
	Source    string    `json:"source"`
	Z         uint32    `json:"z"`
	X         uint32    `json:"x"`
	Y         uint32    `json:"y"`
	Theme     string    `json:"theme,omitempty"`
	TextScale float64   `json:"text_scale"`
	Path      string    `json:"path"`
	Bytes     int64     `json:"bytes"`
	Created   time.Time `json:"created"`
}

func (e *manifestEntry) key() tile.Key {
	return tile.NewKey(e.Source, e.X, e.Y, maptile.Zoom(e.Z), tile.Params{Theme: e.Theme, TextScale: e.TextScale})
}

// FileCache stores PNG encoded tiles on disk.
// Structure: {dir}/{sourceHash}/{z}/{x}_{y}_{paramsHash}.png
// Entries are evicted in insertion order. When persistent, the index is
// written to manifest.json on Destroy and reloaded by the next NewFileCache.
type FileCache struct {
	mu         sync.RWMutex
	dir        string
	capacity   int
	persistent bool
	entries    map[tile.Key]*list.Element
	order      *list.List
	logger     *zap.Logger
}

func NewFileCache(opts FileOptions, logger *zap.Logger) (*FileCache, error) {
	c := &FileCache{
		dir:        opts.Dir,
		capacity:   opts.Capacity,
		persistent: opts.Persistent,
		entries:    make(map[tile.Key]*list.Element),
		order:      list.New(),
		logger:     logger,
	}

	if opts.Persistent {
		if err := os.MkdirAll(c.dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		if err := c.loadManifest(); err != nil {
			logger.Warn("Discarding unreadable cache manifest", zap.String("dir", c.dir), zap.Error(err))
			c.purge()
		}
		return c, nil
	}

	// leftovers of a non-persistent session are never reused
	if err := os.RemoveAll(c.dir); err != nil {
		return nil, fmt.Errorf("failed to clean cache directory: %w", err)
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return c, nil
}

func hashString(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}

func sourceDir(source string) string {
	return hashString(source, 16)
}

// buildFilePath returns the path relative to the cache dir
func (c *FileCache) buildFilePath(key tile.Key) string {
	dir := filepath.Join(sourceDir(key.Source), fmt.Sprintf("%d", key.Tile.Z))
	fileName := fmt.Sprintf("%d_%d_%s.png", key.Tile.X, key.Tile.Y, hashString(key.Params.String(), 8))
	return filepath.Join(dir, fileName)
}

func (c *FileCache) ContainsKey(key tile.Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.entries[key]
	return ok
}

func (c *FileCache) Get(key tile.Key) (*tile.Bitmap, bool) {
	c.mu.RLock()
	elem, ok := c.entries[key]
	var path string
	if ok {
		path = filepath.Join(c.dir, elem.Value.(*manifestEntry).Path)
	}
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err == nil {
		img, decodeErr := png.Decode(bytes.NewReader(data))
		if decodeErr == nil {
			return tile.NewBitmap(key, img), true
		}
		err = decodeErr
	}

	c.logger.Debug("Dropping unreadable cached tile", zap.String("tile", key.String()), zap.Error(err))
	c.mu.Lock()
	c.removeLocked(key)
	c.mu.Unlock()
	return nil, false
}

func (c *FileCache) Put(key tile.Key, bmp *tile.Bitmap) {
	if bmp == nil {
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, bmp.Image); err != nil {
		c.logger.Debug("Failed to encode tile", zap.String("tile", key.String()), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return
	}

	rel := c.buildFilePath(key)
	filePath := filepath.Join(c.dir, rel)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return
	}

	// Write atomically
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		return
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return
	}

	entry := &manifestEntry{
		Source:    key.Source,
		Z:         uint32(key.Tile.Z),
		X:         key.Tile.X,
		Y:         key.Tile.Y,
		Theme:     key.Params.Theme,
		TextScale: key.Params.TextScale,
		Path:      rel,
		Bytes:     int64(buf.Len()),
		Created:   time.Now().UTC(),
	}
	if elem, ok := c.entries[key]; ok {
		elem.Value = entry
		return
	}
	c.entries[key] = c.order.PushBack(entry)
	c.evictLocked()
}

func (c *FileCache) evictLocked() {
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.removeLocked(oldest.Value.(*manifestEntry).key())
	}
}

func (c *FileCache) removeLocked(key tile.Key) {
	elem, ok := c.entries[key]
	if !ok {
		return
	}
	os.Remove(filepath.Join(c.dir, elem.Value.(*manifestEntry).Path))
	c.order.Remove(elem)
	delete(c.entries, key)
}

func (c *FileCache) SetCapacity(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n < 0 {
		n = 0
	}
	c.capacity = n
	c.evictLocked()
}

func (c *FileCache) Capacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capacity
}

func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

func (c *FileCache) SetPersistent(persistent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistent = persistent
}

func (c *FileCache) Persistent() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.persistent
}

// ClearSource drops every entry rendered from the given source.
func (c *FileCache) ClearSource(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if key.Source == source {
			c.removeLocked(key)
		}
	}
	os.RemoveAll(filepath.Join(c.dir, sourceDir(source)))
}

func (c *FileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purge()
}

func (c *FileCache) purge() {
	c.entries = make(map[tile.Key]*list.Element)
	c.order = list.New()
	if err := os.RemoveAll(c.dir); err != nil {
		return
	}
	os.MkdirAll(c.dir, 0755)
}

// Destroy releases the cache. Persistent caches keep their files and write
// the manifest; others remove everything they wrote.
func (c *FileCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.persistent {
		if err := c.saveManifest(); err != nil {
			c.logger.Warn("Failed to save cache manifest", zap.String("dir", c.dir), zap.Error(err))
		}
	} else {
		os.RemoveAll(c.dir)
	}
	c.entries = make(map[tile.Key]*list.Element)
	c.order = list.New()
}

func (c *FileCache) loadManifest() error {
	data, err := os.ReadFile(filepath.Join(c.dir, manifestName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var entries []*manifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	for _, e := range entries {
		if _, err := os.Stat(filepath.Join(c.dir, e.Path)); err != nil {
			continue
		}
		key := e.key()
		if _, dup := c.entries[key]; dup {
			continue
		}
		c.entries[key] = c.order.PushBack(e)
	}
	c.evictLocked()

	c.logger.Info("Loaded tile cache manifest", zap.String("dir", c.dir), zap.Int("tiles", c.order.Len()))
	return nil
}

func (c *FileCache) saveManifest() error {
	entries := make([]*manifestEntry, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		entries = append(entries, e.Value.(*manifestEntry))
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	path := filepath.Join(c.dir, manifestName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
