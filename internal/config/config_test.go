package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/fieldmap")

	cfg := Load()

	if cfg.CacheMemoryTiles != 20 {
		t.Errorf("CacheMemoryTiles = %d, want 20", cfg.CacheMemoryTiles)
	}
	if cfg.CacheFileTiles != 100 {
		t.Errorf("CacheFileTiles = %d, want 100", cfg.CacheFileTiles)
	}
	if cfg.CacheFileDir != filepath.Join("/tmp/fieldmap", "cache") {
		t.Errorf("CacheFileDir = %q", cfg.CacheFileDir)
	}
	if cfg.TextScale != 1 {
		t.Errorf("TextScale = %v, want 1", cfg.TextScale)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("HTTPTimeout = %v", cfg.HTTPTimeout)
	}
	if cfg.CachePersistent {
		t.Error("CachePersistent should default to false")
	}
	if cfg.MaxViewSize != 4096 {
		t.Errorf("MaxViewSize = %d, want 4096", cfg.MaxViewSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CACHE_PERSISTENT", "yes")
	t.Setenv("WORKERS", "0")
	t.Setenv("MIN_ZOOM", "5")
	t.Setenv("MAX_ZOOM", "3")
	t.Setenv("START_LAT", "46.5")
	t.Setenv("TILE_SOURCE", "xyz")
	t.Setenv("TILE_SOURCE_URL", "https://tiles.example.org/{z}/{x}/{y}.png")
	t.Setenv("PORT", "not-a-number")

	cfg := Load()

	if !cfg.CachePersistent {
		t.Error("CachePersistent not parsed")
	}
	if cfg.Workers != 1 {
		t.Errorf("Workers = %d, want clamp to 1", cfg.Workers)
	}
	if cfg.MaxZoom != 5 {
		t.Errorf("MaxZoom = %d, want 5", cfg.MaxZoom)
	}
	if cfg.StartLat != 46.5 {
		t.Errorf("StartLat = %v", cfg.StartLat)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want default on parse failure", cfg.Port)
	}
	if got := cfg.SourceLocation(); got != "https://tiles.example.org/{z}/{x}/{y}.png" {
		t.Errorf("SourceLocation = %q", got)
	}
}
