package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port            int
	DataDir         string
	PrefetchLevels  int
	PrefetchWorkers int
	AllowedOrigin   string

	CacheType        string
	CachePolicy      string
	CacheMemoryTiles int
	CacheFileTiles   int
	CacheFileDir     string
	CachePersistent  bool

	TileSource     string
	TileSourcePath string
	TileSourceURL  string
	HTTPTimeout    time.Duration
	Workers        int

	StartLon       float64
	StartLat       float64
	StartZoom      int
	ViewWidth      int
	ViewHeight     int
	MaxViewSize    int
	MinZoom        int
	MaxZoom        int
	Theme          string
	TextScale      float64
	SnapToLocation bool

	LayersFile string
	SpatialDB  string

	VipsMaxCacheMB  int
	VipsConcurrency int
	LogLevel        string
	LogEncoding     string
}

func Load() *Config {
	dataDir := getEnv("DATA_DIR", "/data")

	cfg := &Config{
		Port:            getEnvInt("PORT", 8080),
		DataDir:         dataDir,
		PrefetchLevels:  getEnvInt("PREFETCH_LEVELS", 0),
		PrefetchWorkers: getEnvInt("PREFETCH_WORKERS", 1),
		AllowedOrigin:   getEnv("ALLOWED_ORIGIN", ""),

		CacheType:        getEnv("CACHE", "file"),
		CachePolicy:      getEnv("CACHE_POLICY", "fifo"),
		CacheMemoryTiles: getEnvInt("CACHE_MEMORY_TILES", 20),
		CacheFileTiles:   getEnvInt("CACHE_FILE_TILES", 100),
		CacheFileDir:     getEnv("CACHE_FILE_DIR", filepath.Join(dataDir, "cache")),
		CachePersistent:  getEnvBool("CACHE_PERSISTENT", false),

		TileSource:     getEnv("TILE_SOURCE", "debug"),
		TileSourcePath: getEnv("TILE_SOURCE_PATH", ""),
		TileSourceURL:  getEnv("TILE_SOURCE_URL", ""),
		HTTPTimeout:    time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 10)) * time.Second,
		Workers:        getEnvInt("WORKERS", 1),

		StartLon:       getEnvFloat("START_LON", 0),
		StartLat:       getEnvFloat("START_LAT", 0),
		StartZoom:      getEnvInt("START_ZOOM", 2),
		ViewWidth:      getEnvInt("VIEW_WIDTH", 800),
		ViewHeight:     getEnvInt("VIEW_HEIGHT", 600),
		MaxViewSize:    getEnvInt("MAX_VIEW_SIZE", 4096),
		MinZoom:        getEnvInt("MIN_ZOOM", 0),
		MaxZoom:        getEnvInt("MAX_ZOOM", 20),
		Theme:          getEnv("THEME", ""),
		TextScale:      getEnvFloat("TEXT_SCALE", 1),
		SnapToLocation: getEnvBool("SNAP_TO_LOCATION", false),

		LayersFile: getEnv("LAYERS_FILE", filepath.Join(dataDir, "layers.json")),
		SpatialDB:  getEnv("SPATIAL_DB", ""),

		VipsMaxCacheMB:  getEnvInt("VIPS_MAX_CACHE_MB", 256),
		VipsConcurrency: getEnvInt("VIPS_CONCURRENCY", 1),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogEncoding:     getEnv("LOG_ENCODING", "json"),
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxZoom < cfg.MinZoom {
		cfg.MaxZoom = cfg.MinZoom
	}

	return cfg
}

// SourceLocation is the path or URL template handed to the tile source.
func (c *Config) SourceLocation() string {
	if c.TileSource == "xyz" {
		return c.TileSourceURL
	}
	return c.TileSourcePath
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}
