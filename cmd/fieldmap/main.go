package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"fieldmap/internal/cache"
	"fieldmap/internal/config"
	httphandlers "fieldmap/internal/http"
	"fieldmap/internal/layers"
	"fieldmap/internal/logger"
	"fieldmap/internal/mapsdir"
	"fieldmap/internal/mapview"
	"fieldmap/internal/projection"
	"fieldmap/internal/source"
	"fieldmap/internal/spatial"
	"fieldmap/internal/tile"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("Starting fieldmap",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
		zap.String("tile_source", cfg.TileSource),
	)

	scanner := mapsdir.New(cfg.DataDir, log.Named("maps"))
	if err := scanner.Scan(); err != nil {
		log.Warn("Initial scan failed", zap.Error(err))
	}

	memory, err := cache.NewMemoryTier(cfg.CachePolicy, cfg.CacheMemoryTiles, log)
	if err != nil {
		log.Fatal("Failed to initialize memory cache", zap.Error(err))
	}
	disk, err := cache.NewDiskTier(cfg.CacheType, cache.FileOptions{
		Dir:        cfg.CacheFileDir,
		Capacity:   cfg.CacheFileTiles,
		Persistent: cfg.CachePersistent,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize file cache", zap.Error(err))
	}

	var store spatial.Store
	if cfg.SpatialDB != "" {
		db, err := spatial.OpenSQLite(cfg.SpatialDB, log.Named("spatial"))
		if err != nil {
			log.Warn("Failed to open spatial database", zap.String("path", cfg.SpatialDB), zap.Error(err))
		} else {
			defer db.Close()
			store = db
		}
	}

	srcOpts := source.Options{HTTPTimeout: cfg.HTTPTimeout}
	src, err := source.Open(cfg.TileSource, cfg.SourceLocation(), srcOpts, log.Named("source"))
	if err != nil {
		log.Error("Failed to open tile source, using debug tiles", zap.Error(err))
		src = source.NewDebugSource()
	}

	view, err := mapview.New(mapview.Options{
		Source:  src,
		Memory:  memory,
		Disk:    disk,
		Workers: cfg.Workers,
		View: projection.Viewport{
			Center: orb.Point{cfg.StartLon, cfg.StartLat},
			Zoom:   maptile.Zoom(cfg.StartZoom),
			Width:  cfg.ViewWidth,
			Height: cfg.ViewHeight,
		},
		MaxViewSize:    cfg.MaxViewSize,
		MinZoom:        maptile.Zoom(cfg.MinZoom),
		MaxZoom:        maptile.Zoom(cfg.MaxZoom),
		Params:         tile.Params{Theme: cfg.Theme, TextScale: cfg.TextScale},
		SnapToLocation: cfg.SnapToLocation,
		Layers:         layers.NewFileStore(cfg.LayersFile, log.Named("layers")),
		Spatial:        store,
		Notify: func(msg string) {
			log.Info("Notification", zap.String("message", msg))
		},
	}, log.Named("mapview"))
	if err != nil {
		log.Fatal("Failed to create map view", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := view.Start(ctx); err != nil {
		log.Fatal("Failed to start map view", zap.Error(err))
	}

	if cfg.PrefetchLevels > 0 {
		go prefetch(ctx, view, cfg, log)
	}

	handlers := httphandlers.New(cfg, log, view, scanner)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.Routes(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := view.Close(5 * time.Second); err != nil {
		log.Error("Map view did not stop cleanly", zap.Error(err))
	}

	log.Info("Server stopped")
}

// prefetch fills the disk cache for the start area at the next few zoom levels.
func prefetch(ctx context.Context, view *mapview.Controller, cfg *config.Config, log *zap.Logger) {
	start := view.Viewport().Zoom
	var zooms []maptile.Zoom
	for z := start; z <= start+maptile.Zoom(cfg.PrefetchLevels) && z <= maptile.Zoom(cfg.MaxZoom); z++ {
		zooms = append(zooms, z)
	}

	bar := progressbar.Default(int64(len(view.PrefetchTiles(zooms))), "Prefetching tiles")
	err := view.Prefetch(ctx, zooms, cfg.PrefetchWorkers, func(done, total int) {
		bar.Add(1)
	})
	if err != nil {
		log.Warn("Tile prefetch stopped", zap.Error(err))
	}
}
