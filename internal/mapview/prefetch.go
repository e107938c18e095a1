package mapview

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fieldmap/internal/projection"
	"fieldmap/internal/source"
	"fieldmap/internal/tile"
)

// PrefetchTiles lists the tiles covering the current view area at each zoom.
func (c *Controller) PrefetchTiles(zooms []maptile.Zoom) []tile.Key {
	view := c.Viewport()
	params := c.Params()
	src := c.Source()
	minZ, maxZ := src.ZoomRange()
	bound := view.Bound()

	var keys []tile.Key
	for _, z := range zooms {
		if z < minZ || z > maxZ {
			continue
		}
		x0 := projection.PixelToTile(projection.LonToPixelX(bound.Min.Lon(), z), z)
		x1 := projection.PixelToTile(projection.LonToPixelX(bound.Max.Lon(), z), z)
		y0 := projection.PixelToTile(projection.LatToPixelY(bound.Max.Lat(), z), z)
		y1 := projection.PixelToTile(projection.LatToPixelY(bound.Min.Lat(), z), z)
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				keys = append(keys, tile.NewKey(src.ID(), x, y, z, params))
			}
		}
	}
	return keys
}

// Prefetch generates the tiles of the current view area at the given zooms
// into the disk cache, skipping tiles already cached. progress is called
// after every tile.
func (c *Controller) Prefetch(ctx context.Context, zooms []maptile.Zoom, workers int, progress func(done, total int)) error {
	keys := c.PrefetchTiles(zooms)
	if len(keys) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}
	src := c.Source()

	c.logger.Info("Starting tile prefetch", zap.Int("tiles", len(keys)), zap.Int("workers", workers))

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, key := range keys {
		g.Go(func() error {
			defer func() {
				n := done.Add(1)
				if progress != nil {
					progress(int(n), len(keys))
				}
			}()
			if c.opts.Disk.ContainsKey(key) || c.opts.Memory.ContainsKey(key) {
				return nil
			}
			bmp, err := src.FetchOrRender(gctx, key)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				if !errors.Is(err, source.ErrTileNotFound) {
					c.logger.Debug("Prefetch tile failed", zap.String("tile", key.String()), zap.Error(err))
				}
				return nil
			}
			c.storePrefetched(key, bmp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.logger.Info("Tile prefetch completed", zap.Int("tiles", len(keys)))
	return nil
}

// storePrefetched writes a tile to the disk tier unless its source or
// parameters were replaced meanwhile. Holding swapMu keeps a source swap
// from clearing the disk tier between the check and the write.
func (c *Controller) storePrefetched(key tile.Key, bmp *tile.Bitmap) {
	c.swapMu.Lock()
	defer c.swapMu.Unlock()

	if c.accept(key) {
		c.opts.Disk.Put(key, bmp)
	}
}
