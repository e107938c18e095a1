// Package mapview ties the tile pipeline together: it owns the viewport,
// decides which tiles are needed, feeds the job queue and workers, composes
// the frame buffer with the overlay layers and reacts to host events.
package mapview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fieldmap/internal/cache"
	"fieldmap/internal/framebuffer"
	"fieldmap/internal/gps"
	"fieldmap/internal/jobqueue"
	"fieldmap/internal/layers"
	"fieldmap/internal/overlay"
	"fieldmap/internal/projection"
	"fieldmap/internal/source"
	"fieldmap/internal/spatial"
	"fieldmap/internal/tile"
	"fieldmap/internal/worker"
)

var ErrClosed = errors.New("map view closed")

// DefaultMaxViewSize bounds each side of the view in pixels.
const DefaultMaxViewSize = 4096

type Options struct {
	Source  source.Source
	Memory  cache.Cache
	Disk    cache.Cache
	Workers int

	View projection.Viewport
	// MaxViewSize caps the view width and height. Zero means DefaultMaxViewSize.
	MaxViewSize int
	MinZoom     maptile.Zoom
	MaxZoom     maptile.Zoom
	Params      tile.Params

	SnapToLocation bool

	// Layers persists the overlay layer list across pause and shutdown.
	Layers layers.Store
	// Spatial contributes one overlay layer per table when set.
	Spatial spatial.Store

	RequestRedraw func()
	Notify        func(msg string)
}

// Controller is safe for concurrent use. Structural changes (source swaps,
// pause and resume) are serialized and run inside the pause rendezvous of
// every background loop.
type Controller struct {
	opts   Options
	logger *zap.Logger

	mu        sync.RWMutex
	view      projection.Viewport
	params    tile.Params
	src       source.Source
	animating bool
	snap      bool
	defs      []layers.LayerDef
	user      []overlay.Layer
	closers   []io.Closer
	workers   []*worker.Worker

	swapMu sync.Mutex
	paused bool

	queue    *jobqueue.Queue
	frame    *framebuffer.FrameBuffer
	renderer *overlay.Renderer
	tracker  *gps.Tracker
	notes    *overlay.MarkerLayer
	mover    *mover
	animator *animator

	running atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func New(opts Options, logger *zap.Logger) (*Controller, error) {
	if opts.Memory == nil {
		return nil, fmt.Errorf("memory cache is required")
	}
	if opts.Disk == nil {
		opts.Disk = cache.NewNoopCache()
	}
	if opts.Source == nil {
		opts.Source = source.NewDebugSource()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxZoom == 0 || opts.MaxZoom < opts.MinZoom {
		opts.MaxZoom = 22
	}
	if opts.Params.TextScale <= 0 {
		opts.Params.TextScale = 1
	}
	if opts.MaxViewSize <= 0 {
		opts.MaxViewSize = DefaultMaxViewSize
	}
	opts.View.Width = min(opts.View.Width, opts.MaxViewSize)
	opts.View.Height = min(opts.View.Height, opts.MaxViewSize)

	c := &Controller{
		opts:     opts,
		logger:   logger,
		view:     opts.View,
		params:   opts.Params,
		src:      opts.Source,
		snap:     opts.SnapToLocation,
		renderer: overlay.NewRenderer(logger.Named("overlay")),
		tracker:  gps.NewTracker(logger.Named("gps")),
		notes:    overlay.NewMarkerLayer("notes"),
	}
	c.view.Zoom = c.clampZoom(c.view.Zoom, c.src)
	c.queue = jobqueue.New(jobqueue.PrioritizerFunc(c.priority))
	c.frame = framebuffer.New(c)
	c.frame.Resize(c.view.Width, c.view.Height)
	c.mover = newMover(c)
	c.animator = newAnimator(c)

	if opts.Layers != nil {
		defs, err := opts.Layers.Load()
		if err != nil {
			c.notify(fmt.Sprintf("Could not load saved layers: %v", err))
		}
		c.installLayers(defs)
	} else {
		c.installLayers(nil)
	}
	return c, nil
}

// Start launches the workers, the mover and the zoom animator, then draws
// the first frame.
func (c *Controller) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("map view already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	c.cancel = cancel
	c.group = g

	src := c.Source()
	workers := make([]*worker.Worker, c.opts.Workers)
	for i := range workers {
		w := worker.New(i, worker.Options{
			Queue:  c.queue,
			Source: src,
			Memory: c.opts.Memory,
			Disk:   c.opts.Disk,
			Accept: c.accept,
			OnTile: c.onTile,
		}, c.logger.Named("worker"))
		workers[i] = w
		g.Go(func() error { return w.Run(gctx) })
	}
	c.mu.Lock()
	c.workers = workers
	c.mu.Unlock()

	g.Go(func() error { return c.mover.run(gctx) })
	g.Go(func() error { return c.animator.run(gctx) })

	c.logger.Info("Map view started", zap.Int("workers", len(workers)), zap.String("source", src.ID()))
	c.RedrawTiles()
	return nil
}

// Close stops the background loops, waiting at most timeout for them, and
// releases the source, the caches and the frame buffer.
func (c *Controller) Close(timeout time.Duration) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if c.running.Load() {
		c.cancel()
		done := make(chan error, 1)
		go func() { done <- c.group.Wait() }()
		select {
		case err = <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("timed out after %s waiting for map loops", timeout)
			c.logger.Warn("Forcing map view shutdown", zap.Duration("timeout", timeout))
		}
	}

	c.saveLayers()

	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	src := c.src
	c.mu.Unlock()

	for _, cl := range closers {
		cl.Close()
	}
	if cerr := src.Close(); cerr != nil {
		c.logger.Warn("Failed to close tile source", zap.Error(cerr))
	}
	c.queue.Clear()
	c.opts.Memory.Destroy()
	c.opts.Disk.Destroy()
	c.frame.Destroy()
	return err
}

// Viewport implements framebuffer.Position.
func (c *Controller) Viewport() projection.Viewport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// ZoomAnimating implements framebuffer.Position.
func (c *Controller) ZoomAnimating() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.animating
}

func (c *Controller) Source() source.Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.src
}

func (c *Controller) Params() tile.Params {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params
}

func (c *Controller) Tracker() *gps.Tracker {
	return c.tracker
}

func (c *Controller) Notes() *overlay.MarkerLayer {
	return c.notes
}

func (c *Controller) QueueLen() int {
	return c.queue.Len()
}

func (c *Controller) requestRedraw() {
	if c.opts.RequestRedraw != nil {
		c.opts.RequestRedraw()
	}
}

func (c *Controller) notify(msg string) {
	c.logger.Warn("User notification", zap.String("message", msg))
	if c.opts.Notify != nil {
		c.opts.Notify(msg)
	}
}

// clampZoom limits z to the configured range intersected with the source range.
func (c *Controller) clampZoom(z maptile.Zoom, src source.Source) maptile.Zoom {
	lo, hi := c.opts.MinZoom, c.opts.MaxZoom
	if smin, smax := src.ZoomRange(); smin <= smax && smax >= lo && smin <= hi {
		if smin > lo {
			lo = smin
		}
		if smax < hi {
			hi = smax
		}
	}
	if z < lo {
		return lo
	}
	if z > hi {
		return hi
	}
	return z
}

// priority ranks jobs by the distance of the tile centre to the view centre,
// with a penalty per zoom level of difference.
func (c *Controller) priority(key tile.Key) float64 {
	view := c.Viewport()
	cx, cy := view.CenterPixel()
	dz := float64(key.Tile.Z) - float64(view.Zoom)
	f := math.Pow(2, dz)
	tx := key.PixelX() + tile.Size/2
	ty := key.PixelY() + tile.Size/2
	return math.Hypot(tx-cx*f, ty-cy*f) + math.Abs(dz)*1e6
}

// accept drops finished tiles whose source or parameters are no longer current.
func (c *Controller) accept(key tile.Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return key.Source == c.src.ID() && key.Params == c.params
}

func (c *Controller) onTile(bmp *tile.Bitmap) {
	if c.frame.DrawBitmap(bmp) {
		c.requestRedraw()
	}
}

// RedrawTiles draws every visible tile found in the caches into the frame
// buffer and queues jobs for the rest. Pending jobs for tiles that are no
// longer visible are dropped.
func (c *Controller) RedrawTiles() {
	c.mu.RLock()
	view, params, src := c.view, c.params, c.src
	c.mu.RUnlock()

	if view.Width <= 0 || view.Height <= 0 {
		return
	}

	visible := make(map[tile.Key]bool)
	minZ, maxZ := src.ZoomRange()
	if view.Zoom >= minZ && view.Zoom <= maxZ {
		for _, t := range view.VisibleTiles() {
			key := tile.Key{Source: src.ID(), Tile: t, Params: params}
			visible[key] = true

			if bmp, ok := c.opts.Memory.Get(key); ok {
				c.frame.DrawBitmap(bmp)
				continue
			}
			if c.opts.Disk.ContainsKey(key) {
				if bmp, ok := c.opts.Disk.Get(key); ok {
					c.frame.DrawBitmap(bmp)
					c.opts.Memory.Put(key, bmp)
					continue
				}
			}
			c.queue.Add(tile.NewJob(key))
		}
	}

	if dropped := c.queue.Retain(func(k tile.Key) bool { return visible[k] }); dropped > 0 {
		c.logger.Debug("Dropped invisible jobs", zap.Int("count", dropped))
	}

	c.requestRedraw()
	c.queue.RequestSchedule()
}

// OnViewportChanged recentres the map on center.
func (c *Controller) OnViewportChanged(center orb.Point) {
	c.frame.Update(func(e framebuffer.Editor) {
		c.mu.Lock()
		old := c.view
		c.view.Center = center
		view := c.view
		c.mu.Unlock()

		ox, oy := old.CenterPixel()
		nx, ny := view.CenterPixel()
		dx, dy := ox-nx, oy-ny
		if math.Abs(dx) < float64(view.Width) && math.Abs(dy) < float64(view.Height) {
			e.PostTranslate(dx, dy)
		} else {
			e.Clear()
		}
	})
	c.RedrawTiles()
}

// MoveBy drags the map content by (dx, dy) screen pixels.
func (c *Controller) MoveBy(dx, dy float64) {
	if dx == 0 && dy == 0 {
		return
	}
	c.frame.Update(func(e framebuffer.Editor) {
		c.mu.Lock()
		c.view = c.view.MoveBy(-dx, -dy)
		c.mu.Unlock()
		e.PostTranslate(dx, dy)
	})
	c.RedrawTiles()
}

// Fling starts momentum panning with a velocity in pixels per second.
func (c *Controller) Fling(vx, vy float64) {
	c.mover.fling(vx, vy)
}

// OnSizeChanged resizes the view. Sides above the configured maximum are
// clamped to it.
func (c *Controller) OnSizeChanged(width, height int) {
	width = min(width, c.opts.MaxViewSize)
	height = min(height, c.opts.MaxViewSize)

	c.mu.Lock()
	c.view.Width, c.view.Height = width, height
	c.mu.Unlock()

	c.queue.Clear()
	c.frame.Resize(width, height)
	c.RedrawTiles()
}

// SetZoom jumps to zoom z without animation. It reports whether the zoom
// changed; it does nothing while an animation runs.
func (c *Controller) SetZoom(z maptile.Zoom) bool {
	changed := false
	c.frame.Update(func(e framebuffer.Editor) {
		c.mu.Lock()
		if c.animating {
			c.mu.Unlock()
			return
		}
		z = c.clampZoom(z, c.src)
		old := c.view.Zoom
		c.view.Zoom = z
		c.mu.Unlock()

		if z == old {
			return
		}
		changed = true
		w, h := e.Size()
		scale := math.Pow(2, float64(z)-float64(old))
		e.PostScale(scale, scale, float64(w)/2, float64(h)/2)
	})
	if changed {
		c.RedrawTiles()
	}
	return changed
}

// OnZoomRequested zooms by delta levels, animated when the loops are running.
// It returns false when the zoom cannot change or an animation is already
// pending or running.
func (c *Controller) OnZoomRequested(delta int) bool {
	if !c.running.Load() || c.closed.Load() {
		c.mu.RLock()
		target := c.clampZoom(maptile.Zoom(max(0, int(c.view.Zoom)+delta)), c.src)
		c.mu.RUnlock()
		return c.SetZoom(target)
	}

	c.mu.Lock()
	current := c.view.Zoom
	target := c.clampZoom(maptile.Zoom(max(0, int(current)+delta)), c.src)
	if c.animating || target == current {
		c.mu.Unlock()
		return false
	}
	c.animating = true
	c.mu.Unlock()

	if !c.animator.request(target) {
		c.setAnimating(false)
		return false
	}
	return true
}

func (c *Controller) setAnimating(on bool) {
	c.mu.Lock()
	c.animating = on
	c.mu.Unlock()
}

// finishZoom ends an animation: the frame already shows the scaled
// approximation, so only the zoom level changes before new tiles stream in.
func (c *Controller) finishZoom(z maptile.Zoom) {
	c.mu.Lock()
	c.view.Zoom = c.clampZoom(z, c.src)
	c.animating = false
	c.mu.Unlock()
	c.RedrawTiles()
}

// SetParams switches theme or text scale. Tiles cached with other
// parameters stay in the caches but are no longer reachable.
func (c *Controller) SetParams(p tile.Params) {
	if p.TextScale <= 0 {
		p.TextScale = 1
	}
	c.mu.Lock()
	if c.params == p {
		c.mu.Unlock()
		return
	}
	c.params = p
	c.mu.Unlock()

	c.queue.Clear()
	c.frame.Clear()
	c.RedrawTiles()
}

func (c *Controller) SetSnapToLocation(on bool) {
	c.mu.Lock()
	c.snap = on
	c.mu.Unlock()
}

// OnGpsUpdate feeds a GPS status change. With snap to location enabled a
// fix recentres the map.
func (c *Controller) OnGpsUpdate(status gps.Status, fix *gps.Fix) error {
	if err := c.tracker.Update(status, fix); err != nil {
		return err
	}

	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap && status == gps.HasFix {
		c.OnViewportChanged(fix.Position)
		return nil
	}
	c.requestRedraw()
	return nil
}

func (c *Controller) SetLogging(on bool) {
	c.tracker.SetLogging(on)
	c.requestRedraw()
}

// OnTap returns the id of the topmost feature drawn at (x, y) in the last frame.
func (c *Controller) OnTap(x, y float64) (string, bool) {
	return c.renderer.HitTest(x, y)
}

// Render composes the tile frame and the overlay layers into a new image.
func (c *Controller) Render(ctx context.Context) *image.RGBA {
	w, h := c.frame.Size()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}
	view := c.Viewport()
	view.Width, view.Height = w, h
	c.renderer.Render(ctx, view, c.Params().TextScale, c.layerStack(), dst)
	return dst
}

// loops returns the pause gates of every background loop.
func (c *Controller) loops() []pausable {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]pausable, 0, len(c.workers)+2)
	for _, w := range c.workers {
		out = append(out, w)
	}
	return append(out, c.mover, c.animator)
}

type pausable interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

func (c *Controller) pauseAll(ctx context.Context) error {
	if !c.running.Load() {
		return nil
	}
	var paused []pausable
	for _, l := range c.loops() {
		if err := l.Pause(ctx); err != nil {
			for _, p := range paused {
				p.Resume(context.Background())
			}
			return fmt.Errorf("failed to pause map loops: %w", err)
		}
		paused = append(paused, l)
	}
	return nil
}

func (c *Controller) resumeAll(ctx context.Context) error {
	if !c.running.Load() {
		return nil
	}
	var errs []error
	for _, l := range c.loops() {
		if err := l.Resume(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to resume map loops: %w", err)
	}
	return nil
}

// OnPause parks every background loop and saves the layer list.
func (c *Controller) OnPause(ctx context.Context) error {
	c.swapMu.Lock()
	defer c.swapMu.Unlock()

	if c.paused {
		return nil
	}
	c.mover.stop()
	if err := c.pauseAll(ctx); err != nil {
		return err
	}
	c.paused = true
	c.saveLayers()
	c.logger.Info("Map view paused")
	return nil
}

func (c *Controller) OnResume(ctx context.Context) error {
	c.swapMu.Lock()
	defer c.swapMu.Unlock()

	if !c.paused {
		return nil
	}
	if err := c.resumeAll(ctx); err != nil {
		return err
	}
	c.paused = false
	c.logger.Info("Map view resumed")
	c.RedrawTiles()
	return nil
}

func (c *Controller) Paused() bool {
	c.swapMu.Lock()
	defer c.swapMu.Unlock()
	return c.paused
}

// SetSource swaps the tile source. All loops are parked while the queue is
// cleared, the old source's disk tiles are dropped and the workers switch.
func (c *Controller) SetSource(ctx context.Context, src source.Source) error {
	c.swapMu.Lock()
	defer c.swapMu.Unlock()

	c.mover.stop()
	if !c.paused {
		if err := c.pauseAll(ctx); err != nil {
			return err
		}
	}

	old := c.Source()
	c.queue.Clear()
	if fc, ok := c.opts.Disk.(*cache.FileCache); ok && !fc.Persistent() {
		fc.ClearSource(old.ID())
	}

	c.mu.Lock()
	for _, w := range c.workers {
		if err := w.SetSource(src); err != nil {
			c.logger.Error("Worker refused source swap", zap.Error(err))
		}
	}
	c.src = src
	if loc, ok := src.(source.Locator); ok {
		if center, zoom, ok := loc.StartPoint(); ok {
			c.view.Center = center
			c.view.Zoom = zoom
		}
	}
	c.view.Zoom = c.clampZoom(c.view.Zoom, src)
	c.mu.Unlock()

	if old != src {
		if err := old.Close(); err != nil {
			c.logger.Warn("Failed to close previous source", zap.String("source", old.ID()), zap.Error(err))
		}
	}

	if !c.paused {
		if err := c.resumeAll(ctx); err != nil {
			return err
		}
	}

	c.logger.Info("Switched tile source", zap.String("from", old.ID()), zap.String("to", src.ID()))
	c.frame.Clear()
	c.RedrawTiles()
	return nil
}

// OpenSource opens a source and switches to it. Open failures are reported
// once through Notify and leave the current source in place.
func (c *Controller) OpenSource(ctx context.Context, kind, location string, opts source.Options) error {
	src, err := source.Open(kind, location, opts, c.logger.Named("source"))
	if err != nil {
		c.notify(fmt.Sprintf("Could not open map %s: %v", location, err))
		return err
	}
	return c.SetSource(ctx, src)
}
