// Package worker runs the tile generation loop: it takes jobs from the
// queue, asks the current source for the bitmap and files the result in
// both cache tiers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"fieldmap/internal/cache"
	"fieldmap/internal/jobqueue"
	"fieldmap/internal/rendezvous"
	"fieldmap/internal/source"
	"fieldmap/internal/tile"
)

type State int32

const (
	Idle State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

var ErrNotPaused = errors.New("worker must be paused to change source")

type Options struct {
	Queue  *jobqueue.Queue
	Source source.Source
	Memory cache.Cache
	Disk   cache.Cache

	// Accept is consulted before a finished tile is cached. Tiles whose
	// source or parameters are no longer current are dropped.
	Accept func(key tile.Key) bool

	// OnTile is called with every accepted tile.
	OnTile func(bmp *tile.Bitmap)
}

type Worker struct {
	id     int
	opts   Options
	gate   *rendezvous.Gate
	state  atomic.Int32
	mu     sync.RWMutex
	source source.Source
	logger *zap.Logger
}

func New(id int, opts Options, logger *zap.Logger) *Worker {
	if opts.Disk == nil {
		opts.Disk = cache.NewNoopCache()
	}
	return &Worker{
		id:     id,
		opts:   opts,
		gate:   rendezvous.New(),
		source: opts.Source,
		logger: logger.With(zap.Int("worker", id)),
	}
}

func (w *Worker) State() State {
	if w.gate.Paused() {
		return Paused
	}
	return State(w.state.Load())
}

// Pause returns once the worker has finished its current job and parked.
func (w *Worker) Pause(ctx context.Context) error {
	return w.gate.Pause(ctx)
}

func (w *Worker) Resume(ctx context.Context) error {
	return w.gate.Resume(ctx)
}

// SetSource swaps the tile source. Only legal while paused.
func (w *Worker) SetSource(src source.Source) error {
	if !w.gate.Paused() {
		return ErrNotPaused
	}
	w.mu.Lock()
	w.source = src
	w.mu.Unlock()
	return nil
}

func (w *Worker) currentSource() source.Source {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.source
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug("Worker started")
	defer w.state.Store(int32(Idle))

	for {
		if err := w.gate.Checkpoint(ctx); err != nil {
			return nil
		}
		w.state.Store(int32(Idle))

		select {
		case <-ctx.Done():
			w.logger.Debug("Worker stopped")
			return nil
		case req := <-w.gate.Requests():
			w.gate.Handle(req)
		case <-w.opts.Queue.Ready():
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for {
		if err := w.gate.Checkpoint(ctx); err != nil {
			return
		}
		job, ok := w.opts.Queue.Pop()
		if !ok {
			return
		}
		w.state.Store(int32(Running))
		w.process(ctx, job)
		w.opts.Queue.Done(job.Key)
	}
}

func (w *Worker) process(ctx context.Context, job tile.Job) {
	src := w.currentSource()
	if src == nil || src.ID() != job.Key.Source {
		w.logger.Debug("Dropping job for inactive source", zap.String("tile", job.Key.String()))
		return
	}

	bmp, err := generate(ctx, src, job.Key)
	if err != nil {
		if errors.Is(err, source.ErrTileNotFound) || errors.Is(err, context.Canceled) {
			w.logger.Debug("Tile not generated", zap.String("tile", job.Key.String()), zap.Error(err))
		} else {
			w.logger.Warn("Tile generation failed", zap.String("tile", job.Key.String()), zap.Error(err))
		}
		return
	}

	if w.opts.Accept != nil && !w.opts.Accept(job.Key) {
		w.logger.Debug("Discarding stale tile", zap.String("tile", job.Key.String()))
		return
	}

	w.opts.Memory.Put(job.Key, bmp)
	w.opts.Disk.Put(job.Key, bmp)
	if w.opts.OnTile != nil {
		w.opts.OnTile(bmp)
	}
}

func generate(ctx context.Context, src source.Source, key tile.Key) (bmp *tile.Bitmap, err error) {
	defer func() {
		if r := recover(); r != nil {
			bmp = nil
			err = fmt.Errorf("panic rendering %s: %v", key, r)
		}
	}()

	bmp, err = src.FetchOrRender(ctx, key)
	if err == nil && bmp == nil {
		err = source.ErrTileNotFound
	}
	return bmp, err
}
