package worker

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap/zaptest"

	"fieldmap/internal/cache"
	"fieldmap/internal/jobqueue"
	"fieldmap/internal/tile"
)

type fakeSource struct {
	id      string
	calls   atomic.Int32
	block   chan struct{}
	started chan tile.Key
	fail    error
	panics  bool
}

func (s *fakeSource) ID() string { return s.id }

func (s *fakeSource) ZoomRange() (maptile.Zoom, maptile.Zoom) { return 0, 20 }

func (s *fakeSource) FetchOrRender(ctx context.Context, key tile.Key) (*tile.Bitmap, error) {
	s.calls.Add(1)
	if s.started != nil {
		s.started <- key
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.panics {
		panic("boom")
	}
	if s.fail != nil {
		return nil, s.fail
	}
	return &tile.Bitmap{Key: key, Image: image.NewRGBA(image.Rect(0, 0, tile.Size, tile.Size))}, nil
}

func (s *fakeSource) Close() error { return nil }

type harness struct {
	queue  *jobqueue.Queue
	memory *cache.MemoryCache
	worker *Worker
	tiles  chan *tile.Bitmap
	cancel context.CancelFunc
	done   chan struct{}
}

func start(t *testing.T, src *fakeSource, accept func(tile.Key) bool) *harness {
	t.Helper()
	h := &harness{
		queue:  jobqueue.New(nil),
		memory: cache.NewMemoryCache(16),
		tiles:  make(chan *tile.Bitmap, 16),
		done:   make(chan struct{}),
	}
	h.worker = New(1, Options{
		Queue:  h.queue,
		Source: src,
		Memory: h.memory,
		Accept: accept,
		OnTile: func(bmp *tile.Bitmap) { h.tiles <- bmp },
	}, zaptest.NewLogger(t))

	var ctx context.Context
	ctx, h.cancel = context.WithCancel(context.Background())
	go func() {
		defer close(h.done)
		h.worker.Run(ctx)
	}()
	t.Cleanup(func() {
		h.cancel()
		<-h.done
	})
	return h
}

func (h *harness) submit(key tile.Key) {
	h.queue.Add(tile.NewJob(key))
	h.queue.RequestSchedule()
}

func key(src string, x uint32) tile.Key {
	return tile.NewKey(src, x, 0, 4, tile.Params{TextScale: 1})
}

func waitTile(t *testing.T, h *harness) *tile.Bitmap {
	t.Helper()
	select {
	case bmp := <-h.tiles:
		return bmp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tile")
		return nil
	}
}

func TestWorkerGeneratesAndCaches(t *testing.T) {
	src := &fakeSource{id: "a"}
	h := start(t, src, nil)

	h.submit(key("a", 1))
	bmp := waitTile(t, h)
	if bmp.Key != key("a", 1) {
		t.Errorf("tile key = %v", bmp.Key)
	}
	if !h.memory.ContainsKey(key("a", 1)) {
		t.Error("tile not in memory cache")
	}
}

func TestWorkerDeduplicatesInFlight(t *testing.T) {
	src := &fakeSource{id: "a", block: make(chan struct{}), started: make(chan tile.Key, 8)}
	h := start(t, src, nil)

	h.submit(key("a", 1))
	<-src.started

	for i := 0; i < 4; i++ {
		h.submit(key("a", 1))
	}
	close(src.block)
	waitTile(t, h)

	select {
	case <-h.tiles:
		t.Fatal("tile delivered twice")
	case <-time.After(50 * time.Millisecond):
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("executions = %d, want 1", got)
	}
}

func TestWorkerFailuresAreMisses(t *testing.T) {
	for name, src := range map[string]*fakeSource{
		"error": {id: "a", fail: errors.New("decode failed")},
		"panic": {id: "a", panics: true},
	} {
		t.Run(name, func(t *testing.T) {
			h := start(t, src, nil)
			h.submit(key("a", 1))

			deadline := time.After(2 * time.Second)
			for h.queue.InFlight() > 0 || src.calls.Load() == 0 {
				select {
				case <-deadline:
					t.Fatal("job never finished")
				default:
					time.Sleep(time.Millisecond)
				}
			}
			if h.memory.Len() != 0 {
				t.Error("failed tile was cached")
			}

			// the worker survives and serves the next job
			src.fail, src.panics = nil, false
			h.submit(key("a", 2))
			waitTile(t, h)
		})
	}
}

func TestWorkerDiscardsStaleTiles(t *testing.T) {
	var current sync.Map
	current.Store("params", tile.Params{TextScale: 1})
	src := &fakeSource{id: "a"}
	h := start(t, src, func(k tile.Key) bool {
		p, _ := current.Load("params")
		return k.Params == p.(tile.Params)
	})

	h.submit(tile.NewKey("a", 1, 0, 4, tile.Params{TextScale: 2}))
	h.submit(key("a", 2))
	waitTile(t, h)

	if h.memory.ContainsKey(tile.NewKey("a", 1, 0, 4, tile.Params{TextScale: 2})) {
		t.Error("stale tile was cached")
	}
}

func TestWorkerPauseAndSetSource(t *testing.T) {
	src := &fakeSource{id: "a"}
	h := start(t, src, nil)

	if err := h.worker.SetSource(&fakeSource{id: "b"}); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("SetSource while running: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.worker.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	if h.worker.State() != Paused {
		t.Errorf("state = %v", h.worker.State())
	}

	next := &fakeSource{id: "b"}
	if err := h.worker.SetSource(next); err != nil {
		t.Fatal(err)
	}

	// jobs queued while paused are not touched
	h.submit(key("b", 1))
	time.Sleep(20 * time.Millisecond)
	if next.calls.Load() != 0 {
		t.Fatal("paused worker ran a job")
	}

	if err := h.worker.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	h.queue.RequestSchedule()
	if bmp := waitTile(t, h); bmp.Key.Source != "b" {
		t.Errorf("tile from source %q", bmp.Key.Source)
	}
}

func TestWorkerDropsJobsOfOtherSources(t *testing.T) {
	src := &fakeSource{id: "a"}
	h := start(t, src, nil)

	h.submit(key("old", 1))
	h.submit(key("a", 1))
	waitTile(t, h)
	if src.calls.Load() != 1 {
		t.Errorf("calls = %d, job for unknown source should be skipped", src.calls.Load())
	}
}
