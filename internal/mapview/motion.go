package mapview

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb/maptile"

	"fieldmap/internal/rendezvous"
)

const (
	moveInterval = 16 * time.Millisecond
	// moveFriction is the share of the velocity kept per step.
	moveFriction = 0.9
	// minSpeed in pixels per second below which momentum stops.
	minSpeed = 20
)

// mover applies pan momentum at a fixed cadence.
type mover struct {
	c        *Controller
	gate     *rendezvous.Gate
	interval time.Duration

	mu     sync.Mutex
	vx, vy float64
}

func newMover(c *Controller) *mover {
	return &mover{c: c, gate: rendezvous.New(), interval: moveInterval}
}

func (m *mover) Pause(ctx context.Context) error  { return m.gate.Pause(ctx) }
func (m *mover) Resume(ctx context.Context) error { return m.gate.Resume(ctx) }

func (m *mover) fling(vx, vy float64) {
	m.mu.Lock()
	m.vx, m.vy = vx, vy
	m.mu.Unlock()
}

func (m *mover) stop() {
	m.fling(0, 0)
}

func (m *mover) moving() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vx != 0 || m.vy != 0
}

func (m *mover) run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if err := m.gate.Checkpoint(ctx); err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case req := <-m.gate.Requests():
			m.gate.Handle(req)
		case <-ticker.C:
			m.step()
		}
	}
}

func (m *mover) step() {
	dt := m.interval.Seconds()

	m.mu.Lock()
	dx, dy := m.vx*dt, m.vy*dt
	m.vx *= moveFriction
	m.vy *= moveFriction
	if math.Hypot(m.vx, m.vy) < minSpeed {
		m.vx, m.vy = 0, 0
	}
	m.mu.Unlock()

	if dx != 0 || dy != 0 {
		m.c.MoveBy(dx, dy)
	}
}

const (
	zoomSteps    = 10
	zoomInterval = 16 * time.Millisecond
)

// animator scales the frame buffer towards a new zoom level in small steps
// and switches the zoom when the animation ends.
type animator struct {
	c        *Controller
	gate     *rendezvous.Gate
	requests chan maptile.Zoom
	steps    int
	interval time.Duration
}

func newAnimator(c *Controller) *animator {
	return &animator{
		c:        c,
		gate:     rendezvous.New(),
		requests: make(chan maptile.Zoom, 1),
		steps:    zoomSteps,
		interval: zoomInterval,
	}
}

func (a *animator) Pause(ctx context.Context) error  { return a.gate.Pause(ctx) }
func (a *animator) Resume(ctx context.Context) error { return a.gate.Resume(ctx) }

// request queues an animation. It returns false when one is already pending.
// The caller marks the controller as animating first.
func (a *animator) request(z maptile.Zoom) bool {
	select {
	case a.requests <- z:
		return true
	default:
		return false
	}
}

func (a *animator) run(ctx context.Context) error {
	for {
		if err := a.gate.Checkpoint(ctx); err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case req := <-a.gate.Requests():
			a.gate.Handle(req)
		case z := <-a.requests:
			a.animate(ctx, z)
		}
	}
}

func (a *animator) animate(ctx context.Context, target maptile.Zoom) {
	from := a.c.Viewport().Zoom
	if from == target {
		a.c.setAnimating(false)
		return
	}
	total := math.Pow(2, float64(target)-float64(from))
	step := math.Pow(total, 1/float64(a.steps))
	w, h := a.c.frame.Size()
	px, py := float64(w)/2, float64(h)/2

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for i := 0; i < a.steps; i++ {
		select {
		case <-ctx.Done():
			a.c.finishZoom(target)
			return
		case <-ticker.C:
		}
		a.c.frame.MatrixPostScale(step, step, px, py)
		a.c.requestRedraw()
	}
	a.c.finishZoom(target)
}
