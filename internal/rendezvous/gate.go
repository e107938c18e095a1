// Package rendezvous implements the pause/resume handshake between a
// controller and a long-running loop. Pause and Resume return only after the
// loop has acknowledged the request at one of its checkpoints.
package rendezvous

import (
	"context"
	"sync/atomic"
)

type Request struct {
	pause bool
	ack   chan struct{}
}

type Gate struct {
	requests chan Request
	paused   atomic.Bool
}

func New() *Gate {
	return &Gate{requests: make(chan Request)}
}

// Pause blocks until the loop is parked at a checkpoint.
func (g *Gate) Pause(ctx context.Context) error {
	return g.send(ctx, true)
}

// Resume blocks until the loop has left the paused state.
func (g *Gate) Resume(ctx context.Context) error {
	return g.send(ctx, false)
}

func (g *Gate) send(ctx context.Context, pause bool) error {
	req := Request{pause: pause, ack: make(chan struct{})}
	select {
	case g.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Requests is selected on by the owning loop while it waits for work.
func (g *Gate) Requests() <-chan Request {
	return g.requests
}

// Handle applies a request received from Requests and acknowledges it.
func (g *Gate) Handle(req Request) {
	g.paused.Store(req.pause)
	close(req.ack)
}

func (g *Gate) Paused() bool {
	return g.paused.Load()
}

// Checkpoint applies pending requests without blocking. While paused it
// blocks until resumed or ctx is done.
func (g *Gate) Checkpoint(ctx context.Context) error {
	for {
		select {
		case req := <-g.requests:
			g.Handle(req)
			continue
		default:
		}

		if !g.paused.Load() {
			return nil
		}

		select {
		case req := <-g.requests:
			g.Handle(req)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
