package chat

import (
	"context"
	"sync"
)

// turnGate counts turns that have stored a user message and lets shutdown
// wait for them. Once closed it admits no new turns.
type turnGate struct {
	mu     sync.Mutex
	active int
	closed bool
	idle   chan struct{}
}

func (g *turnGate) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.active++
	return true
}

func (g *turnGate) leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active--
	if g.active == 0 && g.idle != nil {
		close(g.idle)
		g.idle = nil
	}
}

func (g *turnGate) drain(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	if g.active == 0 {
		g.mu.Unlock()
		return nil
	}
	if g.idle == nil {
		g.idle = make(chan struct{})
	}
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
