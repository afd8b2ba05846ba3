package utils

import (
	"context"
	"sync"

	"go.einride.tech/can"
)

// LoopbackBus is an in-memory CAN bus for tests and simulation. Every frame
// transmitted on one endpoint is delivered to all the other endpoints.
type LoopbackBus struct {
	mu        sync.RWMutex
	closed    bool
	endpoints map[*loopEndpoint]struct{}
}

func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{endpoints: make(map[*loopEndpoint]struct{})}
}

// Open attaches a new endpoint.
func (b *LoopbackBus) Open() Bus {
	ep := &loopEndpoint{
		bus:    b,
		ch:     make(chan can.Frame, 256),
		closed: make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ep.dead = true
		close(ep.closed)
		return ep
	}
	b.endpoints[ep] = struct{}{}
	return ep
}

// Close detaches and closes every endpoint.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.shut()
	}
	b.endpoints = nil
	return nil
}

type loopEndpoint struct {
	bus    *LoopbackBus
	ch     chan can.Frame
	closed chan struct{}

	mu   sync.Mutex
	dead bool
}

func (e *loopEndpoint) Transmit(ctx context.Context, frame can.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}

	e.bus.mu.RLock()
	defer e.bus.mu.RUnlock()

	if e.bus.closed || e.isDead() {
		return ErrClosed
	}

	for ep := range e.bus.endpoints {
		if ep == e {
			continue
		}
		select {
		case ep.ch <- frame:
		case <-ep.closed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *loopEndpoint) Receive(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f := <-e.ch:
		return f, nil
	case <-e.closed:
		return can.Frame{}, ErrClosed
	}
}

func (e *loopEndpoint) Close() error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()

	e.shut()
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
	return nil
}

func (e *loopEndpoint) isDead() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dead
}

// shut must be called with the bus lock held.
func (e *loopEndpoint) shut() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dead {
		return
	}
	e.dead = true
	close(e.closed)
}
