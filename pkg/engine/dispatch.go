package engine

import (
	"context"
	"sync"
)

type dispatchKey struct{}

// Dispatcher is a serial run loop: posted functions execute one at a time,
// in order, on a single dedicated goroutine. It models the single-threaded
// execution context the hosting component delivers signals on.
type Dispatcher struct {
	mu     sync.Mutex
	queue  chan func(context.Context)
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a dispatcher and starts its run loop.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		queue: make(chan func(context.Context), 64),
		done:  make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	// Functions running on the loop observe a context marked as
	// belonging to this dispatcher.
	ctx := context.WithValue(context.Background(), dispatchKey{}, d)
	for f := range d.queue {
		f(ctx)
	}
}

// Post enqueues f for execution on the run loop. Posting after Close is a
// no-op.
func (d *Dispatcher) Post(f func(ctx context.Context)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue <- f
}

// Sync runs f on the run loop and waits for it to return.
func (d *Dispatcher) Sync(f func(ctx context.Context)) {
	ran := make(chan struct{})
	d.Post(func(ctx context.Context) {
		defer close(ran)
		f(ctx)
	})
	select {
	case <-ran:
	case <-d.done:
	}
}

// Close stops the run loop after draining already posted work.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

// OnDispatcher reports whether ctx belongs to a dispatcher run loop.
// Operations restricted to the loop use it to fail fast when invoked from
// anywhere else.
func OnDispatcher(ctx context.Context) bool {
	_, ok := ctx.Value(dispatchKey{}).(*Dispatcher)
	return ok
}
