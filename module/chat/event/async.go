package event

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/logger"
	"github.com/ys7zTS/sandbox/tools/safe"
)

// Async runs a slow handler (a broker relay) off the publishing goroutine.
// Events are queued in order; when the queue is full they are dropped.
type Async struct {
	name  string
	h     Handler
	queue chan Event
	log   *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(name string, h Handler, queue int) *Async {
	if queue <= 0 {
		queue = 1024
	}
	a := &Async{
		name:  name,
		h:     h,
		queue: make(chan Event, queue),
		log:   logger.Named("event." + name),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) HandleEvent(_ context.Context, ev Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- ev:
	default:
		a.log.Warn("queue full, event dropped", zap.String("event", ev.Name()), zap.String("key", Key(ev)))
	}
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		a.handle(ev)
	}
}

func (a *Async) handle(ev Event) {
	defer safe.Recover(a.name)
	a.h.HandleEvent(context.Background(), ev)
}

// Close stops accepting events and waits until the queued ones are handled
// or ctx is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
