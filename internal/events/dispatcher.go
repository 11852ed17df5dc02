package events

import (
	"context"
	"errors"
	"sync"

	"github.com/Skotchmaster/auth_gateway/internal/logging"
)

const DefaultQueueSize = 1024

var (
	ErrQueueFull        = errors.New("events: queue full")
	ErrDispatcherClosed = errors.New("events: dispatcher closed")
)

type queued struct {
	ctx context.Context
	ev  Event
}

// Dispatcher hands events to a single background worker so Publish never
// waits on the underlying publisher. When the queue is full the event is
// dropped and ErrQueueFull returned.
type Dispatcher struct {
	next  Publisher
	queue chan queued

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(next Publisher, size int) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	d := &Dispatcher{
		next:  next,
		queue: make(chan queued, size),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- queued{ctx: context.WithoutCancel(ctx), ev: ev}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for q := range d.queue {
		ctx, cancel := context.WithTimeout(q.ctx, publishTimeout)
		if err := d.next.Publish(ctx, q.ev); err != nil {
			logging.FromContext(q.ctx).Warn("event_publish_failed", "event", q.ev.Type, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits until the queue is drained or ctx
// is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
