package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher forwards events to a sink from a single goroutine.
// A nil *Dispatcher is valid and discards everything.
type Dispatcher struct {
	cfg  Config
	sink Sink
	ch   chan envelope

	// mu guards closed against sends racing with Close.
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// envelope carries either an event or a flush barrier.
type envelope struct {
	event   Event
	flushed chan struct{}
}

// NewDispatcher starts the delivery goroutine. It returns nil when auditing
// is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan envelope, cfg.BufferSize),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for env := range d.ch {
			if env.flushed != nil {
				close(env.flushed)
				continue
			}
			d.sink.Emit(context.Background(), env.event)
		}
	}()
	return d
}

// Emit queues event. With DropIfFull a full buffer drops the event,
// otherwise Emit blocks until there is room or ctx is done.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- envelope{event: event}:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.ch <- envelope{event: event}:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Flush waits until every event queued before the call has reached the
// sink. It never drops events, so it may block on a full buffer until ctx
// is done.
func (d *Dispatcher) Flush(ctx context.Context) error {
	if d == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	done := make(chan struct{})
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return nil
	}
	select {
	case d.ch <- envelope{flushed: done}:
	case <-ctx.Done():
		d.mu.RUnlock()
		return ctx.Err()
	}
	d.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close delivers everything already queued and stops the goroutine.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()
	d.wg.Wait()
}

// Dropped reports how many events never reached the sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
