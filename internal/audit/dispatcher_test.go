package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) { s.count.Add(1) }

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) { <-s.gate }

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatalf("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{Action: "login_success"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatalf("nil dispatcher must report zero drops")
	}
}

func TestCloseDeliversQueuedEvents(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64}, sink)
	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{Action: "login_failure"})
	}
	d.Close()
	if got := sink.count.Load(); got != 50 {
		t.Fatalf("expected 50 delivered events, got %d", got)
	}
	d.Emit(context.Background(), Event{Action: "after_close"})
	d.Close()
	if got := sink.count.Load(); got != 50 {
		t.Fatalf("emit after close must be ignored, got %d", got)
	}
}

func TestDropIfFullCountsDrops(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event is held by the sink, one fills the buffer.
	d.Emit(context.Background(), Event{Action: "a"})
	time.Sleep(20 * time.Millisecond)
	d.Emit(context.Background(), Event{Action: "b"})
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{Action: "c"})
	}
	if d.Dropped() != 5 {
		t.Fatalf("expected 5 drops, got %d", d.Dropped())
	}
	close(sink.gate)
	d.Close()
}

func TestBlockingEmitHonorsContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	d.Emit(context.Background(), Event{Action: "a"})
	time.Sleep(20 * time.Millisecond)
	d.Emit(context.Background(), Event{Action: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{Action: "c"})
	if d.Dropped() != 1 {
		t.Fatalf("expected timed out emit to count as dropped, got %d", d.Dropped())
	}
	close(sink.gate)
	d.Close()
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{Action: "logout", UserID: "u1", Success: true})
	s.Emit(context.Background(), Event{Action: "login_failure", Details: map[string]string{"reason": "bad_password"}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if ev.Action != "login_failure" || ev.Details["reason"] != "bad_password" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	m := MultiSink{a, nil, b}
	m.Emit(context.Background(), Event{Action: "x"})
	if a.count.Load() != 1 || b.count.Load() != 1 {
		t.Fatalf("expected both sinks to receive the event")
	}
}

func TestFlushWaitsForQueuedEvents(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	defer d.Close()

	d.Emit(context.Background(), Event{Action: "login_success"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.Flush(ctx); err == nil {
		t.Fatal("expected Flush to time out while the sink is blocked")
	}

	close(sink.gate)
	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
}

func TestFlushAfterCloseAndOnNil(t *testing.T) {
	var nilDispatcher *Dispatcher
	if err := nilDispatcher.Flush(context.Background()); err != nil {
		t.Fatalf("nil dispatcher Flush: %v", err)
	}

	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	d.Emit(context.Background(), Event{Action: "logout_all"})
	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := sink.count.Load(); got != 1 {
		t.Fatalf("expected 1 delivered event after Flush, got %d", got)
	}
	d.Close()
	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("Flush after Close: %v", err)
	}
}
