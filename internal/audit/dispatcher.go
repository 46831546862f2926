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
	// DropIfFull discards routine events when the buffer is full instead of
	// blocking the caller. Retained events still wait for space.
	DropIfFull bool
	// OnDrop, if set, is called once per discarded event.
	OnDrop func(Event)
}

// Dispatcher hands events to a Sink on a single goroutine. A nil
// *Dispatcher is valid and discards everything.
type Dispatcher struct {
	cfg  Config
	sink Sink
	ch   chan Event
	done chan struct{}
	wg   sync.WaitGroup

	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled.
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
		ch:   make(chan Event, cfg.BufferSize),
		done: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.deliver()
	return d
}

// deliver forwards queued events until Close, then flushes what is left.
func (d *Dispatcher) deliver() {
	defer d.wg.Done()

	ctx := context.Background()
	for {
		select {
		case ev := <-d.ch:
			d.sink.Emit(ctx, ev)
		case <-d.done:
			for {
				select {
				case ev := <-d.ch:
					d.sink.Emit(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) discard(ev Event) {
	d.dropped.Add(1)
	if d.cfg.OnDrop != nil {
		d.cfg.OnDrop(ev)
	}
}

// Emit queues ev. Routine events are dropped on a full buffer when
// DropIfFull is set; retained events (see Event.Retained) and every event
// in blocking mode wait for space until ctx ends or the dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull && !ev.Retained() {
		select {
		case d.ch <- ev:
		case <-d.done:
		default:
			d.discard(ev)
		}
		return
	}

	select {
	case d.ch <- ev:
	case <-ctx.Done():
		d.discard(ev)
	case <-d.done:
	}
}

// Close stops accepting events, flushes the buffer and waits for the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
