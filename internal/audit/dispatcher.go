package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
}

// Dispatcher decouples audit persistence from the operations being audited:
// Emit never blocks the caller beyond a channel send, and a sink failure is
// retried against the fallback sink instead of surfacing. Loss is tolerated
// over availability loss, but it is always counted.
type Dispatcher struct {
	primary  Sink
	fallback Sink

	ch   chan Event
	done chan struct{}
	wg   sync.WaitGroup

	dropped        atomic.Uint64
	primaryFailed  atomic.Uint64
	fallbackFailed atomic.Uint64
	closed         atomic.Bool
	closeOnce      sync.Once
}

func NewDispatcher(cfg Config, primary, fallback Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if primary == nil {
		primary = NoOpSink{}
	}
	if fallback == nil {
		fallback = NoOpSink{}
	}

	d := &Dispatcher{
		primary:  primary,
		fallback: fallback,
		ch:       make(chan Event, cfg.BufferSize),
		done:     make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx := context.Background()
	if err := d.primary.Emit(ctx, event); err != nil {
		d.primaryFailed.Add(1)
		if err := d.fallback.Emit(ctx, event); err != nil {
			d.fallbackFailed.Add(1)
		}
	}
}

// Emit enqueues an event. A full buffer drops the event and bumps the drop
// counter; the primary operation is never delayed.
func (d *Dispatcher) Emit(event Event) {
	if d == nil || d.closed.Load() {
		return
	}

	select {
	case d.ch <- event:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Close drains the buffer and stops the worker.
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

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// PrimaryFailures counts events rerouted to the fallback sink.
func (d *Dispatcher) PrimaryFailures() uint64 {
	if d == nil {
		return 0
	}
	return d.primaryFailed.Load()
}

// Lost counts events that reached neither sink.
func (d *Dispatcher) Lost() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load() + d.fallbackFailed.Load()
}
