package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering. With DropIfFull, Emit never blocks
// and overflow is counted in Dropped. FlushTimeout bounds how long Close
// keeps delivering buffered events; zero waits for all of them.
type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	BufferSize   int           `mapstructure:"buffer_size"`
	DropIfFull   bool          `mapstructure:"drop_if_full"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

// Dispatcher relays events to a sink on a single goroutine, so a sink sees
// them in Emit order.
type Dispatcher struct {
	cfg  Config
	sink Sink
	now  func() time.Time

	queue    chan Event
	stop     chan struct{}
	finished chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
	closed    atomic.Bool
	abandoned atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the relay goroutine. It returns nil when cfg is
// disabled; a nil Dispatcher ignores every call.
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
		cfg:      cfg,
		sink:     sink,
		now:      time.Now,
		queue:    make(chan Event, cfg.BufferSize),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.finished)

	ctx := context.Background()
	for {
		select {
		case event := <-d.queue:
			d.deliver(ctx, event)
		case <-d.stop:
			d.drain(ctx)
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case event := <-d.queue:
			d.deliver(ctx, event)
		default:
			return
		}
	}
}

// deliver hands event to the sink. Once Close has given up waiting, events
// are counted as dropped instead.
func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	if d.abandoned.Load() {
		d.dropped.Add(1)
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now().UTC()
	}
	d.sink.Emit(ctx, event)
	d.delivered.Add(1)
}

// Emit queues event. Without DropIfFull it blocks until there is room, ctx
// ends, or the dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close stops accepting events and flushes the buffer, waiting at most
// FlushTimeout when one is set.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)

		if d.cfg.FlushTimeout <= 0 {
			<-d.finished
			return
		}
		timer := time.NewTimer(d.cfg.FlushTimeout)
		defer timer.Stop()
		select {
		case <-d.finished:
		case <-timer.C:
			d.abandoned.Store(true)
		}
	})
}

// Dropped reports how many events were discarded: buffer full, caller
// context done, or left over when a bounded flush gave up.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered reports how many events reached the sink.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
