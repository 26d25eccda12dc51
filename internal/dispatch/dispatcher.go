package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"marketstream/internal/model"
)

const (
	defaultThrottle  = 200 * time.Millisecond
	defaultBatchSize = 100
)

// Source exposes buffered events to the dispatcher.
type Source interface {
	Latest(key model.BufferKey, count int) []model.Event
}

// Pressure reports whether backpressure is active.
type Pressure interface {
	Active() bool
}

// Option configures a Dispatcher.
type Option struct {
	Throttle  time.Duration
	BatchSize int
	Now       func() time.Time
}

// Stats is a point-in-time view of dispatcher counters.
type Stats struct {
	Flushes       uint64
	Delivered     uint64
	Failures      uint64
	PendingTimers int
	Subscribers   int
}

// Dispatcher coalesces buffer additions per key and flushes them to
// subscribers at most once per throttle window. Flushes of one key never
// overlap: additions that arrive during a flush are held until it returns.
type Dispatcher struct {
	opt       Option
	source    Source
	pressure  Pressure
	registry  *Registry
	scheduler *Scheduler

	mu       sync.Mutex
	pending  map[model.BufferKey]int
	flushing map[model.BufferKey]bool

	flushes atomic.Uint64
}

// New creates a dispatcher reading from source. A nil pressure is never active.
func New(source Source, pressure Pressure, registry *Registry, opt Option) *Dispatcher {
	if opt.Throttle <= 0 {
		opt.Throttle = defaultThrottle
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = defaultBatchSize
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Dispatcher{
		opt:       opt,
		source:    source,
		pressure:  pressure,
		registry:  registry,
		scheduler: NewScheduler(),
		pending:   make(map[model.BufferKey]int),
		flushing:  make(map[model.BufferKey]bool),
	}
}

// Registry returns the subscription registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Notify records one buffered addition for key and arms its flush timer if
// none is pending and no flush of key is running.
func (d *Dispatcher) Notify(key model.BufferKey) {
	d.mu.Lock()
	d.pending[key]++
	busy := d.flushing[key]
	d.mu.Unlock()
	if busy {
		return
	}
	d.scheduler.Schedule(key, d.opt.Throttle, func() { d.run(key) })
}

// Forget drops pending work for key.
func (d *Dispatcher) Forget(key model.BufferKey) {
	d.scheduler.Cancel(key)
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}

// Publish delivers n immediately.
func (d *Dispatcher) Publish(n Notification) {
	if n.At.IsZero() {
		n.At = d.opt.Now()
	}
	d.registry.Publish(n)
}

// Flush runs the flush for key synchronously. When a flush of key is already
// running it returns at once and the running flush picks up the additions.
func (d *Dispatcher) Flush(key model.BufferKey) {
	d.run(key)
}

// run owns the flushing mark of key for one flush and arms the next timer
// once the flush returns.
func (d *Dispatcher) run(key model.BufferKey) {
	d.mu.Lock()
	if d.flushing[key] {
		d.mu.Unlock()
		return
	}
	d.flushing[key] = true
	d.mu.Unlock()

	next := d.flush(key)

	// arm before clearing the mark so a concurrent Notify cannot shorten the
	// requested delay
	d.mu.Lock()
	if next == 0 && d.pending[key] > 0 {
		next = d.opt.Throttle
	}
	if next > 0 {
		d.scheduler.Schedule(key, next, func() { d.run(key) })
	}
	delete(d.flushing, key)
	d.mu.Unlock()
}

// flush delivers the pending additions of key and returns the delay of the
// re-arm it asks for, zero when none.
func (d *Dispatcher) flush(key model.BufferKey) time.Duration {
	d.mu.Lock()
	n := d.pending[key]
	delete(d.pending, key)
	d.mu.Unlock()
	if n == 0 {
		return 0
	}
	d.flushes.Add(1)

	if d.pressure != nil && d.pressure.Active() {
		events := d.source.Latest(key, min(n, (d.opt.BatchSize+1)/2))
		if len(events) != 0 {
			d.Publish(Notification{Kind: KindBatch, Key: key, Events: events})
		}
		return 2 * d.opt.Throttle
	}

	events := d.source.Latest(key, n)
	if len(events) == 0 {
		return 0
	}
	for start := 0; start < len(events); start += d.opt.BatchSize {
		end := min(start+d.opt.BatchSize, len(events))
		d.Publish(Notification{Kind: KindBatch, Key: key, Events: events[start:end:end]})
	}
	d.Publish(Notification{Kind: KindLatest, Key: key, Events: events[len(events)-1:]})
	return 0
}

// Stop cancels every pending timer and waits for running flushes. Calling
// Stop more than once is a no-op.
func (d *Dispatcher) Stop() {
	d.scheduler.Stop()
	d.mu.Lock()
	clear(d.pending)
	d.mu.Unlock()
}

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Flushes:       d.flushes.Load(),
		Delivered:     d.registry.Delivered(),
		Failures:      d.registry.Failures(),
		PendingTimers: d.scheduler.Pending(),
		Subscribers:   d.registry.Len(),
	}
}

// Scheduler returns the per-key timer scheduler.
func (d *Dispatcher) Scheduler() *Scheduler { return d.scheduler }
