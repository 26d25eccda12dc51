package stream

import (
	"context"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketstream/internal/buffer"
	"marketstream/internal/candle"
	"marketstream/internal/capacity"
	"marketstream/internal/dispatch"
	"marketstream/internal/metric"
	"marketstream/internal/model"
	"marketstream/internal/model/enum"
	"marketstream/internal/obs"
	"marketstream/pkg/exception"
)

const ingestChunk = 256

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// Option customizes a Processor.
type Option func(*Processor)

// WithMemoryReader replaces the runtime memory reader.
func WithMemoryReader(r metric.Reader) Option {
	return func(p *Processor) { p.reader = r }
}

// WithClock replaces time.Now for cache expiry and notification stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// Processor owns the buffers, the capacity controller, the candle aggregator
// and the dispatcher. Ingest never blocks and never returns an error: failed
// events are logged and counted.
type Processor struct {
	cfg    Config
	now    func() time.Time
	reader metric.Reader

	store      *buffer.Store
	sampler    *metric.Sampler
	controller *capacity.Controller
	aggregator *candle.Aggregator
	dispatcher *dispatch.Dispatcher
	metrics    *obs.Metrics

	state     atomic.Int32
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt atomic.Int64

	tickerMu   sync.Mutex
	lastTicker map[string]model.Ticker

	rateMu        sync.Mutex
	rateProcessed uint64
	rateAt        time.Time
	rateBits      atomic.Uint64
}

// New creates a processor. Start must be called before events are accepted.
// Zero numeric fields and nil priority/timeframe slices take their
// DefaultConfig values, but EnableCache and DynamicSizing are used as given:
// start from DefaultConfig to keep the cache and dynamic sizing on.
func New(cfg Config, opts ...Option) (*Processor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		cfg:        cfg,
		now:        time.Now,
		metrics:    obs.NewMetrics(),
		lastTicker: make(map[string]model.Ticker),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.controller = capacity.NewController(capacity.Config{
		DefaultCapacity:       cfg.BufferSize,
		BackPressureThreshold: cfg.BackPressureThreshold,
		Priority:              cfg.priority(),
	})
	p.store = buffer.NewStore(buffer.StoreOption{
		DefaultCapacity: cfg.BufferSize,
		EnableCache:     cfg.EnableCache,
		CacheTTL:        cfg.CacheTTL,
		Now:             p.now,
	})
	p.sampler = metric.NewSampler(cfg.MaxMemoryMB, p.reader)
	p.dispatcher = dispatch.New(p.store, p.controller, nil, dispatch.Option{
		Throttle:  cfg.Throttle,
		BatchSize: cfg.BatchSize,
		Now:       p.now,
	})
	p.aggregator = candle.NewAggregator(candleSink{d: p.dispatcher}, cfg.Timeframes...)
	return p, nil
}

// Start creates the configured buffers, takes the first memory sample, runs
// the sampling cycle and publishes a start notification. Starting a running
// processor is a no-op; a stopped processor cannot be restarted.
func (p *Processor) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	switch p.state.Load() {
	case stateRunning:
		p.lifecycle.Unlock()
		return nil
	case stateStopped:
		p.lifecycle.Unlock()
		return exception.ErrStreamStopped
	}

	p.AddSymbols(p.cfg.Symbols...)

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	startedAt := p.now()
	p.startedAt.Store(startedAt.UnixNano())
	p.rateMu.Lock()
	p.rateAt = startedAt
	p.rateMu.Unlock()
	p.state.Store(stateRunning)

	p.ApplySample(p.sampler.Sample())
	go func() {
		defer close(p.done)
		p.sampler.Tick(ctx, p.cfg.MemoryCheckInterval, p.ApplySample)
	}()
	p.lifecycle.Unlock()

	logs.Infof("stream processor started, symbols: %d, bufferSize: %d, throttle: %s", len(p.cfg.Symbols), p.cfg.BufferSize, p.cfg.Throttle)
	p.dispatcher.Publish(dispatch.Notification{Kind: dispatch.KindStart})
	return nil
}

// Stop cancels the sampling cycle and every pending dispatcher timer, then
// publishes a stop notification. Only the first call has any effect.
func (p *Processor) Stop() {
	p.lifecycle.Lock()
	if !p.state.CompareAndSwap(stateRunning, stateStopped) {
		p.state.CompareAndSwap(stateIdle, stateStopped)
		p.lifecycle.Unlock()
		return
	}
	p.cancel()
	<-p.done
	p.dispatcher.Stop()
	p.lifecycle.Unlock()

	logs.Infof("stream processor stopped, processed: %d", p.metrics.Processed())
	p.dispatcher.Publish(dispatch.Notification{Kind: dispatch.KindStop})
}

// Running reports whether the processor accepts events.
func (p *Processor) Running() bool {
	return p.state.Load() == stateRunning
}

// Ingest runs one event through admission, filtering, buffering, dispatch
// and aggregation. It reports whether the event was buffered.
func (p *Processor) Ingest(e model.Event) bool {
	if p.state.Load() != stateRunning {
		p.metrics.IncRejected()
		logs.Debugf("%s, drop %s", exception.ErrStreamNotStarted, e.Debug())
		return false
	}
	begin := time.Now()

	if !e.Valid() {
		p.metrics.IncMalformed()
		logs.Warnf("%s, drop %s", exception.ErrStreamMalformedEvent, e.Debug())
		return false
	}

	if p.controller.Active() && p.shouldDrop(e.Category) {
		p.metrics.IncSkipped(e.Category)
		return false
	}

	e, ok := p.prepare(e)
	if !ok {
		p.metrics.IncFiltered()
		return false
	}

	p.metrics.AddEvicted(p.store.Insert(e))
	p.dispatcher.Notify(e.Key())
	p.aggregate(e)

	p.metrics.IncProcessed(time.Since(begin))
	return true
}

// IngestBatch ingests events in order, yielding between chunks, and returns
// how many were buffered.
func (p *Processor) IngestBatch(events []model.Event) int {
	accepted := 0
	for i, e := range events {
		if i != 0 && i%ingestChunk == 0 {
			runtime.Gosched()
		}
		if p.Ingest(e) {
			accepted++
		}
	}
	return accepted
}

// shouldDrop applies the category drop policy while backpressure is active.
func (p *Processor) shouldDrop(cat enum.Category) bool {
	if p.controller.IsPriority(cat) {
		return false
	}
	ratio := p.controller.Ratio()
	switch cat {
	case enum.CategoryOrderBook, enum.CategoryOther:
		return true
	case enum.CategoryTicker:
		return ratio > p.cfg.Drop.TickerAbove
	case enum.CategoryLiquidation:
		return ratio > p.cfg.Drop.LiquidationAbove
	default:
		return false
	}
}

// prepare suppresses near-duplicate tickers and truncates order book depth.
func (p *Processor) prepare(e model.Event) (model.Event, bool) {
	switch payload := e.Payload.(type) {
	case model.Ticker:
		if p.cfg.TickerDedupThreshold > 0 && p.duplicateTicker(e.Symbol, payload) {
			return e, false
		}
	case model.OrderBook:
		if p.cfg.OrderBookDepth > 0 {
			e.Payload = payload.Truncate(p.cfg.OrderBookDepth)
		}
	}
	return e, true
}

func (p *Processor) duplicateTicker(symbol string, t model.Ticker) bool {
	p.tickerMu.Lock()
	defer p.tickerMu.Unlock()

	last, ok := p.lastTicker[symbol]
	if ok &&
		relativeChange(last.Price, t.Price) < p.cfg.TickerDedupThreshold &&
		relativeChange(last.Volume, t.Volume) < p.cfg.TickerDedupThreshold {
		return true
	}
	p.lastTicker[symbol] = t
	return false
}

func relativeChange(prev, curr float64) float64 {
	if prev == 0 {
		if curr == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(curr-prev) / math.Abs(prev)
}

func (p *Processor) aggregate(e model.Event) {
	switch payload := e.Payload.(type) {
	case model.Trade:
		p.aggregator.AddTrade(e.Symbol, e.Timestamp, payload.Price, payload.Amount)
	case model.Bar:
		p.aggregator.AddBar(e.Symbol, e.Timestamp, payload)
	}
}

// Latest returns up to count of the most recent events of a key, oldest first.
func (p *Processor) Latest(symbol string, cat enum.Category, count int) []model.Event {
	return p.store.Latest(model.BufferKey{Symbol: symbol, Category: cat}, count)
}

// Lookup returns the cached event of a key stored under timestamp ts, unless
// it has expired.
func (p *Processor) Lookup(symbol string, cat enum.Category, ts int64) (model.Event, bool) {
	return p.store.Lookup(model.BufferKey{Symbol: symbol, Category: cat}, ts)
}

// AddSymbols eagerly creates buffers for every configured category of each
// symbol. Buffers of other categories are still created on first event.
func (p *Processor) AddSymbols(symbols ...string) {
	for _, sym := range symbols {
		if len(sym) == 0 {
			continue
		}
		for _, cat := range p.cfg.Categories {
			p.store.Ensure(model.BufferKey{Symbol: sym, Category: cat})
		}
	}
}

// RemoveSymbols emits the open candles of each symbol as complete, then
// destroys its buffers and pending dispatch work.
func (p *Processor) RemoveSymbols(symbols ...string) {
	for _, sym := range symbols {
		flushed := p.aggregator.Flush(sym)
		keys := p.store.RemoveSymbol(sym)
		for _, key := range keys {
			p.dispatcher.Forget(key)
		}
		p.tickerMu.Lock()
		delete(p.lastTicker, sym)
		p.tickerMu.Unlock()
		logs.Infof("removed symbol %s, buffers: %d, flushed candles: %d", sym, len(keys), flushed)
	}
}

// Subscribe registers a notification handler and returns its id.
func (p *Processor) Subscribe(filter dispatch.Filter, handler dispatch.Handler) string {
	return p.dispatcher.Registry().Subscribe(filter, handler)
}

// Unsubscribe removes a handler registered by Subscribe.
func (p *Processor) Unsubscribe(id string) bool {
	return p.dispatcher.Registry().Unsubscribe(id)
}

// ApplySample runs one capacity cycle: resize buffers, update the
// backpressure flag, sweep expired cache entries and refresh the processing
// rate.
func (p *Processor) ApplySample(sample metric.Sample) {
	if sample.Timestamp.IsZero() {
		// no good sample yet, capacity and backpressure keep their state
		p.updateRate()
		return
	}

	if p.cfg.DynamicSizing {
		for key, c := range p.controller.Recompute(sample, p.store.States()) {
			p.store.SetCapacity(key, c)
		}
	}

	if tr, flipped := p.controller.Observe(sample.Ratio); flipped {
		p.metrics.IncBackpressureFlip()
		p.dispatcher.Publish(dispatch.Notification{
			Kind:         dispatch.KindBackpressure,
			Backpressure: tr.Active,
			Ratio:        tr.Ratio,
		})
	}

	if p.cfg.EnableCache {
		if n := p.store.Sweep(); n != 0 {
			logs.Debugf("swept %d expired cache entries", n)
		}
	}

	p.updateRate()
}

func (p *Processor) updateRate() {
	p.rateMu.Lock()
	defer p.rateMu.Unlock()

	now := p.now()
	processed := p.metrics.Processed()
	elapsed := now.Sub(p.rateAt).Seconds()
	if elapsed > 0 {
		p.rateBits.Store(math.Float64bits(float64(processed-p.rateProcessed) / elapsed))
	}
	p.rateProcessed = processed
	p.rateAt = now
}

// EnableTimeframe starts aggregating tf and rebuilds it from the buffered
// trades of every symbol. It returns false if tf is already active.
func (p *Processor) EnableTimeframe(tf candle.Timeframe) (bool, error) {
	if tf <= 0 {
		return false, errors.Wrapf(exception.ErrInvalidArgument, "timeframe %d", tf)
	}

	var trades []model.Event
	for _, st := range p.store.States() {
		if st.Key.Category != enum.CategoryTrade {
			continue
		}
		trades = append(trades, p.store.Latest(st.Key, st.Len)...)
	}
	return p.aggregator.Replay(tf, trades), nil
}

// MemoryInfo returns the last memory sample with peak tracking.
func (p *Processor) MemoryInfo() metric.MemoryInfo {
	return p.sampler.Info()
}

// ReportMemory logs a one-line runtime memory report.
func (p *Processor) ReportMemory() {
	p.sampler.Report()
}

// Backpressure reports whether backpressure is active.
func (p *Processor) Backpressure() bool {
	return p.controller.Active()
}

// Metrics returns the ingest counters.
func (p *Processor) Metrics() *obs.Metrics {
	return p.metrics
}

type candleSink struct {
	d *dispatch.Dispatcher
}

func (s candleSink) CandleUpdate(c model.Candle) {
	s.d.Publish(dispatch.Notification{
		Kind:   dispatch.KindCandleUpdate,
		Key:    model.BufferKey{Symbol: c.Symbol, Category: enum.CategoryBar},
		Candle: c,
	})
}

func (s candleSink) CandleComplete(c model.Candle) {
	s.d.Publish(dispatch.Notification{
		Kind:   dispatch.KindCandleComplete,
		Key:    model.BufferKey{Symbol: c.Symbol, Category: enum.CategoryBar},
		Candle: c,
	})
}
