package candle

import (
	"sort"
	"sync"

	"marketstream/internal/model"
)

// Sink receives aggregation output.
type Sink interface {
	// CandleUpdate is called on every trade applied to an open bucket.
	CandleUpdate(c model.Candle)
	// CandleComplete is called exactly once per finished bucket.
	CandleComplete(c model.Candle)
}

type builderKey struct {
	symbol    string
	timeframe Timeframe
}

// Aggregator keeps at most one open bucket per (symbol, timeframe) and emits
// the finished bar when a trade crosses into a later bucket. Trades that map
// to an earlier bucket are folded into the open one; closed bars are final.
type Aggregator struct {
	sink Sink

	mu         sync.Mutex
	timeframes []Timeframe
	builders   map[builderKey]*model.Candle
}

// NewAggregator creates an aggregator for the given timeframes.
func NewAggregator(sink Sink, timeframes ...Timeframe) *Aggregator {
	a := &Aggregator{
		sink:     sink,
		builders: make(map[builderKey]*model.Candle),
	}
	for _, tf := range timeframes {
		a.addTimeframe(tf)
	}
	return a
}

func (a *Aggregator) addTimeframe(tf Timeframe) bool {
	if tf <= 0 {
		return false
	}
	for _, existing := range a.timeframes {
		if existing == tf {
			return false
		}
	}
	a.timeframes = append(a.timeframes, tf)
	sort.Slice(a.timeframes, func(i, j int) bool { return a.timeframes[i] < a.timeframes[j] })
	return true
}

// Timeframes returns the active timeframes in ascending order.
func (a *Aggregator) Timeframes() []Timeframe {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Timeframe(nil), a.timeframes...)
}

// AddTrade applies a trade to every timeframe of symbol.
func (a *Aggregator) AddTrade(symbol string, ts int64, price, amount float64) {
	var updates, completes []model.Candle

	a.mu.Lock()
	for _, tf := range a.timeframes {
		update, complete, closed := a.apply(builderKey{symbol: symbol, timeframe: tf}, ts, price, amount)
		if closed {
			completes = append(completes, complete)
		}
		updates = append(updates, update)
	}
	a.mu.Unlock()

	a.emit(updates, completes)
}

func (a *Aggregator) apply(key builderKey, ts int64, price, amount float64) (update, complete model.Candle, closed bool) {
	start := model.BucketStart(ts, key.timeframe.Millis())
	b := a.builders[key]

	switch {
	case b == nil:
		b = &model.Candle{}
		a.builders[key] = b
		seed(b, key, start, price, amount)
	case start > b.Start:
		complete = *b
		complete.Complete = true
		closed = true
		seed(b, key, start, price, amount)
	default:
		// same bucket, or an earlier one clamped into the open bucket
		b.High = max(b.High, price)
		b.Low = min(b.Low, price)
		b.Close = price
		b.Volume += amount
		b.Trades++
	}
	return *b, complete, closed
}

func seed(b *model.Candle, key builderKey, start int64, price, amount float64) {
	*b = model.Candle{
		Symbol:      key.symbol,
		TimeframeMs: key.timeframe.Millis(),
		Start:       start,
		Open:        price,
		High:        price,
		Low:         price,
		Close:       price,
		Volume:      amount,
		Trades:      1,
	}
}

// AddBar forwards a complete exchange bar without touching builder state.
// Incomplete bars are ignored.
func (a *Aggregator) AddBar(symbol string, ts int64, bar model.Bar) bool {
	if !bar.IsComplete {
		return false
	}
	start := ts
	if bar.TimeframeMs > 0 {
		start = model.BucketStart(ts, bar.TimeframeMs)
	}
	a.emit(nil, []model.Candle{{
		Symbol:      symbol,
		TimeframeMs: bar.TimeframeMs,
		Start:       start,
		Open:        bar.Open,
		High:        bar.High,
		Low:         bar.Low,
		Close:       bar.Close,
		Volume:      bar.Volume,
		Complete:    true,
	}})
	return true
}

// Open returns the open bucket of (symbol, tf).
func (a *Aggregator) Open(symbol string, tf Timeframe) (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.builders[builderKey{symbol: symbol, timeframe: tf}]
	if b == nil {
		return model.Candle{}, false
	}
	return *b, true
}

// Flush closes and emits every open bucket of symbol.
func (a *Aggregator) Flush(symbol string) int {
	var completes []model.Candle

	a.mu.Lock()
	for key, b := range a.builders {
		if key.symbol != symbol {
			continue
		}
		c := *b
		c.Complete = true
		completes = append(completes, c)
		delete(a.builders, key)
	}
	a.mu.Unlock()

	sort.Slice(completes, func(i, j int) bool { return completes[i].TimeframeMs < completes[j].TimeframeMs })
	a.emit(nil, completes)
	return len(completes)
}

// Reset drops all open buckets without emitting them.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	clear(a.builders)
	a.mu.Unlock()
}

// Replay registers tf and rebuilds its buckets from buffered trades, grouped
// by symbol in arrival order. Buckets closed during replay are emitted as
// complete; the last bucket of each symbol stays open. Replay on a timeframe
// that is already active is a no-op.
func (a *Aggregator) Replay(tf Timeframe, trades []model.Event) bool {
	var completes []model.Candle

	a.mu.Lock()
	if !a.addTimeframe(tf) {
		a.mu.Unlock()
		return false
	}
	for _, e := range trades {
		t, ok := e.Trade()
		if !ok {
			continue
		}
		if _, complete, closed := a.apply(builderKey{symbol: e.Symbol, timeframe: tf}, e.Timestamp, t.Price, t.Amount); closed {
			completes = append(completes, complete)
		}
	}
	a.mu.Unlock()

	a.emit(nil, completes)
	return true
}

func (a *Aggregator) emit(updates, completes []model.Candle) {
	if a.sink == nil {
		return
	}
	for _, c := range completes {
		a.sink.CandleComplete(c)
	}
	for _, c := range updates {
		a.sink.CandleUpdate(c)
	}
}
