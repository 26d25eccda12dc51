package model

import (
	"strconv"

	"marketstream/internal/model/enum"
)

// Event is one unit of market data. Timestamp is in unix milliseconds.
type Event struct {
	Symbol    string        `json:"symbol"`
	Category  enum.Category `json:"category"`
	Timestamp int64         `json:"timestamp"`
	Payload   Payload       `json:"payload"`
}

// Valid reports whether the event carries the fields required for buffering.
func (e Event) Valid() bool {
	return len(e.Symbol) != 0 && e.Category.IsAvailable()
}

// Key returns the buffer key addressing this event.
func (e Event) Key() BufferKey {
	return BufferKey{Symbol: e.Symbol, Category: e.Category}
}

// Trade returns the trade payload, if any.
func (e Event) Trade() (Trade, bool) {
	t, ok := e.Payload.(Trade)
	return t, ok
}

// Ticker returns the ticker payload, if any.
func (e Event) Ticker() (Ticker, bool) {
	t, ok := e.Payload.(Ticker)
	return t, ok
}

// OrderBook returns the order book payload, if any.
func (e Event) OrderBook() (OrderBook, bool) {
	b, ok := e.Payload.(OrderBook)
	return b, ok
}

// Bar returns the bar payload, if any.
func (e Event) Bar() (Bar, bool) {
	b, ok := e.Payload.(Bar)
	return b, ok
}

// BufferKey addresses exactly one ring buffer and one eviction cache.
type BufferKey struct {
	Symbol   string
	Category enum.Category
}

func (k BufferKey) String() string {
	buf := make([]byte, 0, len(k.Symbol)+16)
	buf = append(buf, k.Symbol...)
	buf = append(buf, ':')
	buf = append(buf, k.Category.String()...)
	return string(buf)
}

// Debug returns a human readable format string
func (e Event) Debug() string {
	buf := make([]byte, 0, 64)
	buf = append(buf, "Event{symbol="...)
	buf = append(buf, e.Symbol...)
	buf = append(buf, " category="...)
	buf = append(buf, e.Category.String()...)
	buf = append(buf, " ts="...)
	buf = strconv.AppendInt(buf, e.Timestamp, 10)
	buf = append(buf, '}')
	return string(buf)
}
