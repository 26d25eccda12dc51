package dispatch

import (
	"time"

	"marketstream/internal/model"
	"marketstream/internal/model/enum"
)

// Kind is the notification type.
type Kind uint8

const (
	_kind_beg Kind = iota
	KindBatch
	KindLatest
	KindCandleUpdate
	KindCandleComplete
	KindBackpressure
	KindStart
	KindStop
	_kind_end
)

func (k Kind) IsAvailable() bool {
	return k > _kind_beg && k < _kind_end
}

func (k Kind) String() string {
	switch k {
	case KindBatch:
		return "batch"
	case KindLatest:
		return "latest"
	case KindCandleUpdate:
		return "candle-update"
	case KindCandleComplete:
		return "candle-complete"
	case KindBackpressure:
		return "backpressure"
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Notification is delivered to subscribers. Which fields are set depends on
// Kind: Events for batch and latest, Candle for candle kinds, Backpressure
// and Ratio for backpressure.
type Notification struct {
	Kind         Kind
	Key          model.BufferKey
	Events       []model.Event
	Candle       model.Candle
	Backpressure bool
	Ratio        float64
	At           time.Time
}

// Filter selects notifications. Zero fields match anything.
type Filter struct {
	Kind     Kind
	Symbol   string
	Category enum.Category
}

func (f Filter) Match(n Notification) bool {
	if f.Kind != 0 && f.Kind != n.Kind {
		return false
	}
	if len(f.Symbol) != 0 && f.Symbol != n.Key.Symbol {
		return false
	}
	if f.Category != 0 && f.Category != n.Key.Category {
		return false
	}
	return true
}

// Handler consumes a notification. A returned error or a panic is logged and
// counted; it never affects other subscribers.
type Handler func(Notification) error
