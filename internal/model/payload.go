package model

import "marketstream/internal/model/enum"

// Payload is the category specific body of an event.
type Payload interface {
	Kind() enum.Category
}

var (
	_ Payload = Trade{}
	_ Payload = Ticker{}
	_ Payload = OrderBook{}
	_ Payload = Bar{}
	_ Payload = Liquidation{}
	_ Payload = Raw{}
)

type Trade struct {
	ID           string  `json:"id"`
	Price        float64 `json:"price"`
	Amount       float64 `json:"amount"`
	IsBuyerMaker bool    `json:"isBuyerMaker"`
}

func (Trade) Kind() enum.Category { return enum.CategoryTrade }

type Ticker struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

func (Ticker) Kind() enum.Category { return enum.CategoryTicker }

type Level struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// OrderBook holds bid and ask levels, best price first.
type OrderBook struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

func (OrderBook) Kind() enum.Category { return enum.CategoryOrderBook }

// Truncate returns a copy limited to the top depth levels per side.
func (b OrderBook) Truncate(depth int) OrderBook {
	if depth <= 0 || (len(b.Bids) <= depth && len(b.Asks) <= depth) {
		return b
	}
	out := OrderBook{Bids: b.Bids, Asks: b.Asks}
	if len(out.Bids) > depth {
		out.Bids = append([]Level(nil), b.Bids[:depth]...)
	}
	if len(out.Asks) > depth {
		out.Asks = append([]Level(nil), b.Asks[:depth]...)
	}
	return out
}

// Bar is an exchange provided OHLCV bar.
type Bar struct {
	TimeframeMs int64   `json:"timeframeMs"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	IsComplete  bool    `json:"isComplete"`
}

func (Bar) Kind() enum.Category { return enum.CategoryBar }

type Liquidation struct {
	Side   string  `json:"side"`
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

func (Liquidation) Kind() enum.Category { return enum.CategoryLiquidation }

// Raw carries an opaque body for CategoryOther.
type Raw struct {
	Data []byte `json:"data"`
}

func (Raw) Kind() enum.Category { return enum.CategoryOther }
