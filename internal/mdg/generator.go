package mdg

import (
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"marketstream/internal/model"
	"marketstream/internal/model/enum"
	"marketstream/pkg/exception"
)

const (
	bookLevels  = 5
	barInterval = int64(60_000)
	priceCycle  = 100
	tickSize    = 0.01
)

// Generator creates deterministic synthetic market events. It walks every
// symbol for one category before moving to the next category.
type Generator struct {
	symbols   []string
	cats      []enum.Category
	basePrice float64
	baseSize  float64
	spread    float64
	index     int
	seq       uint64
}

// NewGenerator creates a generator cycling over symbols and categories.
func NewGenerator(symbols []string, cats []enum.Category, basePrice, baseSize, spread float64) (*Generator, error) {
	syms := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); len(s) != 0 {
			syms = append(syms, s)
		}
	}
	if len(syms) == 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "generator has no symbols")
	}
	for _, c := range cats {
		if !c.IsAvailable() {
			return nil, errors.Wrapf(exception.ErrInvalidArgument, "generator category %d", c)
		}
	}
	if len(cats) == 0 {
		cats = []enum.Category{enum.CategoryTrade}
	}
	if basePrice <= 0 {
		basePrice = 100
	}
	if baseSize <= 0 {
		baseSize = 1
	}
	if spread < 0 {
		spread = 0
	}
	return &Generator{
		symbols:   syms,
		cats:      cats,
		basePrice: basePrice,
		baseSize:  baseSize,
		spread:    spread,
	}, nil
}

// Next creates the next event in sequence stamped with now.
func (g *Generator) Next(now time.Time) model.Event {
	symbol := g.symbols[g.index%len(g.symbols)]
	cat := g.cats[(g.index/len(g.symbols))%len(g.cats)]
	g.index = (g.index + 1) % (len(g.symbols) * len(g.cats))
	g.seq++

	price := g.basePrice + float64(g.seq%priceCycle)*tickSize
	return model.Event{
		Symbol:    symbol,
		Category:  cat,
		Timestamp: now.UnixMilli(),
		Payload:   g.payload(cat, price, now.UnixMilli()),
	}
}

// Seq returns the number of events generated so far.
func (g *Generator) Seq() uint64 {
	return g.seq
}

func (g *Generator) payload(cat enum.Category, price float64, ts int64) model.Payload {
	switch cat {
	case enum.CategoryTrade:
		return model.Trade{
			ID:           strconv.FormatUint(g.seq, 10),
			Price:        price,
			Amount:       g.baseSize,
			IsBuyerMaker: g.seq%2 == 0,
		}
	case enum.CategoryTicker:
		return model.Ticker{
			Price:  price,
			Volume: g.baseSize * float64(g.seq),
			Bid:    price - g.spread,
			Ask:    price + g.spread,
		}
	case enum.CategoryOrderBook:
		book := model.OrderBook{
			Bids: make([]model.Level, bookLevels),
			Asks: make([]model.Level, bookLevels),
		}
		for i := 0; i < bookLevels; i++ {
			offset := g.spread + float64(i)*tickSize
			book.Bids[i] = model.Level{Price: price - offset, Amount: g.baseSize * float64(i+1)}
			book.Asks[i] = model.Level{Price: price + offset, Amount: g.baseSize * float64(i+1)}
		}
		return book
	case enum.CategoryBar:
		return model.Bar{
			TimeframeMs: barInterval,
			Open:        price,
			High:        price + g.spread,
			Low:         price - g.spread,
			Close:       price,
			Volume:      g.baseSize,
			IsComplete:  ts%barInterval == 0,
		}
	case enum.CategoryLiquidation:
		side := "BUY"
		if g.seq%2 == 0 {
			side = "SELL"
		}
		return model.Liquidation{Side: side, Price: price, Amount: g.baseSize}
	default:
		return model.Raw{Data: []byte("seq=" + strconv.FormatUint(g.seq, 10))}
	}
}
