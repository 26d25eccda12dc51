package enum

import (
	"strings"

	"github.com/yanun0323/errors"
)

// Category describes the kind of market data carried by an event.
type Category uint8

const (
	_category_beg Category = iota
	CategoryTrade
	CategoryTicker
	CategoryOrderBook
	CategoryBar
	CategoryLiquidation
	CategoryOther
	_category_end
)

func (c Category) IsAvailable() bool {
	return c > _category_beg && c < _category_end
}

func (c Category) String() string {
	switch c {
	case CategoryTrade:
		return "trade"
	case CategoryTicker:
		return "ticker"
	case CategoryOrderBook:
		return "orderbook"
	case CategoryBar:
		return "bar"
	case CategoryLiquidation:
		return "liquidation"
	case CategoryOther:
		return "other"
	default:
		return "unknown"
	}
}

// ParseCategory accepts the String() form, case-insensitive.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trade", "trades":
		return CategoryTrade, true
	case "ticker", "quote":
		return CategoryTicker, true
	case "orderbook", "order_book", "depth":
		return CategoryOrderBook, true
	case "bar", "kline", "candle":
		return CategoryBar, true
	case "liquidation", "liquidations":
		return CategoryLiquidation, true
	case "other":
		return CategoryOther, true
	default:
		return 0, false
	}
}

// Categories returns every available category in declaration order.
func Categories() []Category {
	out := make([]Category, 0, int(_category_end)-1)
	for c := _category_beg + 1; c < _category_end; c++ {
		out = append(out, c)
	}
	return out
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(text []byte) error {
	parsed, ok := ParseCategory(string(text))
	if !ok {
		return errors.Errorf("unknown category %q", string(text))
	}
	*c = parsed
	return nil
}
