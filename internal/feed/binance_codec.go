package feed

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"

	"marketstream/internal/model"
	"marketstream/internal/model/enum"
	"marketstream/pkg/exception"
)

const partialDepthLevels = 20

// StreamName returns the Binance stream carrying category cat of symbol.
func StreamName(symbol string, cat enum.Category) (string, bool) {
	sym := strings.ToLower(symbol)
	switch cat {
	case enum.CategoryTrade:
		return sym + "@trade", true
	case enum.CategoryTicker:
		return sym + "@ticker", true
	case enum.CategoryOrderBook:
		return sym + "@depth" + strconv.Itoa(partialDepthLevels) + "@100ms", true
	case enum.CategoryLiquidation:
		return sym + "@forceOrder", true
	case enum.CategoryBar:
		return sym + "@kline_1m", true
	default:
		return "", false
	}
}

// envelope is the combined stream wrapper {"stream": ..., "data": ...}.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceTrade struct {
	EventType    string          `json:"e"`
	EventTime    int64           `json:"E"`
	Symbol       string          `json:"s"`
	TradeID      int64           `json:"t"`
	Price        decimal.Decimal `json:"p"`
	Quantity     decimal.Decimal `json:"q"`
	TradeTime    int64           `json:"T"`
	IsBuyerMaker bool            `json:"m"`
}

type binanceTicker struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	Last      decimal.Decimal `json:"c"`
	Volume    decimal.Decimal `json:"v"`
	Bid       decimal.Decimal `json:"b"`
	Ask       decimal.Decimal `json:"a"`
}

type binancePartialBookDepth struct {
	LastUpdateID int64                `json:"lastUpdateId"`
	Bids         [][2]decimal.Decimal `json:"bids"` // [0]price [1]quantity
	Asks         [][2]decimal.Decimal `json:"asks"` // [0]price [1]quantity
}

type binanceForceOrder struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol    string          `json:"s"`
		Side      string          `json:"S"`
		Price     decimal.Decimal `json:"p"`
		Quantity  decimal.Decimal `json:"q"`
		TradeTime int64           `json:"T"`
	} `json:"o"`
}

type binanceKline struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64           `json:"t"`
		CloseTime int64           `json:"T"`
		Interval  string          `json:"i"`
		Open      decimal.Decimal `json:"o"`
		Close     decimal.Decimal `json:"c"`
		High      decimal.Decimal `json:"h"`
		Low       decimal.Decimal `json:"l"`
		Volume    decimal.Decimal `json:"v"`
		Closed    bool            `json:"x"`
	} `json:"k"`
}

// Decoder converts combined stream messages into events.
type Decoder struct {
	now func() time.Time
}

func NewDecoder(now func() time.Time) Decoder {
	if now == nil {
		now = time.Now
	}
	return Decoder{now: now}
}

// Decode converts one raw combined stream message.
func (d Decoder) Decode(raw []byte) (model.Event, error) {
	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return model.Event{}, errors.Wrap(exception.ErrFeedDecode, err.Error())
	}
	return d.DecodeStream(env.Stream, env.Data)
}

// DecodeStream converts the data of the named stream.
func (d Decoder) DecodeStream(stream string, data []byte) (model.Event, error) {
	symbol, kind, ok := strings.Cut(stream, "@")
	if !ok || len(symbol) == 0 {
		return model.Event{}, errors.Wrapf(exception.ErrFeedDecode, "stream name %q", stream)
	}
	symbol = strings.ToUpper(symbol)

	switch {
	case kind == "trade":
		var t binanceTrade
		if err := sonic.Unmarshal(data, &t); err != nil {
			return model.Event{}, errors.Wrap(exception.ErrFeedDecode, err.Error()).With("stream", stream)
		}
		return model.Event{
			Symbol:    symbol,
			Category:  enum.CategoryTrade,
			Timestamp: t.TradeTime,
			Payload: model.Trade{
				ID:           strconv.FormatInt(t.TradeID, 10),
				Price:        toFloat(t.Price),
				Amount:       toFloat(t.Quantity),
				IsBuyerMaker: t.IsBuyerMaker,
			},
		}, nil
	case kind == "ticker":
		var t binanceTicker
		if err := sonic.Unmarshal(data, &t); err != nil {
			return model.Event{}, errors.Wrap(exception.ErrFeedDecode, err.Error()).With("stream", stream)
		}
		return model.Event{
			Symbol:    symbol,
			Category:  enum.CategoryTicker,
			Timestamp: t.EventTime,
			Payload: model.Ticker{
				Price:  toFloat(t.Last),
				Volume: toFloat(t.Volume),
				Bid:    toFloat(t.Bid),
				Ask:    toFloat(t.Ask),
			},
		}, nil
	case strings.HasPrefix(kind, "depth"):
		var b binancePartialBookDepth
		if err := sonic.Unmarshal(data, &b); err != nil {
			return model.Event{}, errors.Wrap(exception.ErrFeedDecode, err.Error()).With("stream", stream)
		}
		return model.Event{
			Symbol:    symbol,
			Category:  enum.CategoryOrderBook,
			Timestamp: d.now().UnixMilli(),
			Payload:   model.OrderBook{Bids: toLevels(b.Bids), Asks: toLevels(b.Asks)},
		}, nil
	case kind == "forceOrder":
		var f binanceForceOrder
		if err := sonic.Unmarshal(data, &f); err != nil {
			return model.Event{}, errors.Wrap(exception.ErrFeedDecode, err.Error()).With("stream", stream)
		}
		return model.Event{
			Symbol:    symbol,
			Category:  enum.CategoryLiquidation,
			Timestamp: f.Order.TradeTime,
			Payload: model.Liquidation{
				Side:   f.Order.Side,
				Price:  toFloat(f.Order.Price),
				Amount: toFloat(f.Order.Quantity),
			},
		}, nil
	case strings.HasPrefix(kind, "kline_"):
		var k binanceKline
		if err := sonic.Unmarshal(data, &k); err != nil {
			return model.Event{}, errors.Wrap(exception.ErrFeedDecode, err.Error()).With("stream", stream)
		}
		return model.Event{
			Symbol:    symbol,
			Category:  enum.CategoryBar,
			Timestamp: k.Kline.StartTime,
			Payload: model.Bar{
				TimeframeMs: k.Kline.CloseTime - k.Kline.StartTime + 1,
				Open:        toFloat(k.Kline.Open),
				High:        toFloat(k.Kline.High),
				Low:         toFloat(k.Kline.Low),
				Close:       toFloat(k.Kline.Close),
				Volume:      toFloat(k.Kline.Volume),
				IsComplete:  k.Kline.Closed,
			},
		}, nil
	default:
		return model.Event{}, errors.Wrapf(exception.ErrFeedUnsupportedKind, "stream %q", stream)
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, err := strconv.ParseFloat(d.String(), 64)
	if err != nil {
		return 0
	}
	return f
}

func toLevels(src [][2]decimal.Decimal) []model.Level {
	levels := make([]model.Level, 0, len(src))
	for _, l := range src {
		levels = append(levels, model.Level{Price: toFloat(l[0]), Amount: toFloat(l[1])})
	}
	return levels
}
