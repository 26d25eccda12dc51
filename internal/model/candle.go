package model

// Candle is an OHLCV aggregate over [Start, Start+TimeframeMs).
type Candle struct {
	Symbol      string  `json:"symbol"`
	TimeframeMs int64   `json:"timeframeMs"`
	Start       int64   `json:"start"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	Trades      int     `json:"trades"`
	Complete    bool    `json:"complete"`
}

// End returns the exclusive end of the candle bucket.
func (c Candle) End() int64 {
	return c.Start + c.TimeframeMs
}

// BucketStart floors ts to the timeframe boundary.
func BucketStart(ts, timeframeMs int64) int64 {
	if timeframeMs <= 0 {
		return ts
	}
	start := (ts / timeframeMs) * timeframeMs
	if ts < 0 && ts%timeframeMs != 0 {
		start -= timeframeMs
	}
	return start
}
