package stream

import (
	"time"

	"github.com/yanun0323/errors"

	"marketstream/internal/candle"
	"marketstream/internal/model/enum"
	"marketstream/pkg/exception"
)

// DropPolicy holds the memory ratios above which non-priority categories are
// dropped while backpressure is active. Order book and other events are
// always dropped; trades and bars never are.
type DropPolicy struct {
	TickerAbove      float64
	LiquidationAbove float64
}

// Config is the resolved processor configuration.
type Config struct {
	BufferSize            int
	Throttle              time.Duration
	BatchSize             int
	MaxMemoryMB           float64
	BackPressureThreshold float64
	PriorityCategories    []enum.Category
	EnableCache           bool
	CacheTTL              time.Duration
	MemoryCheckInterval   time.Duration
	DynamicSizing         bool
	Symbols               []string
	Categories            []enum.Category

	Timeframes           []candle.Timeframe
	OrderBookDepth       int
	TickerDedupThreshold float64
	Drop                 DropPolicy
}

// DefaultConfig returns the configuration used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BufferSize:            1000,
		Throttle:              200 * time.Millisecond,
		BatchSize:             100,
		MaxMemoryMB:           512,
		BackPressureThreshold: 0.8,
		PriorityCategories:    []enum.Category{enum.CategoryTrade, enum.CategoryBar},
		EnableCache:           true,
		CacheTTL:              time.Minute,
		MemoryCheckInterval:   5 * time.Second,
		DynamicSizing:         true,
		Timeframes:            []candle.Timeframe{candle.Minute1},
		OrderBookDepth:        20,
		TickerDedupThreshold:  0.0001,
		Drop: DropPolicy{
			TickerAbove:      0.9,
			LiquidationAbove: 0.95,
		},
	}
}

// withDefaults fills zero numeric fields and nil priority/timeframe slices
// from DefaultConfig. A non-nil empty slice disables the feature. Booleans
// are taken as given.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PriorityCategories == nil {
		c.PriorityCategories = def.PriorityCategories
	}
	if c.Timeframes == nil {
		c.Timeframes = def.Timeframes
	}
	if c.BufferSize == 0 {
		c.BufferSize = def.BufferSize
	}
	if c.Throttle == 0 {
		c.Throttle = def.Throttle
	}
	if c.BatchSize == 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxMemoryMB == 0 {
		c.MaxMemoryMB = def.MaxMemoryMB
	}
	if c.BackPressureThreshold == 0 {
		c.BackPressureThreshold = def.BackPressureThreshold
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.MemoryCheckInterval == 0 {
		c.MemoryCheckInterval = def.MemoryCheckInterval
	}
	if c.Drop.TickerAbove == 0 {
		c.Drop.TickerAbove = def.Drop.TickerAbove
	}
	if c.Drop.LiquidationAbove == 0 {
		c.Drop.LiquidationAbove = def.Drop.LiquidationAbove
	}
	return c
}

// Validate rejects values the processor cannot run with.
func (c Config) Validate() error {
	switch {
	case c.BufferSize < 0:
		return errors.Wrapf(exception.ErrInvalidConfig, "bufferSize %d", c.BufferSize)
	case c.Throttle < 0:
		return errors.Wrapf(exception.ErrInvalidConfig, "throttle %s", c.Throttle)
	case c.BatchSize < 0:
		return errors.Wrapf(exception.ErrInvalidConfig, "batchSize %d", c.BatchSize)
	case c.MaxMemoryMB < 0:
		return errors.Wrapf(exception.ErrInvalidConfig, "maxMemoryMB %f", c.MaxMemoryMB)
	case c.BackPressureThreshold < 0 || c.BackPressureThreshold > 1:
		return errors.Wrapf(exception.ErrInvalidConfig, "backPressureThreshold %f", c.BackPressureThreshold)
	case c.CacheTTL < 0:
		return errors.Wrapf(exception.ErrInvalidConfig, "cacheTTL %s", c.CacheTTL)
	case c.MemoryCheckInterval < 0:
		return errors.Wrapf(exception.ErrInvalidConfig, "memoryCheckInterval %s", c.MemoryCheckInterval)
	case c.OrderBookDepth < 0:
		return errors.Wrapf(exception.ErrInvalidConfig, "orderBookDepth %d", c.OrderBookDepth)
	case c.TickerDedupThreshold < 0:
		return errors.Wrapf(exception.ErrInvalidConfig, "tickerDedupThreshold %f", c.TickerDedupThreshold)
	}
	for _, cat := range append(append([]enum.Category(nil), c.PriorityCategories...), c.Categories...) {
		if !cat.IsAvailable() {
			return errors.Wrapf(exception.ErrInvalidConfig, "category %d", cat)
		}
	}
	for _, tf := range c.Timeframes {
		if tf <= 0 {
			return errors.Wrapf(exception.ErrInvalidConfig, "timeframe %d", tf)
		}
	}
	return nil
}

func (c Config) priority() map[enum.Category]bool {
	m := make(map[enum.Category]bool, len(c.PriorityCategories))
	for _, cat := range c.PriorityCategories {
		m[cat] = true
	}
	return m
}
