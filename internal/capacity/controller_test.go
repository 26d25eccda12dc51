package capacity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketstream/internal/buffer"
	"marketstream/internal/metric"
	"marketstream/internal/model"
	"marketstream/internal/model/enum"
)

func newController() *Controller {
	return NewController(Config{
		DefaultCapacity:       1000,
		BackPressureThreshold: 0.8,
		Priority:              map[enum.Category]bool{enum.CategoryTrade: true},
	})
}

func TestScaleFactor(t *testing.T) {
	testCases := []struct {
		ratio    float64
		expected float64
	}{
		{0.99, 0.15},
		{0.96, 0.15},
		{0.95, 0.25},
		{0.91, 0.25},
		{0.85, 0.50},
		{0.75, 0.75},
		{0.70, 1.0},
		{0.50, 1.0},
		{0.30, 1.0},
		{0.29, 1.20},
		{0.0, 1.20},
	}

	for _, tc := range testCases {
		assert.Equalf(t, tc.expected, ScaleFactor(tc.ratio), "ratio %.2f", tc.ratio)
	}
}

func TestTarget(t *testing.T) {
	c := newController()
	trade := model.BufferKey{Symbol: "SOLUSDT", Category: enum.CategoryTrade}
	ticker := model.BufferKey{Symbol: "SOLUSDT", Category: enum.CategoryTicker}

	busy := func(key model.BufferKey, capacity int) buffer.State {
		return buffer.State{Key: key, Len: capacity, Capacity: capacity}
	}
	idle := func(key model.BufferKey, capacity int) buffer.State {
		return buffer.State{Key: key, Len: capacity / 10, Capacity: capacity}
	}

	assert.Equal(t, 1500, c.Target(0.5, busy(trade, 1500)))
	assert.Equal(t, 1000, c.Target(0.5, busy(ticker, 1000)))
	assert.Equal(t, 1800, c.Target(0.1, busy(trade, 1500)))
	assert.Equal(t, 500, c.Target(0.85, busy(ticker, 1000)))
	assert.Equal(t, 400, c.Target(0.85, idle(ticker, 1000)))
	assert.Equal(t, 120, c.Target(0.99, idle(ticker, 1000)))
}

func TestTargetFloor(t *testing.T) {
	c := NewController(Config{DefaultCapacity: 20})
	st := buffer.State{Key: model.BufferKey{Symbol: "X", Category: enum.CategoryOrderBook}, Len: 0, Capacity: 20}
	assert.Equal(t, buffer.MinCapacity, c.Target(0.99, st))
}

func TestRecomputeTolerance(t *testing.T) {
	c := newController()
	ticker := model.BufferKey{Symbol: "SOLUSDT", Category: enum.CategoryTicker}
	trade := model.BufferKey{Symbol: "SOLUSDT", Category: enum.CategoryTrade}

	states := []buffer.State{
		{Key: ticker, Len: 950, Capacity: 950},
		{Key: trade, Len: 1000, Capacity: 1000},
	}

	changes := c.Recompute(metric.Sample{Ratio: 0.5}, states)
	require.Len(t, changes, 1, "ticker 950 -> 1000 is within tolerance and must not change")
	assert.Equal(t, 1500, changes[trade])

	changes = c.Recompute(metric.Sample{Ratio: 0.97}, states)
	assert.Equal(t, 150, changes[ticker])
	assert.Equal(t, 225, changes[trade])
}

func TestObserveIsEdgeTriggered(t *testing.T) {
	c := newController()

	_, flipped := c.Observe(0.5)
	assert.False(t, flipped)
	assert.False(t, c.Active())

	tr, flipped := c.Observe(0.85)
	require.True(t, flipped)
	assert.True(t, tr.Active)
	assert.True(t, c.Active())

	_, flipped = c.Observe(0.95)
	assert.False(t, flipped, "staying above the threshold must not flip again")

	tr, flipped = c.Observe(0.6)
	require.True(t, flipped)
	assert.False(t, tr.Active)
	assert.Equal(t, uint64(2), c.Flips())
	assert.Equal(t, 0.6, c.Ratio())
}
