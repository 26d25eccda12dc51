package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketstream/internal/model"
	"marketstream/internal/model/enum"
)

func tradeAt(i int) model.Event {
	return model.Event{
		Symbol:    "SOLUSDT",
		Category:  enum.CategoryTrade,
		Timestamp: int64(i),
		Payload:   model.Trade{Price: float64(i), Amount: 1},
	}
}

func timestamps(events []model.Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.Timestamp
	}
	return out
}

func TestRingEvictionOrder(t *testing.T) {
	const capacity, extra = 50, 17
	r := NewRing(capacity)

	for i := 1; i <= capacity+extra; i++ {
		r.Push(tradeAt(i))
		require.LessOrEqual(t, r.Len(), r.Cap())
	}

	got := r.Latest(capacity)
	require.Len(t, got, capacity)
	for i, e := range got {
		assert.Equal(t, int64(extra+1+i), e.Timestamp)
	}
	assert.Equal(t, uint64(capacity+extra), r.Inserted())
}

func TestRingLatest(t *testing.T) {
	r := NewRing(10)
	assert.Nil(t, r.Latest(5))

	for i := 1; i <= 4; i++ {
		r.Push(tradeAt(i))
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, timestamps(r.Latest(100)))
	assert.Equal(t, []int64{3, 4}, timestamps(r.Latest(2)))
	assert.Nil(t, r.Latest(0))

	for i := 5; i <= 13; i++ {
		r.Push(tradeAt(i))
	}
	assert.Equal(t, []int64{10, 11, 12, 13}, timestamps(r.Latest(4)))

	newest, ok := r.Newest()
	require.True(t, ok)
	assert.Equal(t, int64(13), newest.Timestamp)
}

func TestRingResize(t *testing.T) {
	r := NewRing(20)
	for i := 1; i <= 25; i++ {
		r.Push(tradeAt(i))
	}

	dropped := r.Resize(12)
	assert.Equal(t, 8, dropped)
	assert.Equal(t, 12, r.Cap())
	assert.Equal(t, 12, r.Len())
	assert.Equal(t, []int64{14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25}, timestamps(r.Latest(12)))

	assert.Equal(t, 0, r.Resize(40))
	assert.Equal(t, 12, r.Len())
	r.Push(tradeAt(26))
	assert.Equal(t, []int64{24, 25, 26}, timestamps(r.Latest(3)))
}

func TestRingCapacityFloor(t *testing.T) {
	r := NewRing(3)
	assert.Equal(t, MinCapacity, r.Cap())

	r.Resize(1)
	assert.Equal(t, MinCapacity, r.Cap())
}

func TestRingClear(t *testing.T) {
	r := NewRing(10)
	for i := 0; i < 15; i++ {
		r.Push(tradeAt(i))
	}
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 10, r.Cap())
	_, ok := r.Newest()
	assert.False(t, ok)
}

func TestRingScenarioSOLUSDT(t *testing.T) {
	r := NewRing(1000)
	for i := 1; i <= 1500; i++ {
		r.Push(tradeAt(i))
	}

	got := r.Latest(1000)
	require.Len(t, got, 1000)
	assert.Equal(t, int64(501), got[0].Timestamp)
	assert.Equal(t, int64(1500), got[999].Timestamp)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].Timestamp+1, got[i].Timestamp)
	}
}

func BenchmarkRingPush(b *testing.B) {
	r := NewRing(1000)
	e := tradeAt(1)
	for b.Loop() {
		r.Push(e)
	}
}
