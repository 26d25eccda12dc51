package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketstream/internal/model"
	"marketstream/internal/model/enum"
)

func TestStoreInsertAndLatest(t *testing.T) {
	s := NewStore(StoreOption{DefaultCapacity: 1000})
	key := model.BufferKey{Symbol: "SOLUSDT", Category: enum.CategoryTrade}

	for i := 1; i <= 1500; i++ {
		s.Insert(tradeAt(i))
	}

	got := s.Latest(key, 1000)
	require.Len(t, got, 1000)
	assert.Equal(t, int64(501), got[0].Timestamp)
	assert.Equal(t, int64(1500), got[len(got)-1].Timestamp)
	assert.Nil(t, s.Latest(model.BufferKey{Symbol: "BTCUSDT", Category: enum.CategoryTrade}, 10))
}

func TestStoreSetCapacity(t *testing.T) {
	s := NewStore(StoreOption{DefaultCapacity: 100, EnableCache: true, CacheTTL: time.Minute})
	key := model.BufferKey{Symbol: "SOLUSDT", Category: enum.CategoryTrade}
	for i := 1; i <= 100; i++ {
		s.Insert(tradeAt(i))
	}

	require.True(t, s.SetCapacity(key, 30))
	assert.Equal(t, 30, s.Capacity(key))
	assert.Equal(t, []int64{99, 100}, timestamps(s.Latest(key, 2)))
	assert.Len(t, s.Latest(key, 100), 30)

	require.True(t, s.SetCapacity(key, 2))
	assert.Equal(t, MinCapacity, s.Capacity(key))

	assert.False(t, s.SetCapacity(model.BufferKey{Symbol: "X", Category: enum.CategoryTrade}, 50))
}

func TestStoreLookup(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(StoreOption{DefaultCapacity: 100, EnableCache: true, CacheTTL: time.Second, Now: clock.Now})
	key := model.BufferKey{Symbol: "SOLUSDT", Category: enum.CategoryTrade}
	s.Insert(tradeAt(7))

	e, ok := s.Lookup(key, 7)
	require.True(t, ok)
	assert.Equal(t, int64(7), e.Timestamp)

	clock.Advance(2 * time.Second)
	_, ok = s.Lookup(key, 7)
	assert.False(t, ok)
	assert.Equal(t, 1, s.Sweep())

	noCache := NewStore(StoreOption{})
	noCache.Insert(tradeAt(7))
	_, ok = noCache.Lookup(key, 7)
	assert.False(t, ok)
}

func TestStoreRemoveSymbol(t *testing.T) {
	s := NewStore(StoreOption{})
	s.Ensure(model.BufferKey{Symbol: "SOLUSDT", Category: enum.CategoryTrade})
	s.Ensure(model.BufferKey{Symbol: "SOLUSDT", Category: enum.CategoryTicker})
	s.Ensure(model.BufferKey{Symbol: "BTCUSDT", Category: enum.CategoryTrade})

	removed := s.RemoveSymbol("SOLUSDT")
	assert.Len(t, removed, 2)
	assert.Equal(t, 1, s.Count())

	states := s.States()
	require.Len(t, states, 1)
	assert.Equal(t, "BTCUSDT", states[0].Key.Symbol)
}

func TestStoreClear(t *testing.T) {
	s := NewStore(StoreOption{DefaultCapacity: 10})
	key := model.BufferKey{Symbol: "SOLUSDT", Category: enum.CategoryTrade}
	s.Insert(tradeAt(1))
	s.Clear(key)
	assert.Empty(t, s.Latest(key, 10))
	assert.Equal(t, 1, s.Count())
}

func TestStoreConcurrentInsertAndResize(t *testing.T) {
	s := NewStore(StoreOption{DefaultCapacity: 200})
	key := model.BufferKey{Symbol: "SOLUSDT", Category: enum.CategoryTrade}
	s.Ensure(key)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			s.Insert(tradeAt(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.SetCapacity(key, 10+i%300)
		}
	}()
	wg.Wait()

	for _, st := range s.States() {
		assert.LessOrEqual(t, st.Len, st.Capacity)
	}
	got := s.Latest(key, s.Capacity(key))
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Timestamp, got[i].Timestamp)
	}
}
