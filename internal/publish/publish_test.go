package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketstream/internal/dispatch"
	"marketstream/internal/model"
	"marketstream/internal/model/enum"
)

func TestSnapshotPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sub := rdb.Subscribe(context.Background(), "test:BTCUSDT:trade")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	p := NewSnapshotPublisher(rdb, "test", time.Minute, 4)
	key := model.BufferKey{Symbol: "BTCUSDT", Category: enum.CategoryTrade}
	older := model.Event{Symbol: "BTCUSDT", Category: enum.CategoryTrade, Timestamp: 1, Payload: model.Trade{Price: 1}}
	newest := model.Event{Symbol: "BTCUSDT", Category: enum.CategoryTrade, Timestamp: 2, Payload: model.Trade{Price: 2, Amount: 0.5}}

	require.NoError(t, p.Handle(dispatch.Notification{Kind: dispatch.KindBatch, Key: key, Events: []model.Event{older}}))
	require.NoError(t, p.Handle(dispatch.Notification{Kind: dispatch.KindLatest, Key: key, Events: []model.Event{older, newest}}))
	p.Close()
	p.Run(context.Background())

	assert.Equal(t, uint64(1), p.Published())
	assert.Equal(t, "test:latest:BTCUSDT:trade", p.Key(key))

	stored, err := mr.Get(p.Key(key))
	require.NoError(t, err)
	var got struct {
		Symbol    string        `json:"symbol"`
		Category  enum.Category `json:"category"`
		Timestamp int64         `json:"timestamp"`
		Payload   model.Trade   `json:"payload"`
	}
	require.NoError(t, sonic.Unmarshal([]byte(stored), &got))
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, enum.CategoryTrade, got.Category)
	assert.Equal(t, int64(2), got.Timestamp)
	assert.Equal(t, 2.0, got.Payload.Price)
	assert.Equal(t, time.Minute, mr.TTL(p.Key(key)))

	msg, err := sub.ReceiveMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stored, msg.Payload)
}

func TestSnapshotPublisherRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	p := NewSnapshotPublisher(rdb, "", time.Minute, 1)
	e := model.Event{Symbol: "ETHUSDT", Category: enum.CategoryTicker, Payload: model.Ticker{}}
	require.NoError(t, p.Handle(dispatch.Notification{Kind: dispatch.KindLatest, Events: []model.Event{e}}))
	require.NoError(t, p.Handle(dispatch.Notification{Kind: dispatch.KindLatest, Events: []model.Event{e}}))
	p.Close()
	p.Run(context.Background())

	assert.Equal(t, uint64(1), p.Failures())
	assert.Equal(t, uint64(1), p.Dropped())
	assert.Equal(t, "marketstream:ETHUSDT:ticker", p.Channel(e.Key()))
}

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	return m.Called().Error(0)
}

func TestCandlePublisher(t *testing.T) {
	c := model.Candle{Symbol: "SOLUSDT", TimeframeMs: 60_000, Start: 1_699_999_800_000, Open: 1, High: 2, Low: 1, Close: 2, Complete: true}

	w := &MockWriter{}
	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 || string(msgs[0].Key) != "SOLUSDT" {
			return false
		}
		var got model.Candle
		return sonic.Unmarshal(msgs[0].Value, &got) == nil && got == c
	})).Return(nil).Once()
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker gone")).Once()
	w.On("Close").Return(nil)

	p := NewCandlePublisher(w, 4)
	assert.Equal(t, dispatch.Filter{Kind: dispatch.KindCandleComplete}, p.Filter())
	require.NoError(t, p.Handle(dispatch.Notification{Kind: dispatch.KindCandleUpdate, Candle: c}))
	require.NoError(t, p.Handle(dispatch.Notification{Kind: dispatch.KindCandleComplete, Candle: c}))
	require.NoError(t, p.Handle(dispatch.Notification{Kind: dispatch.KindCandleComplete, Candle: c}))
	p.Close()
	p.Run(context.Background())
	require.NoError(t, p.CloseWriter())

	w.AssertExpectations(t)
	assert.Equal(t, uint64(1), p.Published())
	assert.Equal(t, uint64(1), p.Failures())
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "candles")
	assert.Equal(t, "candles", w.Topic)
	assert.Equal(t, "localhost:9092", w.Addr.String())
}
