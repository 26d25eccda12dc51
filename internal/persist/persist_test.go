package persist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketstream/internal/dispatch"
	"marketstream/internal/model"
)

type MockSaver struct {
	mock.Mock
}

func (m *MockSaver) Save(ctx context.Context, candles ...model.Candle) error {
	args := m.Called(ctx, candles)
	return args.Error(0)
}

func candleAt(start int64) model.Candle {
	return model.Candle{Symbol: "BTCUSDT", TimeframeMs: 60_000, Start: start, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3, Trades: 4, Complete: true}
}

func TestRecordRoundTrip(t *testing.T) {
	c := candleAt(1_699_999_800_000)
	r := toRecord(c)
	assert.Equal(t, "candles", r.TableName())
	assert.Equal(t, c, r.candle())
}

func TestWriterSavesCompletedCandles(t *testing.T) {
	saver := &MockSaver{}
	saver.On("Save", mock.Anything, []model.Candle{candleAt(1)}).Return(nil).Once()
	saver.On("Save", mock.Anything, []model.Candle{candleAt(2)}).Return(errors.New("db down")).Once()

	w := NewWriter(saver, 8)
	require.NoError(t, w.Handle(dispatch.Notification{Kind: dispatch.KindCandleComplete, Candle: candleAt(1)}))
	require.NoError(t, w.Handle(dispatch.Notification{Kind: dispatch.KindCandleUpdate, Candle: candleAt(9)}))
	require.NoError(t, w.Handle(dispatch.Notification{Kind: dispatch.KindCandleComplete, Candle: candleAt(2)}))
	w.Close()

	w.Run(context.Background())

	saver.AssertExpectations(t)
	assert.Equal(t, uint64(1), w.Saved())
	assert.Equal(t, uint64(1), w.Failures())
	assert.Equal(t, uint64(0), w.Dropped())
}

func TestWriterDropsWhenFull(t *testing.T) {
	w := NewWriter(&MockSaver{}, 1)
	n := dispatch.Notification{Kind: dispatch.KindCandleComplete, Candle: candleAt(1)}

	require.NoError(t, w.Handle(n))
	require.NoError(t, w.Handle(n))
	assert.Equal(t, uint64(1), w.Dropped())

	w.Close()
	assert.Error(t, w.Handle(n))
	assert.Equal(t, dispatch.Filter{Kind: dispatch.KindCandleComplete}, w.Filter())
}
