package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketstream/internal/metric"
	"marketstream/internal/model"
	"marketstream/internal/model/enum"
	"marketstream/internal/stream"
)

type MockStreamService struct {
	mock.Mock
}

func (m *MockStreamService) Running() bool {
	return m.Called().Bool(0)
}

func (m *MockStreamService) Stats() stream.Stats {
	return m.Called().Get(0).(stream.Stats)
}

func (m *MockStreamService) MemoryInfo() metric.MemoryInfo {
	return m.Called().Get(0).(metric.MemoryInfo)
}

func (m *MockStreamService) Latest(symbol string, cat enum.Category, count int) []model.Event {
	args := m.Called(symbol, cat, count)
	return args.Get(0).([]model.Event)
}

type MockCandleReader struct {
	mock.Mock
}

func (m *MockCandleReader) Recent(ctx context.Context, symbol string, timeframeMs int64, limit int) ([]model.Candle, error) {
	args := m.Called(ctx, symbol, timeframeMs, limit)
	return args.Get(0).([]model.Candle), args.Error(1)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, h *Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.SetupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	svc := &MockStreamService{}
	svc.On("Running").Return(true).Once()
	svc.On("Running").Return(false).Once()
	h := NewHandler(svc, nil)

	rec := serve(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeaderKey))

	rec = serve(t, h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	svc.AssertExpectations(t)
}

func TestRequestIDIsEchoed(t *testing.T) {
	svc := &MockStreamService{}
	svc.On("Running").Return(true)
	h := NewHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeaderKey, "abc")
	rec := httptest.NewRecorder()
	h.SetupRoutes().ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeaderKey))
}

func TestGetStatsAndMemory(t *testing.T) {
	svc := &MockStreamService{}
	svc.On("Stats").Return(stream.Stats{Running: true, TotalProcessed: 42, BufferSizes: map[string]stream.BufferSize{"BTCUSDT:trade": {Len: 1, Capacity: 10}}})
	svc.On("MemoryInfo").Return(metric.MemoryInfo{PeakHeapUsedMB: 12.5, MaxMemoryMB: 512})
	h := NewHandler(svc, nil)

	rec := serve(t, h, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats stream.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(42), stats.TotalProcessed)
	assert.Equal(t, 10, stats.BufferSizes["BTCUSDT:trade"].Capacity)

	rec = serve(t, h, "/memory")
	require.Equal(t, http.StatusOK, rec.Code)
	var info metric.MemoryInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 12.5, info.PeakHeapUsedMB)
}

func TestGetLatest(t *testing.T) {
	events := []model.Event{{Symbol: "BTCUSDT", Category: enum.CategoryTicker, Timestamp: 7, Payload: model.Ticker{Price: 1}}}
	svc := &MockStreamService{}
	svc.On("Latest", "BTCUSDT", enum.CategoryTicker, 5).Return(events)
	svc.On("Latest", "ETHUSDT", enum.CategoryTrade, DefaultCount).Return([]model.Event{})
	h := NewHandler(svc, nil)

	rec := serve(t, h, "/latest?symbol=btcusdt&category=ticker&count=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"category":"ticker"`)
	assert.Contains(t, rec.Body.String(), `"timestamp":7`)

	rec = serve(t, h, "/latest?symbol=ETHUSDT")
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestGetLatestValidation(t *testing.T) {
	h := NewHandler(&MockStreamService{}, nil)
	for _, target := range []string{
		"/latest",
		"/latest?symbol=BTCUSDT&category=news",
		"/latest?symbol=BTCUSDT&count=0",
		"/latest?symbol=BTCUSDT&count=abc",
		"/latest?symbol=BTCUSDT&count=999999",
	} {
		t.Run(target, func(t *testing.T) {
			rec := serve(t, h, target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "request_id")
		})
	}
}

func TestGetCandles(t *testing.T) {
	candles := []model.Candle{{Symbol: "BTCUSDT", TimeframeMs: 300_000, Start: 1, Close: 2, Complete: true}}
	reader := &MockCandleReader{}
	reader.On("Recent", mock.Anything, "BTCUSDT", int64(300_000), 2).Return(candles, nil)
	reader.On("Recent", mock.Anything, "ETHUSDT", int64(60_000), DefaultCount).Return([]model.Candle(nil), errors.New("db down"))
	h := NewHandler(&MockStreamService{}, reader)

	rec := serve(t, h, "/candles?symbol=BTCUSDT&timeframe=5m&limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []model.Candle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, candles, got)

	rec = serve(t, h, "/candles?symbol=ETHUSDT")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = serve(t, h, "/candles?symbol=ETHUSDT&timeframe=xx")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	reader.AssertExpectations(t)
}

func TestGetCandlesDisabled(t *testing.T) {
	rec := serve(t, NewHandler(&MockStreamService{}, nil), "/candles?symbol=BTCUSDT")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
