package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketstream/internal/candle"
	"marketstream/internal/model/enum"
	"marketstream/internal/stream"
	"marketstream/pkg/exception"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, stream.DefaultConfig(), loaded.Stream)
	assert.True(t, loaded.HTTP.Enabled)
	assert.Equal(t, ":8080", loaded.HTTP.Addr)
	assert.False(t, loaded.Redis.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, loaded.Kafka.Brokers)
	assert.Equal(t, 1024, loaded.Postgres.QueueSize)
	assert.Equal(t, "marketstream", loaded.Postgres.ApplicationName)
	assert.Equal(t, 5000, loaded.Postgres.ConnectTimeoutMs)
	assert.False(t, loaded.Journal.Enabled)
	assert.Equal(t, "data/journal", loaded.Journal.Dir)
	assert.Equal(t, "wss://stream.binance.com:9443/stream", loaded.Feed.URL)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `{
		"bufferSize": 500,
		"throttleMs": 50,
		"backPressureThreshold": 0.7,
		"priorityCategories": ["trade", "orderbook"],
		"enableCache": false,
		"dynamicSizingEnabled": false,
		"symbols": [" btcusdt ", "ethusdt", ""],
		"categories": ["trade", "ticker"],
		"timeframes": ["1m", "5m"],
		"orderBookDepth": 0,
		"dropPolicy": {"tickerAbove": 0.85},
		"redis": {"enabled": true, "addr": "redis:6379"},
		"kafka": {"topic": "bars"},
		"journal": {"enabled": true, "dir": "/tmp/capture", "segmentMaxBytes": 1048576}
	}`)

	loaded, err := Load(path)
	require.NoError(t, err)

	sc := loaded.Stream
	assert.Equal(t, 500, sc.BufferSize)
	assert.Equal(t, 50*time.Millisecond, sc.Throttle)
	assert.Equal(t, 0.7, sc.BackPressureThreshold)
	assert.Equal(t, []enum.Category{enum.CategoryTrade, enum.CategoryOrderBook}, sc.PriorityCategories)
	assert.False(t, sc.EnableCache)
	assert.False(t, sc.DynamicSizing)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, sc.Symbols)
	assert.Equal(t, []enum.Category{enum.CategoryTrade, enum.CategoryTicker}, sc.Categories)
	assert.Equal(t, []candle.Timeframe{candle.Minute1, candle.Minute5}, sc.Timeframes)
	assert.Equal(t, 0, sc.OrderBookDepth)
	assert.Equal(t, 0.85, sc.Drop.TickerAbove)
	assert.Equal(t, 0.95, sc.Drop.LiquidationAbove)
	assert.Equal(t, 100, sc.BatchSize, "absent keys keep defaults")

	assert.True(t, loaded.Redis.Enabled)
	assert.Equal(t, "redis:6379", loaded.Redis.Addr)
	assert.Equal(t, "bars", loaded.Kafka.Topic)
	assert.True(t, loaded.Journal.Enabled)
	assert.Equal(t, "/tmp/capture", loaded.Journal.Dir)
	assert.Equal(t, int64(1<<20), loaded.Journal.SegmentMaxBytes)
	assert.Equal(t, 1000, loaded.Journal.FlushIntervalMs)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STREAM_BUFFERSIZE", "300")
	t.Setenv("STREAM_REDIS_ADDR", "cache:6380")

	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 300, loaded.Stream.BufferSize)
	assert.Equal(t, "cache:6380", loaded.Redis.Addr)
}

func TestResolveRejectsInvalid(t *testing.T) {
	testCases := []struct {
		desc string
		cfg  FileConfig
	}{
		{"unknown category", FileConfig{Categories: []string{"news"}}},
		{"bad timeframe", FileConfig{Timeframes: []string{"fortnight"}}},
		{"threshold", FileConfig{BackPressureThreshold: 2}},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := Resolve(tc.cfg)
			assert.ErrorIs(t, err, exception.ErrInvalidConfig)
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, `{"bufferSize": `))
	assert.ErrorIs(t, err, exception.ErrInvalidConfig)
}
