package recorder

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketstream/internal/model"
	"marketstream/internal/model/enum"
	"marketstream/pkg/exception"
)

func sampleEvents() []model.Event {
	return []model.Event{
		{Symbol: "BTCUSDT", Category: enum.CategoryTrade, Timestamp: 1_000, Payload: model.Trade{ID: "1", Price: 100, Amount: 0.5}},
		{Symbol: "BTCUSDT", Category: enum.CategoryTicker, Timestamp: 1_100, Payload: model.Ticker{Price: 100, Volume: 9, Bid: 99.5, Ask: 100.5}},
		{Symbol: "ETHUSDT", Category: enum.CategoryOrderBook, Timestamp: 1_200, Payload: model.OrderBook{
			Bids: []model.Level{{Price: 10, Amount: 1}},
			Asks: []model.Level{{Price: 11, Amount: 2}},
		}},
		{Symbol: "ETHUSDT", Category: enum.CategoryBar, Timestamp: 1_300, Payload: model.Bar{TimeframeMs: 60_000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3, IsComplete: true}},
		{Symbol: "SOLUSDT", Category: enum.CategoryLiquidation, Timestamp: 1_400, Payload: model.Liquidation{Side: "SELL", Price: 20, Amount: 4}},
		{Symbol: "SOLUSDT", Category: enum.CategoryOther, Timestamp: 1_500, Payload: model.Raw{Data: []byte("opaque")}},
	}
}

func writeJournal(t *testing.T, cfg Config, events []model.Event) *Writer {
	t.Helper()
	w, err := NewWriter(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	for _, e := range events {
		require.NoError(t, w.Append(e))
	}
	require.NoError(t, w.Close())
	return w
}

func replay(t *testing.T, dir string) []model.Event {
	t.Helper()
	pb, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)

	var out []model.Event
	require.NoError(t, pb.Run(context.Background(), func(_ Header, e model.Event) error {
		out = append(out, e)
		return nil
	}))
	return out
}

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	events := sampleEvents()
	w := writeJournal(t, DefaultConfig(dir), events)

	assert.Equal(t, uint64(len(events)), w.Written())
	assert.Zero(t, w.Dropped())
	assert.Equal(t, events, replay(t, dir))
}

func TestJournalRotation(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SegmentMaxBytes = 128
	events := sampleEvents()
	writeJournal(t, cfg, events)

	pb, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	files, err := pb.Files()
	require.NoError(t, err)
	assert.Greater(t, len(files), 1)
	assert.Equal(t, events, replay(t, dir))
}

func TestJournalChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, DefaultConfig(dir), sampleEvents()[:1])

	pb, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	files, err := pb.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)

	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	raw[recordHeaderSize+2] ^= 0xFF
	require.NoError(t, os.WriteFile(files[0], raw, 0o644))

	err = pb.Run(context.Background(), func(Header, model.Event) error { return nil })
	assert.ErrorIs(t, err, exception.ErrJournalChecksumMismatch)

	r := NewReader(bytes.NewReader(raw), ReaderOptions{DisableChecksum: true})
	_, _, err = r.Next()
	assert.NotErrorIs(t, err, exception.ErrJournalChecksumMismatch)
}

func TestReaderTruncated(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, DefaultConfig(dir), sampleEvents()[:1])

	pb, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	files, err := pb.Files()
	require.NoError(t, err)
	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)

	r := NewReader(bytes.NewReader(raw[:len(raw)-2]), ReaderOptions{})
	_, _, err = r.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	r = NewReader(bytes.NewReader(nil), ReaderOptions{})
	_, _, err = r.Next()
	assert.Equal(t, io.EOF, err)

	r = NewReader(bytes.NewReader(bytes.Repeat([]byte{'x'}, recordHeaderSize)), ReaderOptions{})
	_, _, err = r.Next()
	assert.ErrorIs(t, err, exception.ErrJournalInvalidMagic)
}

func TestWriterLifecycle(t *testing.T) {
	w, err := NewWriter(DefaultConfig(t.TempDir()))
	require.NoError(t, err)

	e := sampleEvents()[0]
	assert.ErrorIs(t, w.Append(e), exception.ErrJournalNotStarted)
	require.NoError(t, w.Start(context.Background()))
	assert.ErrorIs(t, w.Start(context.Background()), exception.ErrJournalAlreadyStarted)
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Append(e), exception.ErrJournalClosed)
	assert.Equal(t, uint64(2), w.Dropped())
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		desc string
		cfg  Config
	}{
		{desc: "empty dir", cfg: Config{}},
		{desc: "negative flush", cfg: Config{Dir: "x", FlushInterval: -time.Second}},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := NewWriter(tc.cfg)
			assert.ErrorIs(t, err, exception.ErrInvalidConfig)
		})
	}

	_, err := NewPlayback(PlaybackConfig{Dir: "x", Speed: -1})
	assert.ErrorIs(t, err, exception.ErrInvalidConfig)
}

type recordingClock struct {
	slept []time.Duration
}

func (c *recordingClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return nil
}

func TestPlaybackPacing(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, DefaultConfig(dir), sampleEvents()[:3])

	pb, err := NewPlayback(PlaybackConfig{Dir: dir, Speed: 2})
	require.NoError(t, err)
	clock := &recordingClock{}
	pb.WithClock(clock)

	require.NoError(t, pb.Run(context.Background(), func(Header, model.Event) error { return nil }))
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, clock.slept)
}

type countingIngester struct {
	n atomic.Int64
}

func (c *countingIngester) Ingest(model.Event) bool {
	c.n.Add(1)
	return true
}

func TestTeeForwardsOnJournalFailure(t *testing.T) {
	w, err := NewWriter(DefaultConfig(t.TempDir()))
	require.NoError(t, err)

	next := &countingIngester{}
	tee := NewTee(next, w)
	assert.True(t, tee.Ingest(sampleEvents()[0]))
	assert.Equal(t, int64(1), next.n.Load())
	assert.Equal(t, uint64(1), w.Dropped())
}
