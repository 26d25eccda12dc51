package persist

import (
	"context"
	"sync/atomic"

	"github.com/yanun0323/logs"

	"marketstream/internal/bus"
	"marketstream/internal/dispatch"
	"marketstream/internal/model"
	"marketstream/pkg/exception"
)

// Saver persists finished bars.
type Saver interface {
	Save(ctx context.Context, candles ...model.Candle) error
}

// Writer hands candle-complete notifications to a worker through a bounded
// queue, so a slow database never blocks dispatch. Candles that do not fit
// the queue are dropped and counted.
type Writer struct {
	saver Saver
	queue *bus.Queue[model.Candle]

	saved    atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64
}

func NewWriter(saver Saver, queueSize int) *Writer {
	return &Writer{
		saver: saver,
		queue: bus.NewQueue[model.Candle](queueSize),
	}
}

// Filter selects the notifications Handle consumes.
func (w *Writer) Filter() dispatch.Filter {
	return dispatch.Filter{Kind: dispatch.KindCandleComplete}
}

// Handle is a dispatch.Handler.
func (w *Writer) Handle(n dispatch.Notification) error {
	if n.Kind != dispatch.KindCandleComplete {
		return nil
	}
	if err := w.queue.TryPublish(n.Candle); err != nil {
		w.dropped.Add(1)
		if err == exception.ErrQueueClosed {
			return err
		}
	}
	return nil
}

// Run saves queued candles until ctx is done or Close drains the queue.
func (w *Writer) Run(ctx context.Context) {
	w.queue.Run(ctx, func(c model.Candle) {
		if err := w.saver.Save(ctx, c); err != nil {
			w.failures.Add(1)
			logs.Errorf("save candle %s %d %d, err: %+v", c.Symbol, c.TimeframeMs, c.Start, err)
			return
		}
		w.saved.Add(1)
	})
}

// Close stops accepting candles; Run returns once the queue is drained.
func (w *Writer) Close() {
	w.queue.Close()
}

func (w *Writer) Saved() uint64    { return w.saved.Load() }
func (w *Writer) Dropped() uint64  { return w.dropped.Load() }
func (w *Writer) Failures() uint64 { return w.failures.Load() }
