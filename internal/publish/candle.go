package publish

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketstream/internal/bus"
	"marketstream/internal/dispatch"
	"marketstream/internal/model"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a writer that keys messages by symbol onto a
// stable partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

// CandlePublisher forwards finished bars to kafka.
type CandlePublisher struct {
	writer MessageWriter
	queue  *bus.Queue[model.Candle]

	published atomic.Uint64
	dropped   atomic.Uint64
	failures  atomic.Uint64
}

func NewCandlePublisher(writer MessageWriter, queueSize int) *CandlePublisher {
	return &CandlePublisher{
		writer: writer,
		queue:  bus.NewQueue[model.Candle](queueSize),
	}
}

func (p *CandlePublisher) Filter() dispatch.Filter {
	return dispatch.Filter{Kind: dispatch.KindCandleComplete}
}

// Handle is a dispatch.Handler.
func (p *CandlePublisher) Handle(n dispatch.Notification) error {
	if n.Kind != dispatch.KindCandleComplete {
		return nil
	}
	if err := p.queue.TryPublish(n.Candle); err != nil {
		p.dropped.Add(1)
	}
	return nil
}

// Publish writes one bar keyed by symbol.
func (p *CandlePublisher) Publish(ctx context.Context, c model.Candle) error {
	value, err := sonic.ConfigFastest.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal candle").With("symbol", c.Symbol)
	}

	msg := kafka.Message{
		Key:   []byte(c.Symbol),
		Value: value,
		Headers: []kafka.Header{
			{Key: "timeframeMs", Value: []byte(strconv.FormatInt(c.TimeframeMs, 10))},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write kafka message").With("symbol", c.Symbol)
	}
	return nil
}

// Run publishes queued bars until ctx is done or Close drains the queue.
func (p *CandlePublisher) Run(ctx context.Context) {
	p.queue.Run(ctx, func(c model.Candle) {
		if err := p.Publish(ctx, c); err != nil {
			p.failures.Add(1)
			logs.Errorf("publish candle, err: %+v", err)
			return
		}
		p.published.Add(1)
	})
}

// Close stops accepting bars; Run returns once the queue is drained.
func (p *CandlePublisher) Close() {
	p.queue.Close()
}

// CloseWriter closes the underlying writer. Call it after Run returns.
func (p *CandlePublisher) CloseWriter() error {
	if err := p.writer.Close(); err != nil {
		return errors.Wrap(err, "close kafka writer")
	}
	return nil
}

func (p *CandlePublisher) Published() uint64 { return p.published.Load() }
func (p *CandlePublisher) Dropped() uint64   { return p.dropped.Load() }
func (p *CandlePublisher) Failures() uint64  { return p.failures.Load() }
