package publish

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketstream/internal/bus"
	"marketstream/internal/dispatch"
	"marketstream/internal/model"
)

// Pipeliner is the part of a redis client the snapshot publisher needs.
type Pipeliner interface {
	Pipeline() redis.Pipeliner
}

// SnapshotPublisher mirrors the latest event of every key into redis: the
// value is SET under "<prefix>:latest:<SYMBOL>:<category>" with a TTL and
// PUBLISHed on "<prefix>:<SYMBOL>:<category>".
type SnapshotPublisher struct {
	rdb    Pipeliner
	prefix string
	ttl    time.Duration
	queue  *bus.Queue[model.Event]

	published atomic.Uint64
	dropped   atomic.Uint64
	failures  atomic.Uint64
}

func NewSnapshotPublisher(rdb Pipeliner, prefix string, ttl time.Duration, queueSize int) *SnapshotPublisher {
	if len(prefix) == 0 {
		prefix = "marketstream"
	}
	return &SnapshotPublisher{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		queue:  bus.NewQueue[model.Event](queueSize),
	}
}

func (p *SnapshotPublisher) Filter() dispatch.Filter {
	return dispatch.Filter{Kind: dispatch.KindLatest}
}

// Handle is a dispatch.Handler.
func (p *SnapshotPublisher) Handle(n dispatch.Notification) error {
	if n.Kind != dispatch.KindLatest || len(n.Events) == 0 {
		return nil
	}
	if err := p.queue.TryPublish(n.Events[len(n.Events)-1]); err != nil {
		p.dropped.Add(1)
	}
	return nil
}

func (p *SnapshotPublisher) Key(k model.BufferKey) string {
	return p.prefix + ":latest:" + k.String()
}

func (p *SnapshotPublisher) Channel(k model.BufferKey) string {
	return p.prefix + ":" + k.String()
}

// Publish writes one snapshot.
func (p *SnapshotPublisher) Publish(ctx context.Context, e model.Event) error {
	payload, err := sonic.ConfigFastest.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot").With("key", e.Key().String())
	}

	pipe := p.rdb.Pipeline()
	pipe.Set(ctx, p.Key(e.Key()), payload, p.ttl)
	pipe.Publish(ctx, p.Channel(e.Key()), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "exec redis pipeline").With("key", e.Key().String())
	}
	return nil
}

// Run publishes queued snapshots until ctx is done or Close drains the queue.
func (p *SnapshotPublisher) Run(ctx context.Context) {
	p.queue.Run(ctx, func(e model.Event) {
		if err := p.Publish(ctx, e); err != nil {
			p.failures.Add(1)
			logs.Errorf("publish snapshot, err: %+v", err)
			return
		}
		p.published.Add(1)
	})
}

func (p *SnapshotPublisher) Close() {
	p.queue.Close()
}

func (p *SnapshotPublisher) Published() uint64 { return p.published.Load() }
func (p *SnapshotPublisher) Dropped() uint64   { return p.dropped.Load() }
func (p *SnapshotPublisher) Failures() uint64  { return p.failures.Load() }
