package obs

import (
	"sync/atomic"
	"time"

	"marketstream/internal/model/enum"
)

const maxCategory = int(enum.CategoryOther)

// Metrics collects lightweight counters and latency stats of the ingest path.
type Metrics struct {
	processed      uint64
	skipped        uint64
	skippedByCat   [maxCategory + 1]uint64
	malformed      uint64
	rejected       uint64
	filtered       uint64
	evicted        uint64
	queueDrops     uint64
	backpressureOn uint64

	ingestLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Processed         uint64
	Skipped           uint64
	SkippedByCategory map[enum.Category]uint64
	Malformed         uint64
	Rejected          uint64
	Filtered          uint64
	Evicted           uint64
	QueueDrops        uint64
	BackpressureFlips uint64
	IngestLatency     LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncProcessed records an accepted event and how long admitting it took.
func (m *Metrics) IncProcessed(d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.processed, 1)
	m.ingestLatency.Observe(d)
}

// IncSkipped records an event dropped by the backpressure policy.
func (m *Metrics) IncSkipped(c enum.Category) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.skipped, 1)
	idx := int(c)
	if idx >= 0 && idx < len(m.skippedByCat) {
		atomic.AddUint64(&m.skippedByCat[idx], 1)
	}
}

// IncMalformed records an event rejected by validation.
func (m *Metrics) IncMalformed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.malformed, 1)
}

// IncRejected records an event offered while the processor is not running.
func (m *Metrics) IncRejected() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.rejected, 1)
}

// IncFiltered records an event suppressed by a content filter.
func (m *Metrics) IncFiltered() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.filtered, 1)
}

// AddEvicted records ring evictions.
func (m *Metrics) AddEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	atomic.AddUint64(&m.evicted, uint64(n))
}

// IncQueueDrop records a downstream queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncBackpressureFlip records a backpressure transition.
func (m *Metrics) IncBackpressureFlip() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.backpressureOn, 1)
}

// Processed returns the accepted event count.
func (m *Metrics) Processed() uint64 {
	if m == nil {
		return 0
	}
	return atomic.LoadUint64(&m.processed)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	byCat := make(map[enum.Category]uint64)
	for i := range m.skippedByCat {
		if v := atomic.LoadUint64(&m.skippedByCat[i]); v > 0 {
			byCat[enum.Category(i)] = v
		}
	}
	return Snapshot{
		Processed:         atomic.LoadUint64(&m.processed),
		Skipped:           atomic.LoadUint64(&m.skipped),
		SkippedByCategory: byCat,
		Malformed:         atomic.LoadUint64(&m.malformed),
		Rejected:          atomic.LoadUint64(&m.rejected),
		Filtered:          atomic.LoadUint64(&m.filtered),
		Evicted:           atomic.LoadUint64(&m.evicted),
		QueueDrops:        atomic.LoadUint64(&m.queueDrops),
		BackpressureFlips: atomic.LoadUint64(&m.backpressureOn),
		IngestLatency:     m.ingestLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
