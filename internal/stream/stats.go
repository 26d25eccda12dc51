package stream

import (
	"math"
	"time"

	"marketstream/internal/metric"
	"marketstream/internal/obs"
)

// BufferSize is the fill level of one buffer.
type BufferSize struct {
	Len      int    `json:"len"`
	Capacity int    `json:"capacity"`
	Inserted uint64 `json:"inserted"`
}

// Stats is a point-in-time view of the processor.
type Stats struct {
	Running        bool                  `json:"running"`
	Uptime         time.Duration         `json:"uptime"`
	BufferCount    int                   `json:"bufferCount"`
	TotalProcessed uint64                `json:"totalProcessed"`
	BufferSizes    map[string]BufferSize `json:"bufferSizes"`
	MemoryInfo     metric.MemoryInfo     `json:"memoryInfo"`
	ProcessingRate float64               `json:"processingRate"`

	// BackpressureCount is the number of events dropped by the
	// backpressure admission policy.
	BackpressureCount  uint64              `json:"backpressureCount"`
	BackpressureActive bool                `json:"backpressureActive"`
	BackpressureFlips  uint64              `json:"backpressureFlips"`
	SkippedByCategory  map[string]uint64   `json:"skippedByCategory"`
	Malformed          uint64              `json:"malformed"`
	Rejected           uint64              `json:"rejected"`
	Filtered           uint64              `json:"filtered"`
	Evicted            uint64              `json:"evicted"`
	IngestLatency      obs.LatencySnapshot `json:"ingestLatency"`
	Subscribers        int                 `json:"subscribers"`
	Delivered          uint64              `json:"delivered"`
	SubscriberFailures uint64              `json:"subscriberFailures"`
	PendingTimers      int                 `json:"pendingTimers"`
	Flushes            uint64              `json:"flushes"`
}

// Stats collects counters from every component.
func (p *Processor) Stats() Stats {
	snap := p.metrics.Snapshot()
	dispatched := p.dispatcher.Stats()

	states := p.store.States()
	sizes := make(map[string]BufferSize, len(states))
	for _, st := range states {
		sizes[st.Key.String()] = BufferSize{Len: st.Len, Capacity: st.Capacity, Inserted: st.Inserted}
	}
	skipped := make(map[string]uint64, len(snap.SkippedByCategory))
	for cat, n := range snap.SkippedByCategory {
		skipped[cat.String()] = n
	}

	running := p.Running()
	var uptime time.Duration
	if running {
		uptime = p.now().Sub(time.Unix(0, p.startedAt.Load()))
	}

	return Stats{
		Running:            running,
		Uptime:             uptime,
		BufferCount:        len(states),
		TotalProcessed:     snap.Processed,
		BufferSizes:        sizes,
		MemoryInfo:         p.sampler.Info(),
		ProcessingRate:     math.Float64frombits(p.rateBits.Load()),
		BackpressureCount:  snap.Skipped,
		BackpressureActive: p.controller.Active(),
		BackpressureFlips:  snap.BackpressureFlips,
		SkippedByCategory:  skipped,
		Malformed:          snap.Malformed,
		Rejected:           snap.Rejected,
		Filtered:           snap.Filtered,
		Evicted:            snap.Evicted,
		IngestLatency:      snap.IngestLatency,
		Subscribers:        dispatched.Subscribers,
		Delivered:          dispatched.Delivered,
		SubscriberFailures: dispatched.Failures,
		PendingTimers:      dispatched.PendingTimers,
		Flushes:            dispatched.Flushes,
	}
}
