package metric

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketstream/pkg/exception"
)

const bytesPerMB = 1 << 20

// Usage is a raw reading of process memory counters in bytes.
type Usage struct {
	HeapUsed  uint64
	HeapTotal uint64
	RSS       uint64
}

// Reader reads process memory counters.
type Reader interface {
	ReadUsage() (Usage, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func() (Usage, error)

func (f ReaderFunc) ReadUsage() (Usage, error) { return f() }

// Sample is one derived memory observation.
type Sample struct {
	HeapUsedMB  float64
	HeapTotalMB float64
	RSSMB       float64
	Ratio       float64
	Timestamp   time.Time
}

// MemoryInfo is the view exposed through processor stats.
type MemoryInfo struct {
	Sample
	PeakHeapUsedMB float64
	MaxMemoryMB    float64
	Failures       uint64
}

// Sampler periodically reads memory counters and derives a usage ratio
// against a configured maximum. A failed read keeps the last good sample.
type Sampler struct {
	reader Reader
	maxMB  float64
	now    func() time.Time

	mu       sync.RWMutex
	last     Sample
	peakMB   float64
	failures uint64

	// report state, only touched by Report
	buf        [2048]byte
	prev, curr runtime.MemStats
	prevAt     time.Time
	currAt     time.Time
}

// NewSampler creates a sampler. A nil reader reads the Go runtime and, on
// linux, the resident set size from procfs.
func NewSampler(maxMB float64, reader Reader) *Sampler {
	if reader == nil {
		reader = RuntimeReader{}
	}
	if maxMB <= 0 {
		maxMB = 512
	}
	return &Sampler{
		reader: reader,
		maxMB:  maxMB,
		now:    time.Now,
	}
}

// Sample reads the counters and returns the new sample, or the last good one
// when the read fails.
func (s *Sampler) Sample() Sample {
	usage, err := s.reader.ReadUsage()
	if err != nil {
		s.mu.Lock()
		s.failures++
		last := s.last
		s.mu.Unlock()
		logs.Warnf("%s, keep last sample, err: %+v", exception.ErrMemorySampleFailed, err)
		return last
	}

	sample := Sample{
		HeapUsedMB:  float64(usage.HeapUsed) / bytesPerMB,
		HeapTotalMB: float64(usage.HeapTotal) / bytesPerMB,
		RSSMB:       float64(usage.RSS) / bytesPerMB,
		Timestamp:   s.now(),
	}
	sample.Ratio = sample.HeapUsedMB / s.maxMB

	s.mu.Lock()
	s.last = sample
	if sample.HeapUsedMB > s.peakMB {
		s.peakMB = sample.HeapUsedMB
	}
	s.mu.Unlock()
	return sample
}

// Last returns the most recent good sample.
func (s *Sampler) Last() Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Info returns the last sample with peak tracking.
func (s *Sampler) Info() MemoryInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return MemoryInfo{
		Sample:         s.last,
		PeakHeapUsedMB: s.peakMB,
		MaxMemoryMB:    s.maxMB,
		Failures:       s.failures,
	}
}

// Run samples once immediately and then on every interval until ctx is done,
// handing each sample to fn.
func (s *Sampler) Run(ctx context.Context, interval time.Duration, fn func(Sample)) {
	fn(s.Sample())
	s.Tick(ctx, interval, fn)
}

// Tick samples on every interval until ctx is done, without the eager first
// sample of Run.
func (s *Sampler) Tick(ctx context.Context, interval time.Duration, fn func(Sample)) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(s.Sample())
		}
	}
}

var statmWarn sync.Once

// RuntimeReader reads heap figures from the Go runtime. RSS comes from
// statm on linux and falls back to the runtime's Sys figure when statm
// cannot be read.
type RuntimeReader struct {
	// StatmPath overrides /proc/self/statm.
	StatmPath string
}

func (r RuntimeReader) ReadUsage() (Usage, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usage := Usage{
		HeapUsed:  ms.HeapAlloc,
		HeapTotal: ms.HeapSys,
		RSS:       ms.Sys,
	}
	if runtime.GOOS != "linux" {
		return usage, nil
	}

	rss, err := readStatmRSS(r.StatmPath)
	if err != nil {
		statmWarn.Do(func() {
			logs.Warnf("statm unavailable, report runtime sys as rss, err: %+v", err)
		})
		return usage, nil
	}
	usage.RSS = rss
	return usage, nil
}

func readStatmRSS(path string) (uint64, error) {
	if len(path) == 0 {
		path = "/proc/self/statm"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "read statm")
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, errors.Errorf("unexpected statm format: %q", data)
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse statm resident pages")
	}
	return pages * uint64(os.Getpagesize()), nil
}

// Report logs a single line with runtime heap and GC figures since the
// previous report.
func (s *Sampler) Report() {
	s.prev, s.curr = s.curr, s.prev
	s.prevAt = s.currAt
	s.currAt = s.now()
	runtime.ReadMemStats(&s.curr)
	if s.prevAt.IsZero() {
		s.prevAt = s.currAt
	}

	line := s.buf[:0]
	dt := s.currAt.Sub(s.prevAt).Seconds()
	if dt <= 0 {
		dt = 1
	}

	// --- HEAP ---
	{
		line = append(line, "[HEAP] "...)

		line = append(line, "alc="...)
		b, unit := bytesCarry(s.curr.HeapAlloc)
		line = strconv.AppendUint(line, b, 10)
		line = append(line, unit...)

		line = append(line, "\tinuse="...)
		b, unit = bytesCarry(s.curr.HeapInuse)
		line = strconv.AppendUint(line, b, 10)
		line = append(line, unit...)

		line = append(line, "\tratio="...)
		line = strconv.AppendFloat(line, float64(s.curr.HeapAlloc)/bytesPerMB/s.maxMB, 'f', 3, 64)

		line = append(line, "\tpeak="...)
		s.mu.RLock()
		line = strconv.AppendFloat(line, s.peakMB, 'f', 1, 64)
		s.mu.RUnlock()
		line = append(line, " MB"...)

		line = append(line, "\talc_rate="...)
		rate := float64(s.curr.TotalAlloc-s.prev.TotalAlloc) / dt
		rb, runit := bytesCarryFloat(rate)
		line = strconv.AppendFloat(line, rb, 'f', 2, 64)
		line = append(line, runit...)
		line = append(line, "/s"...)
	}

	// --- GC ---
	{
		line = append(line, "\t[GC] times="...)
		line = strconv.AppendUint(line, uint64(s.curr.NumGC-s.prev.NumGC), 10)

		line = append(line, "\tstw="...)
		stwMs := float64(s.curr.PauseTotalNs-s.prev.PauseTotalNs) / 1_000_000.0
		line = strconv.AppendFloat(line, stwMs, 'f', 4, 64)
		line = append(line, "ms"...)

		line = append(line, "\tnext_gc="...)
		b, unit := bytesCarry(s.curr.NextGC)
		line = strconv.AppendUint(line, b, 10)
		line = append(line, unit...)
	}

	logs.Debugf("%s", line)
}

const carryThreshold = 1 << 15

func bytesCarry(value uint64) (uint64, string) {
	if value < carryThreshold {
		return value, " B"
	}
	value >>= 10
	if value < carryThreshold {
		return value, " KB"
	}
	value >>= 10
	if value < carryThreshold {
		return value, " MB"
	}
	return value >> 10, " GB"
}

func bytesCarryFloat(value float64) (float64, string) {
	if value < float64(carryThreshold) {
		return value, " B"
	}
	value /= 1024
	if value < float64(carryThreshold) {
		return value, " KB"
	}
	value /= 1024
	if value < float64(carryThreshold) {
		return value, " MB"
	}
	return value / 1024, " GB"
}
