package capacity

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/yanun0323/logs"

	"marketstream/internal/buffer"
	"marketstream/internal/metric"
	"marketstream/internal/model"
	"marketstream/internal/model/enum"
)

const (
	priorityMultiplier = 1.5
	idleUtilization    = 0.3
	idleFactor         = 0.8
	changeTolerance    = 0.1
)

// Config controls capacity targets and the backpressure threshold.
type Config struct {
	DefaultCapacity       int
	BackPressureThreshold float64
	Priority              map[enum.Category]bool
}

// Transition describes a backpressure flag flip.
type Transition struct {
	Active bool
	Ratio  float64
}

// Controller derives per-key buffer capacities from memory pressure and
// utilization, and owns the backpressure flag.
type Controller struct {
	cfg Config

	active    atomic.Bool
	ratioBits atomic.Uint64
	flips     atomic.Uint64

	mu sync.Mutex // serializes Observe
}

// NewController creates a controller.
func NewController(cfg Config) *Controller {
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = 1000
	}
	if cfg.BackPressureThreshold <= 0 || cfg.BackPressureThreshold > 1 {
		cfg.BackPressureThreshold = 0.8
	}
	if cfg.Priority == nil {
		cfg.Priority = map[enum.Category]bool{}
	}
	return &Controller{cfg: cfg}
}

// ScaleFactor maps a memory ratio onto a capacity multiplier.
func ScaleFactor(ratio float64) float64 {
	switch {
	case ratio > 0.95:
		return 0.15
	case ratio > 0.90:
		return 0.25
	case ratio > 0.80:
		return 0.50
	case ratio > 0.70:
		return 0.75
	case ratio < 0.30:
		return 1.20
	default:
		return 1.0
	}
}

// IsPriority reports whether c is in the priority set.
func (c *Controller) IsPriority(cat enum.Category) bool {
	return c.cfg.Priority[cat]
}

// BaseCapacity returns the unscaled capacity for key.
func (c *Controller) BaseCapacity(key model.BufferKey) int {
	if c.IsPriority(key.Category) {
		return int(float64(c.cfg.DefaultCapacity) * priorityMultiplier)
	}
	return c.cfg.DefaultCapacity
}

// Target computes the capacity a buffer in state st should have at ratio.
func (c *Controller) Target(ratio float64, st buffer.State) int {
	target := float64(c.BaseCapacity(st.Key)) * ScaleFactor(ratio)
	if st.Capacity > 0 && st.Utilization() < idleUtilization {
		target *= idleFactor
	}
	target = math.Floor(target)
	if target < buffer.MinCapacity {
		return buffer.MinCapacity
	}
	return int(target)
}

// Recompute returns the new capacity of every key whose target differs from
// its current capacity by more than 10%.
func (c *Controller) Recompute(sample metric.Sample, states []buffer.State) map[model.BufferKey]int {
	changes := make(map[model.BufferKey]int)
	for _, st := range states {
		target := c.Target(sample.Ratio, st)
		if st.Capacity > 0 && math.Abs(float64(target-st.Capacity)) <= float64(st.Capacity)*changeTolerance {
			continue
		}
		changes[st.Key] = target
	}
	return changes
}

// Observe records the latest ratio and flips the backpressure flag when the
// ratio crosses the threshold. It returns the transition and true only on a
// flip.
func (c *Controller) Observe(ratio float64) (Transition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ratioBits.Store(math.Float64bits(ratio))
	wasActive := c.active.Load()
	nowActive := ratio >= c.cfg.BackPressureThreshold
	if wasActive == nowActive {
		return Transition{}, false
	}

	c.active.Store(nowActive)
	c.flips.Add(1)
	if nowActive {
		logs.Warnf("backpressure activated, memory ratio %.3f >= threshold %.3f", ratio, c.cfg.BackPressureThreshold)
	} else {
		logs.Infof("backpressure released, memory ratio %.3f < threshold %.3f", ratio, c.cfg.BackPressureThreshold)
	}
	return Transition{Active: nowActive, Ratio: ratio}, true
}

// Active reports whether backpressure is on.
func (c *Controller) Active() bool {
	return c.active.Load()
}

// Ratio returns the last observed memory ratio.
func (c *Controller) Ratio() float64 {
	return math.Float64frombits(c.ratioBits.Load())
}

// Flips returns how many times the backpressure flag changed.
func (c *Controller) Flips() uint64 {
	return c.flips.Load()
}

// Threshold returns the configured backpressure threshold.
func (c *Controller) Threshold() float64 {
	return c.cfg.BackPressureThreshold
}
