package chaos

import (
	"math/rand"
	"time"

	"github.com/yanun0323/errors"

	"marketstream/internal/model"
	"marketstream/pkg/exception"
)

// Config controls chaos injection behavior.
type Config struct {
	Seed          int64
	DropRate      float64
	DuplicateRate float64
	ReorderWindow int
	// MaxSkew shifts event timestamps by up to this much in either direction.
	MaxSkew time.Duration
}

// Enabled reports whether any rule would alter the stream.
func (c Config) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.ReorderWindow > 1 || c.MaxSkew > 0
}

// Engine applies chaos rules to events. It is not safe for concurrent use.
type Engine struct {
	cfg     Config
	rng     *rand.Rand
	pending []model.Event
}

// NewEngine creates a chaos engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	switch {
	case c.DropRate < 0 || c.DropRate > 1:
		return errors.Wrap(exception.ErrInvalidConfig, "chaos drop rate must be between 0 and 1")
	case c.DuplicateRate < 0 || c.DuplicateRate > 1:
		return errors.Wrap(exception.ErrInvalidConfig, "chaos duplicate rate must be between 0 and 1")
	case c.ReorderWindow <= 0:
		return errors.Wrap(exception.ErrInvalidConfig, "chaos reorder window must be >= 1")
	case c.MaxSkew < 0:
		return errors.Wrap(exception.ErrInvalidConfig, "chaos max skew must be >= 0")
	}
	return nil
}

// Process applies chaos to a single event and returns any output events.
func (e *Engine) Process(ev model.Event) []model.Event {
	if e == nil {
		return []model.Event{ev}
	}
	if e.shouldDrop() {
		return nil
	}
	ev = e.applySkew(ev)
	if e.cfg.ReorderWindow <= 1 {
		return e.applyDuplicate(ev)
	}
	e.pending = append(e.pending, ev)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	return e.applyDuplicate(e.takeRandom())
}

// Flush returns any buffered events after processing completes.
func (e *Engine) Flush() []model.Event {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	out := make([]model.Event, 0, len(e.pending))
	for len(e.pending) > 0 {
		out = append(out, e.applyDuplicate(e.takeRandom())...)
	}
	return out
}

func (e *Engine) takeRandom() model.Event {
	idx := e.rng.Intn(len(e.pending))
	ev := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return ev
}

func (e *Engine) shouldDrop() bool {
	return e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate
}

func (e *Engine) applyDuplicate(ev model.Event) []model.Event {
	out := []model.Event{ev}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		out = append(out, ev)
	}
	return out
}

func (e *Engine) applySkew(ev model.Event) model.Event {
	maxSkew := e.cfg.MaxSkew.Milliseconds()
	if maxSkew <= 0 || ev.Timestamp <= 0 {
		return ev
	}
	ev.Timestamp += e.rng.Int63n(2*maxSkew+1) - maxSkew
	if ev.Timestamp < 0 {
		ev.Timestamp = 0
	}
	return ev
}
