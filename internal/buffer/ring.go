package buffer

import "marketstream/internal/model"

// MinCapacity is the absolute floor for any buffer or cache capacity.
const MinCapacity = 10

// Ring is a bounded, insertion-ordered event buffer backed by a fixed array.
// When full, a push overwrites the oldest element. Ring is not safe for
// concurrent use; Store serializes access per key.
type Ring struct {
	items    []model.Event
	head     int // index of the oldest element
	size     int
	inserted uint64
}

// NewRing allocates a ring with the given capacity, clamped to MinCapacity.
func NewRing(capacity int) *Ring {
	return &Ring{items: make([]model.Event, clampCapacity(capacity))}
}

func clampCapacity(capacity int) int {
	if capacity < MinCapacity {
		return MinCapacity
	}
	return capacity
}

func (r *Ring) Len() int { return r.size }

func (r *Ring) Cap() int { return len(r.items) }

// Inserted returns the number of pushes since creation.
func (r *Ring) Inserted() uint64 { return r.inserted }

// Push appends e at the tail and returns the number of evicted elements.
func (r *Ring) Push(e model.Event) int {
	r.inserted++
	capacity := len(r.items)
	if r.size < capacity {
		r.items[(r.head+r.size)%capacity] = e
		r.size++
		return 0
	}
	r.items[r.head] = e
	r.head = (r.head + 1) % capacity
	return 1
}

// Latest returns up to count of the newest events, oldest first.
func (r *Ring) Latest(count int) []model.Event {
	if count <= 0 || r.size == 0 {
		return nil
	}
	if count > r.size {
		count = r.size
	}
	out := make([]model.Event, count)
	capacity := len(r.items)
	start := (r.head + r.size - count) % capacity
	n := copy(out, r.items[start:min(start+count, capacity)])
	if n < count {
		copy(out[n:], r.items[:count-n])
	}
	return out
}

// Newest returns the most recent event.
func (r *Ring) Newest() (model.Event, bool) {
	if r.size == 0 {
		return model.Event{}, false
	}
	return r.items[(r.head+r.size-1)%len(r.items)], true
}

// Resize changes the capacity, keeping the newest elements. It returns the
// number of elements dropped from the head.
func (r *Ring) Resize(capacity int) int {
	capacity = clampCapacity(capacity)
	if capacity == len(r.items) {
		return 0
	}
	keep := min(r.size, capacity)
	dropped := r.size - keep
	items := make([]model.Event, capacity)
	copy(items, r.Latest(keep))
	r.items = items
	r.head = 0
	r.size = keep
	return dropped
}

// Clear drops all elements but keeps the capacity.
func (r *Ring) Clear() {
	clear(r.items)
	r.head = 0
	r.size = 0
}
