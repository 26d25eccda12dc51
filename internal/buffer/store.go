package buffer

import (
	"sort"
	"sync"
	"time"

	"marketstream/internal/model"
)

// StoreOption configures a Store.
type StoreOption struct {
	// DefaultCapacity is used for keys created lazily.
	DefaultCapacity int
	// CapacityFor overrides the initial capacity of a new key.
	CapacityFor func(model.BufferKey) int
	EnableCache bool
	CacheTTL    time.Duration
	Now         func() time.Time
}

// State is a point-in-time view of one key's buffer.
type State struct {
	Key      model.BufferKey
	Len      int
	Capacity int
	Inserted uint64
}

// Utilization returns len/capacity.
func (s State) Utilization() float64 {
	if s.Capacity <= 0 {
		return 0
	}
	return float64(s.Len) / float64(s.Capacity)
}

type slot struct {
	mu    sync.Mutex
	ring  *Ring
	cache *Cache
}

// Store owns one ring buffer and an optional eviction cache per key. Mutation
// of a key is serialized by that key's lock; the map itself is guarded by a
// read-write lock that is only write-locked when keys are added or removed.
type Store struct {
	opt StoreOption

	mu    sync.RWMutex
	slots map[model.BufferKey]*slot
}

// NewStore creates an empty store.
func NewStore(opt StoreOption) *Store {
	if opt.DefaultCapacity <= 0 {
		opt.DefaultCapacity = 1000
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Store{
		opt:   opt,
		slots: make(map[model.BufferKey]*slot),
	}
}

func (s *Store) get(key model.BufferKey) *slot {
	s.mu.RLock()
	sl := s.slots[key]
	s.mu.RUnlock()
	return sl
}

func (s *Store) getOrCreate(key model.BufferKey) *slot {
	if sl := s.get(key); sl != nil {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl := s.slots[key]; sl != nil {
		return sl
	}

	capacity := s.opt.DefaultCapacity
	if s.opt.CapacityFor != nil {
		capacity = s.opt.CapacityFor(key)
	}
	sl := &slot{ring: NewRing(capacity)}
	if s.opt.EnableCache {
		sl.cache = NewCache(capacity, s.opt.CacheTTL, s.opt.Now)
	}
	s.slots[key] = sl
	return sl
}

// Ensure creates the buffer for key if it does not exist.
func (s *Store) Ensure(key model.BufferKey) {
	s.getOrCreate(key)
}

// Insert appends e to its key's buffer, creating it on first use, and returns
// the number of events evicted from the ring.
func (s *Store) Insert(e model.Event) int {
	sl := s.getOrCreate(e.Key())
	sl.mu.Lock()
	evicted := sl.ring.Push(e)
	if sl.cache != nil {
		sl.cache.Set(e)
	}
	sl.mu.Unlock()
	return evicted
}

// Latest returns up to count newest events of key, oldest first.
func (s *Store) Latest(key model.BufferKey, count int) []model.Event {
	sl := s.get(key)
	if sl == nil {
		return nil
	}
	sl.mu.Lock()
	out := sl.ring.Latest(count)
	sl.mu.Unlock()
	return out
}

// Newest returns the newest event of key.
func (s *Store) Newest(key model.BufferKey) (model.Event, bool) {
	sl := s.get(key)
	if sl == nil {
		return model.Event{}, false
	}
	sl.mu.Lock()
	e, ok := sl.ring.Newest()
	sl.mu.Unlock()
	return e, ok
}

// Lookup reads the eviction cache for the event stored at ts.
func (s *Store) Lookup(key model.BufferKey, ts int64) (model.Event, bool) {
	sl := s.get(key)
	if sl == nil || sl.cache == nil {
		return model.Event{}, false
	}
	sl.mu.Lock()
	e, ok := sl.cache.Get(ts)
	sl.mu.Unlock()
	return e, ok
}

// Capacity returns the current capacity of key, or 0 if unknown.
func (s *Store) Capacity(key model.BufferKey) int {
	sl := s.get(key)
	if sl == nil {
		return 0
	}
	sl.mu.Lock()
	c := sl.ring.Cap()
	sl.mu.Unlock()
	return c
}

// SetCapacity resizes key's ring and cache immediately, truncating from the
// head when shrinking. Capacities below MinCapacity are clamped. It returns
// false when the key does not exist.
func (s *Store) SetCapacity(key model.BufferKey, capacity int) bool {
	sl := s.get(key)
	if sl == nil {
		return false
	}
	sl.mu.Lock()
	sl.ring.Resize(capacity)
	if sl.cache != nil {
		sl.cache.Resize(capacity)
	}
	sl.mu.Unlock()
	return true
}

// Clear empties key's ring and cache, keeping the key registered.
func (s *Store) Clear(key model.BufferKey) {
	sl := s.get(key)
	if sl == nil {
		return
	}
	sl.mu.Lock()
	sl.ring.Clear()
	if sl.cache != nil {
		sl.cache.Clear()
	}
	sl.mu.Unlock()
}

// RemoveSymbol destroys every buffer of symbol and returns the removed keys.
func (s *Store) RemoveSymbol(symbol string) []model.BufferKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []model.BufferKey
	for key := range s.slots {
		if key.Symbol == symbol {
			delete(s.slots, key)
			removed = append(removed, key)
		}
	}
	return removed
}

// Sweep purges expired cache entries across all keys.
func (s *Store) Sweep() int {
	removed := 0
	for _, sl := range s.snapshot() {
		if sl.cache == nil {
			continue
		}
		sl.mu.Lock()
		removed += sl.cache.Sweep()
		sl.mu.Unlock()
	}
	return removed
}

// Count returns the number of registered keys.
func (s *Store) Count() int {
	s.mu.RLock()
	n := len(s.slots)
	s.mu.RUnlock()
	return n
}

// States returns the state of every key, sorted by key.
func (s *Store) States() []State {
	s.mu.RLock()
	states := make([]State, 0, len(s.slots))
	slots := make([]*slot, 0, len(s.slots))
	for key, sl := range s.slots {
		states = append(states, State{Key: key})
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	for i, sl := range slots {
		sl.mu.Lock()
		states[i].Len = sl.ring.Len()
		states[i].Capacity = sl.ring.Cap()
		states[i].Inserted = sl.ring.Inserted()
		sl.mu.Unlock()
	}

	sort.Slice(states, func(i, j int) bool {
		if states[i].Key.Symbol != states[j].Key.Symbol {
			return states[i].Key.Symbol < states[j].Key.Symbol
		}
		return states[i].Key.Category < states[j].Key.Category
	})
	return states
}

func (s *Store) snapshot() []*slot {
	s.mu.RLock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()
	return slots
}
