package buffer

import (
	"container/list"
	"time"

	"marketstream/internal/model"
)

type cacheEntry struct {
	ts       int64
	event    model.Event
	expireAt time.Time
}

// Cache maps event timestamps to events with a TTL and an entry bound.
// Reads refresh recency, never expiry. Expired entries are misses even when
// they have not been purged yet. Cache is not safe for concurrent use.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	order   *list.List // front is the most recently used
	entries map[int64]*list.Element
}

// NewCache creates a cache. A nil clock defaults to time.Now.
func NewCache(maxEntries int, ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: clampCapacity(maxEntries),
		now:        now,
		order:      list.New(),
		entries:    make(map[int64]*list.Element),
	}
}

func (c *Cache) Len() int { return len(c.entries) }

func (c *Cache) Cap() int { return c.maxEntries }

// Set stores e under its timestamp and returns the number of evicted entries.
func (c *Cache) Set(e model.Event) int {
	expireAt := c.now().Add(c.ttl)
	if el, ok := c.entries[e.Timestamp]; ok {
		entry := el.Value.(*cacheEntry)
		entry.event = e
		entry.expireAt = expireAt
		c.order.MoveToFront(el)
		return 0
	}
	c.entries[e.Timestamp] = c.order.PushFront(&cacheEntry{ts: e.Timestamp, event: e, expireAt: expireAt})
	return c.evict(c.maxEntries)
}

// Get returns the event stored under ts if it has not expired.
func (c *Cache) Get(ts int64) (model.Event, bool) {
	el, ok := c.entries[ts]
	if !ok {
		return model.Event{}, false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().After(entry.expireAt) {
		return model.Event{}, false
	}
	c.order.MoveToFront(el)
	return entry.event, true
}

// Resize changes the entry bound and evicts the least recently used overflow.
func (c *Cache) Resize(maxEntries int) int {
	c.maxEntries = clampCapacity(maxEntries)
	return c.evict(c.maxEntries)
}

// Sweep purges expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*cacheEntry)
		if now.After(entry.expireAt) {
			c.order.Remove(el)
			delete(c.entries, entry.ts)
			removed++
		}
		el = prev
	}
	return removed
}

func (c *Cache) Clear() {
	c.order.Init()
	clear(c.entries)
}

func (c *Cache) evict(bound int) int {
	evicted := 0
	for len(c.entries) > bound {
		el := c.order.Back()
		c.order.Remove(el)
		delete(c.entries, el.Value.(*cacheEntry).ts)
		evicted++
	}
	return evicted
}
