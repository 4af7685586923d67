package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxEntries bounds caches built without an explicit capacity.
const DefaultMaxEntries = 256

// Clock returns the current time. Tests inject a fixed or stepping clock.
type Clock func() time.Time

// TTL is a concurrent-safe LRU cache whose entries expire a fixed duration
// after they were stored. An expired entry is never returned.
type TTL[V any] struct {
	mu         sync.Mutex
	entries    map[string]*entry[V]
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	now        Clock
	hits       atomic.Int64
	misses     atomic.Int64
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// Option configures a TTL cache.
type Option func(*options)

type options struct {
	maxEntries int
	now        Clock
}

// WithClock overrides the time source.
func WithClock(now Clock) Option {
	return func(o *options) { o.now = now }
}

// WithMaxEntries sets the LRU capacity.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// New creates a TTL cache.
func New[V any](ttl time.Duration, opts ...Option) *TTL[V] {
	o := options{maxEntries: DefaultMaxEntries, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if o.maxEntries <= 0 {
		o.maxEntries = DefaultMaxEntries
	}
	return &TTL[V]{
		entries:    make(map[string]*entry[V]),
		maxEntries: o.maxEntries,
		ttl:        ttl,
		now:        o.now,
	}
}

// TTL returns the configured freshness window.
func (c *TTL[V]) TTL() time.Duration { return c.ttl }

// Get returns the value for key if present and younger than the TTL.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return zero, false
	}

	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry when
// at capacity.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.removeFromOrder(key)
	} else {
		for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
	c.entries[key] = &entry[V]{value: value, storedAt: c.now()}
	c.order = append(c.order, key)
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	c.removeFromOrder(key)
}

// Purge removes every entry.
func (c *TTL[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry[V])
	c.order = nil
}

// Len returns the number of stored entries, including expired ones not yet
// evicted by a read.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache performance statistics.
func (c *TTL[V]) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func (c *TTL[V]) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
