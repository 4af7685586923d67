package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestTTL_GetSet(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[string](5*time.Minute, WithClock(clk.Now))

	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("k", "v")
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, 5*time.Minute, c.TTL())
}

func TestTTL_Expiry(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[int](5*time.Minute, WithClock(clk.Now))
	c.Set("k", 1)

	clk.Advance(5*time.Minute - time.Nanosecond)
	_, ok := c.Get("k")
	assert.True(t, ok, "just inside TTL")

	clk.Advance(time.Nanosecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry at TTL age is absent")
	assert.Equal(t, 0, c.Len(), "expired entry evicted on read")
}

func TestTTL_SetRefreshesAge(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[int](time.Minute, WithClock(clk.Now))
	c.Set("k", 1)
	clk.Advance(50 * time.Second)
	c.Set("k", 2)
	clk.Advance(50 * time.Second)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestTTL_LRUEviction(t *testing.T) {
	t.Parallel()

	c := New[int](time.Hour, WithMaxEntries(2))
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a") // a is now most recent
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestTTL_DeletePurge(t *testing.T) {
	t.Parallel()

	c := New[int](time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	assert.Equal(t, 1, c.Len())
	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestTTL_Stats(t *testing.T) {
	t.Parallel()

	c := New[int](time.Hour, WithMaxEntries(10))
	c.Set("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	s := c.Stats()
	assert.Equal(t, 1, s.Entries)
	assert.Equal(t, 10, s.MaxEntries)
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 0.0001)
}

func TestTTL_Concurrent(t *testing.T) {
	t.Parallel()

	c := New[int](time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set("k", i)
			_, _ = c.Get("k")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}
