// ABOUTME: Tests for the finding dedupe cache.
// ABOUTME: Validates TTL expiry, capacity eviction, key normalization, and concurrency.

package dedupe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(ttl time.Duration, size int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, size)
	c.now = clock.now
	return c, clock
}

func TestCache_CheckAndMark(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)

	assert.False(t, c.CheckAndMark("a"), "first sighting is new")
	assert.True(t, c.CheckAndMark("a"), "second sighting is a duplicate")
	assert.False(t, c.CheckAndMark("b"))
	assert.Equal(t, 2, c.Len())
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)

	c.CheckAndMark("a")
	clock.advance(59 * time.Second)
	assert.True(t, c.CheckAndMark("a"))

	clock.advance(2 * time.Second)
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.CheckAndMark("a"), "expired key is new again")
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c, clock := newTestCache(time.Hour, 2)

	c.CheckAndMark("a")
	clock.advance(time.Second)
	c.CheckAndMark("b")
	clock.advance(time.Second)
	c.CheckAndMark("c")

	assert.Equal(t, 2, c.Len())
	assert.False(t, c.CheckAndMark("a"), "oldest was evicted")
}

func TestKey_Normalizes(t *testing.T) {
	assert.Equal(t, Key("example.test", "SQL injection at /login"), Key(" Example.test", "sql injection at /login "))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"), "parts are separated")
	assert.Len(t, Key("x"), 64)
}

func TestCache_ConcurrentSingleWinner(t *testing.T) {
	c := New(time.Minute, 100)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		fresh int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("finding") {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
}
