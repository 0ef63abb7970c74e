// ABOUTME: TTL and size-bounded seen-set for suppressing duplicate findings.
// ABOUTME: Agents attacking the same target share one cache so a finding is recorded once.

package dedupe

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

type entry struct {
	markedAt time.Time
	elem     *list.Element
}

// Cache remembers fingerprints for a TTL. Insertion order is kept in a linked
// list so eviction at capacity is O(1).
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. Expired entries are dropped lazily on access and when
// capacity forces an eviction.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Key fingerprints parts into a fixed-size cache key. Parts are trimmed and
// lowercased so cosmetic differences between agents do not defeat the match.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strings.ToLower(strings.TrimSpace(p))))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CheckAndMark reports whether key was already seen within the TTL. A new or
// expired key is marked and false is returned.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.seen[key]; ok {
		if now.Sub(e.markedAt) < c.ttl {
			return true
		}
		c.removeLocked(key, e)
	}

	c.pruneLocked(now)
	if len(c.seen) >= c.maxSize {
		front := c.order.Front()
		if front != nil {
			k, _ := front.Value.(string)
			c.removeLocked(k, c.seen[k])
		}
	}

	c.seen[key] = &entry{markedAt: now, elem: c.order.PushBack(key)}
	return false
}

// Len returns the number of unexpired keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	return len(c.seen)
}

// pruneLocked drops expired entries from the front. Entries are marked in
// time order, so the scan stops at the first live one.
func (c *Cache) pruneLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		k, _ := front.Value.(string)
		e := c.seen[k]
		if now.Sub(e.markedAt) < c.ttl {
			return
		}
		c.removeLocked(k, e)
	}
}

func (c *Cache) removeLocked(key string, e *entry) {
	c.order.Remove(e.elem)
	delete(c.seen, key)
}
