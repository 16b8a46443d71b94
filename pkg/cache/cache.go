// Package cache implements the per-connection response cache: a
// bounded, insertion-ordered map from register id to its last-read
// datagram, suppressing redundant reads within a TTL window.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/librescoot/inverter-link/pkg/protocol"
)

// Entry is one cached register value.
type Entry struct {
	Value      protocol.Datagram
	InsertedAt time.Time
}

type record struct {
	id    uint32
	entry Entry
	elem  *list.Element
}

// Cache is a TTL-bounded, insertion-ordered map keyed by register id.
// It is owned by a single Connection and discarded with it; a Cache is
// safe for concurrent use, but the design only requires it because the
// owning connection's single-threaded model still allows close() to
// race a final reader-loop delivery during teardown.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxSize  int
	order    *list.List // front = oldest insertion
	byID     map[uint32]*record
	now      func() time.Time
}

// New creates a Cache with the given TTL and maximum entry count.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		ttl:     ttl,
		maxSize: maxSize,
		order:   list.New(),
		byID:    make(map[uint32]*record),
		now:     time.Now,
	}
}

// Get returns the cached datagram for id and whether it is still
// fresh. A present-but-expired entry is evicted as a side effect, so
// that immediately after Get returns, every remaining entry satisfies
// now-insertedAt <= ttl.
func (c *Cache) Get(id uint32) (protocol.Datagram, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.byID[id]
	if !ok {
		return protocol.Datagram{}, false
	}
	if c.now().Sub(rec.entry.InsertedAt) > c.ttl {
		c.removeLocked(rec)
		return protocol.Datagram{}, false
	}
	return rec.entry.Value, true
}

// Put inserts or overwrites the entry for id. Entries are replaced, not
// mutated: a Put for an id that already exists discards the previous
// entry and its position in the insertion order.
func (c *Cache) Put(id uint32, dg protocol.Datagram) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byID[id]; ok {
		c.removeLocked(existing)
	}

	if len(c.byID) >= c.maxSize {
		c.evictExpiredLocked()
	}
	for len(c.byID) >= c.maxSize {
		c.evictOldestLocked()
	}

	elem := c.order.PushBack(id)
	rec := &record{id: id, entry: Entry{Value: dg, InsertedAt: c.now()}, elem: elem}
	c.byID[id] = rec
}

// Cleanup sweeps expired entries opportunistically. It is safe to call
// on any schedule, including never.
func (c *Cache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpiredLocked()
}

// Len returns the current number of entries, including any not yet
// swept for expiry.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

func (c *Cache) evictExpiredLocked() {
	now := c.now()
	var next *list.Element
	for e := c.order.Front(); e != nil; e = next {
		next = e.Next()
		id := e.Value.(uint32)
		rec, ok := c.byID[id]
		if !ok {
			c.order.Remove(e)
			continue
		}
		if now.Sub(rec.entry.InsertedAt) > c.ttl {
			c.removeLocked(rec)
		}
	}
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id := front.Value.(uint32)
	if rec, ok := c.byID[id]; ok {
		c.removeLocked(rec)
		return
	}
	c.order.Remove(front)
}

func (c *Cache) removeLocked(rec *record) {
	c.order.Remove(rec.elem)
	delete(c.byID, rec.id)
}
