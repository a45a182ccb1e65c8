package waku

import (
	"container/list"
	"sync"
	"time"
)

// fastIDCache maps the fallback hash of a message's raw bytes to its real,
// post-decode RFC 14 message id, so Subscription.Next can recognize a
// duplicate delivery before paying for envelope decode plus the full
// deterministic hash computation on every message. Entries expire after ttl.
//
// Grounded on the same sliding-window eviction shape as
// github.com/whyrusleeping/timecache (a FIFO queue of timestamped entries
// walked from the front), generalized to store a value alongside the key
// since the real id, not just presence, is what callers need back.
type fastIDCache struct {
	mu  sync.Mutex
	ttl time.Duration

	entries map[string]*list.Element
	order   *list.List // front = oldest
}

type fastIDEntry struct {
	fastID  string
	realID  string
	expires time.Time
}

func newFastIDCache(ttl time.Duration) *fastIDCache {
	return &fastIDCache{
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Put records that fastID maps to realID, evicting expired entries first.
func (c *fastIDCache) Put(fastID, realID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked()

	if el, ok := c.entries[fastID]; ok {
		c.order.Remove(el)
	}

	entry := &fastIDEntry{fastID: fastID, realID: realID, expires: time.Now().Add(c.ttl)}
	c.entries[fastID] = c.order.PushBack(entry)
}

// Get looks up the real id for a fast id, if present and not expired.
func (c *fastIDCache) Get(fastID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked()

	el, ok := c.entries[fastID]
	if !ok {
		return "", false
	}
	return el.Value.(*fastIDEntry).realID, true
}

func (c *fastIDCache) evictLocked() {
	now := time.Now()
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(*fastIDEntry)
		if now.Before(entry.expires) {
			return
		}
		c.order.Remove(front)
		delete(c.entries, entry.fastID)
	}
}
