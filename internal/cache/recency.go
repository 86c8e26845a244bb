// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package cache

import (
	"sync"
	"time"
)

type recencyEntry struct {
	key       string
	expiresAt time.Time
	prev      *recencyEntry
	next      *recencyEntry
}

// RecencyCache remembers keys for a fixed window with LRU eviction at capacity.
// All operations are O(1) per key and safe for concurrent use.
type RecencyCache struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	now      func() time.Time

	items map[string]*recencyEntry
	// head.next is the most recently marked entry, tail.prev the least.
	head *recencyEntry
	tail *recencyEntry

	hits   int64
	misses int64
}

// NewRecencyCache creates a cache holding at most capacity keys for window.
func NewRecencyCache(capacity int, window time.Duration) *RecencyCache {
	if capacity <= 0 {
		capacity = 10000
	}
	if window <= 0 {
		window = time.Hour
	}
	c := &RecencyCache{
		capacity: capacity,
		window:   window,
		now:      time.Now,
		items:    make(map[string]*recencyEntry, capacity),
		head:     &recencyEntry{},
		tail:     &recencyEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// WithClock replaces the time source. Used by tests.
func (c *RecencyCache) WithClock(now func() time.Time) *RecencyCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Seen reports whether key was marked within the window. It does not refresh the entry.
func (c *RecencyCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seenLocked(key, c.now())
}

// SeenMany answers Seen for every key under a single lock acquisition.
func (c *RecencyCache) SeenMany(keys []string) []bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]bool, len(keys))
	for i, key := range keys {
		out[i] = c.seenLocked(key, now)
	}
	return out
}

// Mark records key as seen now, refreshing its window and recency.
func (c *RecencyCache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.items[key]; ok {
		entry.expiresAt = now.Add(c.window)
		c.moveToFront(entry)
		return
	}

	entry := &recencyEntry{key: key, expiresAt: now.Add(c.window)}
	c.addToFront(entry)
	c.items[key] = entry
	for len(c.items) > c.capacity {
		c.removeEntry(c.tail.prev)
	}
}

// Len returns the number of entries, including expired ones not yet collected.
func (c *RecencyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// CleanupExpired drops expired entries and returns how many were removed.
func (c *RecencyCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for entry := c.tail.prev; entry != c.head; {
		prev := entry.prev
		if now.After(entry.expiresAt) {
			c.removeEntry(entry)
			removed++
		}
		entry = prev
	}
	return removed
}

// Stats returns hit and miss counts of Seen/SeenMany and the current size.
func (c *RecencyCache) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.items)
}

// seenLocked must be called with mu held. Expired entries are removed lazily.
func (c *RecencyCache) seenLocked(key string, now time.Time) bool {
	entry, ok := c.items[key]
	if !ok {
		c.misses++
		return false
	}
	if now.After(entry.expiresAt) {
		c.removeEntry(entry)
		c.misses++
		return false
	}
	c.hits++
	return true
}

func (c *RecencyCache) addToFront(entry *recencyEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *RecencyCache) moveToFront(entry *recencyEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.addToFront(entry)
}

func (c *RecencyCache) removeEntry(entry *recencyEntry) {
	if entry == c.head || entry == c.tail {
		return
	}
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.key)
}
