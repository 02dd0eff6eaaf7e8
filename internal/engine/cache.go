package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/vista/internal/program"
)

// ProgramCache keeps decoded programs in memory with LRU eviction. Entries
// are keyed by artifact path and are only valid for the artifact
// modification time they were loaded at.
type ProgramCache struct {
	entries    map[string]*cacheEntry
	mutex      sync.Mutex
	maxEntries int
	// LRU implementation
	head *cacheEntry
	tail *cacheEntry
	// Statistics tracking
	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry struct {
	key     string
	prog    *program.Program
	modTime time.Time
	// LRU doubly-linked list pointers
	prev *cacheEntry
	next *cacheEntry
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries    int
	MaxEntries int
	Hits       int64
	Misses     int64
	Evictions  int64
}

// HitRate returns hits over lookups, or 0 before the first lookup.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// NewProgramCache creates a cache holding at most maxEntries programs. A
// non-positive size disables caching.
func NewProgramCache(maxEntries int) *ProgramCache {
	c := &ProgramCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
	}

	// Initialize LRU doubly-linked list with dummy head and tail
	c.head = &cacheEntry{}
	c.tail = &cacheEntry{}
	c.head.next = c.tail
	c.tail.prev = c.head

	return c
}

// Get returns the program stored for key if it was loaded from an artifact
// with the given modification time. A mismatching entry is dropped.
func (c *ProgramCache) Get(key string, modTime time.Time) (*program.Program, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	if !entry.modTime.Equal(modTime) {
		c.remove(entry)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	c.moveToFront(entry)
	atomic.AddInt64(&c.hits, 1)
	return entry.prog, true
}

// Set stores prog for key.
func (c *ProgramCache) Set(key string, modTime time.Time, prog *program.Program) {
	if c.maxEntries <= 0 {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if existing, exists := c.entries[key]; exists {
		existing.prog = prog
		existing.modTime = modTime
		c.moveToFront(existing)
		return
	}

	for len(c.entries) >= c.maxEntries && c.tail.prev != c.head {
		c.remove(c.tail.prev)
		atomic.AddInt64(&c.evictions, 1)
	}

	entry := &cacheEntry{key: key, prog: prog, modTime: modTime}
	c.entries[key] = entry
	c.addToFront(entry)
}

// Invalidate drops key from the cache.
func (c *ProgramCache) Invalidate(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if entry, exists := c.entries[key]; exists {
		c.remove(entry)
	}
}

// Clear drops every entry. Counters are kept.
func (c *ProgramCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Stats returns a snapshot of the cache counters.
func (c *ProgramCache) Stats() CacheStats {
	c.mutex.Lock()
	n := len(c.entries)
	c.mutex.Unlock()

	return CacheStats{
		Entries:    n,
		MaxEntries: c.maxEntries,
		Hits:       atomic.LoadInt64(&c.hits),
		Misses:     atomic.LoadInt64(&c.misses),
		Evictions:  atomic.LoadInt64(&c.evictions),
	}
}

// LRU doubly-linked list operations
func (c *ProgramCache) addToFront(entry *cacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *ProgramCache) unlink(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (c *ProgramCache) moveToFront(entry *cacheEntry) {
	c.unlink(entry)
	c.addToFront(entry)
}

func (c *ProgramCache) remove(entry *cacheEntry) {
	c.unlink(entry)
	delete(c.entries, entry.key)
}
