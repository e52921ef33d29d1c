// Package inodecache implements the Inode Record Cache:
// a weak, non-owning map from inode number to an initialized inode
// record, with single-initializer-per-inode semantics so that two
// concurrent lookups of the same inode number block on one
// initialization instead of racing to build two records. Grounded on
// the teacher repository's storage.go in-memory inode map guarded by a mutex,
// generalized to dedupe concurrent misses with
// golang.org/x/sync/singleflight.
package inodecache

import (
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Record is the minimal interface the cache needs from whatever
// internal/inode stores in it. Reference counts are kept by the cache
// itself, not by the record.
type Record interface {
	// Ino returns the inode number this record was built for.
	Ino() uint32
}

// Cache is a weak inode-number-keyed cache with refcounted entries and
// single-flight initialization.
type Cache struct {
	mu      sync.Mutex
	entries map[uint32]*entry
	group   singleflight.Group
}

type entry struct {
	rec      Record
	refCount int
}

// New constructs an empty cache. hint is an advisory initial capacity,
// taken from config.InodeCacheHint.
func New(hint int) *Cache {
	return &Cache{entries: make(map[uint32]*entry, hint)}
}

// Acquire returns the cached record for ino, building it with init if
// this is the first live reference. Concurrent Acquire calls for the
// same ino that miss the cache collapse onto a single init call, but
// every caller still registers its own reference: singleflight.Do hands
// all of them the same return value without regard to how many callers
// are sharing it, so the refcount bookkeeping happens once per calling
// goroutine here, after Do returns, rather than once per fn execution.
//
// The check-build-insert sequence for a miss happens entirely inside
// the singleflight closure, not after Do returns: singleflight deletes
// its in-flight marker for key the moment fn returns, which is before
// any caller resumes past Do. If the insert into c.entries happened
// after Do instead, a second caller whose own pre-check already missed
// could call Do in the gap between the marker's deletion and the
// leader's insert, find no in-flight call, and run init a second time —
// building and then discarding a duplicate record whose Managed Memory
// backing handles and page-in goroutines would never be torn down.
// Doing the insert inside fn closes that gap: it happens-before fn
// returns, which happens-before the marker is deleted, so any caller
// that misses the outer fast path either joins the still-in-flight call
// or finds the entry already inserted.
//
// Every successful Acquire must be paired with a Release.
func (c *Cache) Acquire(ino uint32, init func() (Record, error)) (Record, error) {
	c.mu.Lock()
	if e, ok := c.entries[ino]; ok {
		e.refCount++
		c.mu.Unlock()
		return e.rec, nil
	}
	c.mu.Unlock()

	key := strconv.FormatUint(uint64(ino), 10)
	_, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.Lock()
		if _, ok := c.entries[ino]; ok {
			c.mu.Unlock()
			return nil, nil
		}
		c.mu.Unlock()

		rec, err := init()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[ino] = &entry{rec: rec}
		c.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	e := c.entries[ino]
	e.refCount++
	c.mu.Unlock()
	return e.rec, nil
}

// Release drops one reference to ino's record. When the last reference
// is released, the record is evicted from the cache; the caller is
// responsible for tearing down whatever resources the record itself
// holds (its Managed Memory backing handles) before or after this call.
func (c *Cache) Release(ino uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ino]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(c.entries, ino)
	}
}

// Lookup returns the record currently cached for ino, if any, without
// affecting its reference count.
func (c *Cache) Lookup(ino uint32) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ino]
	if !ok {
		return nil, false
	}
	return e.rec, true
}
