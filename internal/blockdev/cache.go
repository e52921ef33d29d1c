// CachingDevice decorates a Port with an LRU sector cache, adapted
// from the teacher repository's storage.Cache (container/list-based LRU
// keyed by page number). This driver never writes, so the dirty-tracking
// half of that cache (GetDirty/MarkClean) has no counterpart here;
// what remains is the read-through LRU eviction policy, keyed by LBA
// instead of by page number.
package blockdev

import (
	"container/list"
	"sync"
)

type sectorEntry struct {
	lba     uint64
	n       uint32
	data    []byte
	element *list.Element
}

// CachingDevice wraps a Port with a bounded LRU cache of recently read
// sector runs, keyed by starting LBA. A cache hit requires both the LBA
// and the sector count to match the cached entry; any other access
// falls through to the wrapped device and replaces the cached entry.
type CachingDevice struct {
	next Port

	mu       sync.Mutex
	capacity int
	items    map[uint64]*sectorEntry
	lru      *list.List
}

// NewCachingDevice wraps next with an LRU cache holding up to capacity
// distinct sector runs.
func NewCachingDevice(next Port, capacity int) *CachingDevice {
	return &CachingDevice{
		next:     next,
		capacity: capacity,
		items:    make(map[uint64]*sectorEntry),
		lru:      list.New(),
	}
}

// ReadSectors implements Port, serving from cache on a (lba, n) hit and
// populating the cache on a miss.
func (c *CachingDevice) ReadSectors(lba uint64, buf []byte, n uint32) error {
	c.mu.Lock()
	if e, ok := c.items[lba]; ok && e.n == n {
		c.lru.MoveToFront(e.element)
		copy(buf, e.data)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.next.ReadSectors(lba, buf, n); err != nil {
		return err
	}

	data := make([]byte, len(buf))
	copy(data, buf)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[lba]; ok {
		c.lru.Remove(e.element)
		delete(c.items, lba)
	}
	if c.lru.Len() >= c.capacity {
		c.evictLocked()
	}
	e := &sectorEntry{lba: lba, n: n, data: data}
	e.element = c.lru.PushFront(e)
	c.items[lba] = e
	return nil
}

func (c *CachingDevice) evictLocked() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	e := elem.Value.(*sectorEntry)
	c.lru.Remove(elem)
	delete(c.items, e.lba)
}

// Invalidate drops any cached entry for lba.
func (c *CachingDevice) Invalidate(lba uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[lba]; ok {
		c.lru.Remove(e.element)
		delete(c.items, lba)
	}
}
