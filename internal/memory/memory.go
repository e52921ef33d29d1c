// Package memory implements the Managed Memory Objects external
// collaborator: a backing/frontal pair over one byte range. The
// frontal half is what the inode, block mapper, and
// directory reader map and read; the backing half is what a page-in
// handler (internal/pagein) drains for manage events and completes.
//
// There is no real kernel here, so "lock" and "page fault" are
// simulated with a per-page residency bitmap guarded by a
// sync.Cond, and "manage request" is a buffered channel the backing
// half's single reader drains — the same notifyChan/quit-channel shape
// a per-connection client handler elsewhere in this codebase's lineage
// once used, here generalized from one fixed channel to a
// page-addressed object.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by AwaitManage once the backing handle has
// been closed: the inode record was reclaimed, terminating the
// handler's wait.
var ErrClosed = errors.New("memory: backing handle closed")

// ErrDoubleComplete means CompleteLoad was called for a range with no
// outstanding manage request — a driver bug, not a recoverable
// condition; idempotence of complete-load is an invariant, not
// something callers negotiate at runtime.
var ErrDoubleComplete = errors.New("memory: complete-load with no outstanding request")

// Event is a single manage-memory request: populate [Offset, Offset+Length).
type Event struct {
	Offset int64
	Length int64
}

type core struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pageSize int64
	size     int64
	buf      []byte
	resident []bool
	pending  []bool
	manageCh chan Event
	closed   bool
}

func newCore(size, pageSize int64) *core {
	pages := int((size + pageSize - 1) / pageSize)
	c := &core{
		pageSize: pageSize,
		size:     size,
		buf:      make([]byte, pages*int(pageSize)),
		resident: make([]bool, pages),
		pending:  make([]bool, pages),
		manageCh: make(chan Event, pages),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *core) pageOf(off int64) int { return int(off / c.pageSize) }

// Frontal is the client-facing half of a Managed Memory pair.
type Frontal struct{ c *core }

// Backing is the owner-facing half of a Managed Memory pair.
type Backing struct{ c *core }

// NewPair creates a Managed Memory pair sized to size bytes, rounded up
// to a whole number of pages.
func NewPair(size, pageSize int64) (*Frontal, *Backing) {
	c := newCore(size, pageSize)
	return &Frontal{c: c}, &Backing{c: c}
}

// Lock pins [offset, offset+length) and suspends the caller until every
// page in the range is resident, requesting page-in for any page that
// is neither resident nor already requested.
func (f *Frontal) Lock(ctx context.Context, offset, length int64) error {
	if length <= 0 {
		return nil
	}
	c := f.c
	c.mu.Lock()
	first := c.pageOf(offset)
	last := c.pageOf(offset + length - 1)
	for p := first; p <= last; p++ {
		if !c.resident[p] && !c.pending[p] {
			c.pending[p] = true
			ev := Event{Offset: int64(p) * c.pageSize, Length: c.pageSize}
			select {
			case c.manageCh <- ev:
			default:
				// manageCh is sized to the page count, so this never
				// blocks in practice; fall back to a blocking send
				// outside the lock if it ever would.
				c.mu.Unlock()
				c.manageCh <- ev
				c.mu.Lock()
			}
		}
	}
	for {
		allResident := true
		for p := first; p <= last; p++ {
			if !c.resident[p] {
				allResident = false
				break
			}
		}
		if allResident {
			c.mu.Unlock()
			return nil
		}
		if err := ctx.Err(); err != nil {
			c.mu.Unlock()
			return err
		}
		c.cond.Wait()
	}
}

// Map returns a read/write window onto [offset, offset+length). The
// caller must have Locked the range first.
func (f *Frontal) Map(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(f.c.buf)) {
		return nil, fmt.Errorf("memory: map out of range")
	}
	return f.c.buf[offset : offset+length], nil
}

// Unmap releases a window obtained from Map. There is no real virtual
// memory to unmap in this model; kept as a no-op for symmetry with the
// lock/map/unmap/await/complete-load vocabulary call sites use.
func (f *Frontal) Unmap(window []byte) {}

// AwaitManage blocks until the kernel (here, a Lock call) delivers a
// manage-memory event, or the backing handle is closed.
func (b *Backing) AwaitManage(ctx context.Context) (Event, error) {
	c := b.c
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return Event{}, ErrClosed
	}
	select {
	case ev, ok := <-c.manageCh:
		if !ok {
			return Event{}, ErrClosed
		}
		return ev, nil
	case <-ctx.Done():
		c.mu.Lock()
		closed = c.closed
		c.mu.Unlock()
		if closed {
			return Event{}, ErrClosed
		}
		return Event{}, ctx.Err()
	}
}

// CompleteLoad marks [offset, offset+length) resident, waking any
// Lock waiters whose range is now fully satisfied.
func (b *Backing) CompleteLoad(offset, length int64) error {
	c := b.c
	c.mu.Lock()
	defer c.mu.Unlock()
	first := c.pageOf(offset)
	last := c.pageOf(offset + length - 1)
	for p := first; p <= last; p++ {
		if !c.pending[p] {
			return ErrDoubleComplete
		}
		c.pending[p] = false
		c.resident[p] = true
	}
	c.cond.Broadcast()
	return nil
}

// Map gives the backing half the same raw window access the frontal
// half has, so a page-in handler can populate the pages it was asked
// to fill.
func (b *Backing) Map(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(b.c.buf)) {
		return nil, fmt.Errorf("memory: map out of range")
	}
	return b.c.buf[offset : offset+length], nil
}

// Close terminates the backing handle: pending and future AwaitManage
// calls return ErrClosed. Reclaiming an inode record closes its three
// backing handles, which is how their page-in handlers are told to
// stop.
func (b *Backing) Close() {
	c := b.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.manageCh)
}
