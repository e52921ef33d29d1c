package inodecache

import (
	"sync"
	"sync/atomic"
	"testing"
)

type fakeRecord struct{ ino uint32 }

func (r *fakeRecord) Ino() uint32 { return r.ino }

func TestAcquireBuildsOnce(t *testing.T) {
	c := New(8)
	var builds int32

	rec, err := c.Acquire(2, func() (Record, error) {
		atomic.AddInt32(&builds, 1)
		return &fakeRecord{ino: 2}, nil
	})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if rec.Ino() != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	rec2, err := c.Acquire(2, func() (Record, error) {
		atomic.AddInt32(&builds, 1)
		return &fakeRecord{ino: 2}, nil
	})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if rec2 != rec {
		t.Fatalf("expected the same cached record instance")
	}
	if builds != 1 {
		t.Fatalf("expected exactly one init call, got %d", builds)
	}
}

func TestConcurrentAcquireCollapses(t *testing.T) {
	c := New(8)
	var builds int32
	const n = 32

	var wg sync.WaitGroup
	results := make([]Record, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := c.Acquire(7, func() (Record, error) {
				atomic.AddInt32(&builds, 1)
				return &fakeRecord{ino: 7}, nil
			})
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			results[i] = rec
		}(i)
	}
	wg.Wait()

	if builds != 1 {
		t.Fatalf("expected exactly one init call across %d concurrent Acquires, got %d", n, builds)
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("expected all concurrent Acquires to observe the same record")
		}
	}

	// Every one of the n concurrent Acquires registered its own
	// reference even though they collapsed onto a single init call, so
	// releasing n-1 of them must leave the record cached and only the
	// nth Release evicts it.
	for i := 0; i < n-1; i++ {
		c.Release(7)
		if _, ok := c.Lookup(7); !ok {
			t.Fatalf("record evicted after only %d of %d releases", i+1, n)
		}
	}
	c.Release(7)
	if _, ok := c.Lookup(7); ok {
		t.Fatal("expected record to be evicted after releasing all n references")
	}
}

func TestReleaseEvictsAtZeroRefs(t *testing.T) {
	c := New(8)
	if _, err := c.Acquire(3, func() (Record, error) { return &fakeRecord{ino: 3}, nil }); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, ok := c.Lookup(3); !ok {
		t.Fatal("expected record to be cached after Acquire")
	}

	c.Release(3)
	if _, ok := c.Lookup(3); ok {
		t.Fatal("expected record to be evicted after matching Release")
	}
}

func TestReleaseRespectsRefCount(t *testing.T) {
	c := New(8)
	build := func() (Record, error) { return &fakeRecord{ino: 5}, nil }
	if _, err := c.Acquire(5, build); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := c.Acquire(5, build); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	c.Release(5)
	if _, ok := c.Lookup(5); !ok {
		t.Fatal("expected record to survive one Release out of two Acquires")
	}
	c.Release(5)
	if _, ok := c.Lookup(5); ok {
		t.Fatal("expected record to be evicted after the second Release")
	}
}
