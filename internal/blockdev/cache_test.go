package blockdev

import "testing"

type countingDevice struct {
	reads [][2]uint64
	data  map[uint64][]byte
}

func newCountingDevice() *countingDevice {
	return &countingDevice{data: make(map[uint64][]byte)}
}

func (d *countingDevice) put(lba uint64, n uint32, b byte) {
	d.data[lba] = make([]byte, int(n)*512)
	for i := range d.data[lba] {
		d.data[lba][i] = b
	}
}

func (d *countingDevice) ReadSectors(lba uint64, buf []byte, n uint32) error {
	d.reads = append(d.reads, [2]uint64{lba, uint64(n)})
	copy(buf, d.data[lba])
	return nil
}

func TestCachingDeviceServesRepeatReadFromCache(t *testing.T) {
	back := newCountingDevice()
	back.put(10, 2, 0xAB)
	cd := NewCachingDevice(back, 4)

	buf := make([]byte, 1024)
	if err := cd.ReadSectors(10, buf, 2); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if buf[0] != 0xAB {
		t.Fatalf("unexpected data %#x", buf[0])
	}

	buf2 := make([]byte, 1024)
	if err := cd.ReadSectors(10, buf2, 2); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if len(back.reads) != 1 {
		t.Fatalf("expected 1 device read, got %d", len(back.reads))
	}
	if buf2[0] != 0xAB {
		t.Fatalf("unexpected cached data %#x", buf2[0])
	}
}

func TestCachingDeviceMissesOnDifferentSectorCount(t *testing.T) {
	back := newCountingDevice()
	back.put(10, 2, 0xAB)
	cd := NewCachingDevice(back, 4)

	buf := make([]byte, 1024)
	_ = cd.ReadSectors(10, buf, 2)

	buf2 := make([]byte, 512)
	if err := cd.ReadSectors(10, buf2, 1); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(back.reads) != 2 {
		t.Fatalf("expected 2 device reads for a sector-count mismatch, got %d", len(back.reads))
	}
}

func TestCachingDeviceEvictsLeastRecentlyUsed(t *testing.T) {
	back := newCountingDevice()
	for lba := uint64(0); lba < 3; lba++ {
		back.put(lba, 1, byte(lba))
	}
	cd := NewCachingDevice(back, 2)

	buf := make([]byte, 512)
	_ = cd.ReadSectors(0, buf, 1)
	_ = cd.ReadSectors(1, buf, 1)
	_ = cd.ReadSectors(2, buf, 1) // evicts lba 0, capacity is 2

	before := len(back.reads)
	_ = cd.ReadSectors(0, buf, 1)
	if len(back.reads) != before+1 {
		t.Fatalf("expected lba 0 to have been evicted and re-read from device")
	}
}

func TestCachingDeviceInvalidate(t *testing.T) {
	back := newCountingDevice()
	back.put(5, 1, 0x42)
	cd := NewCachingDevice(back, 4)

	buf := make([]byte, 512)
	_ = cd.ReadSectors(5, buf, 1)
	cd.Invalidate(5)

	before := len(back.reads)
	_ = cd.ReadSectors(5, buf, 1)
	if len(back.reads) != before+1 {
		t.Fatalf("expected invalidated entry to force a device read")
	}
}
