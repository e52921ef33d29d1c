// Package blockdev defines the Block Device Port: the one
// external collaborator this driver consumes to read 512-byte sectors.
// FileDevice is a local adapter over an *os.File, grounded on an
// existing os.File-backed storage layer's ReadAt/WriteAt sector
// math, used by the CLI and by tests in place of the real microkernel
// block device.
package blockdev

import (
	"fmt"
	"os"

	"github.com/kestrel-os/ext2fsd/internal/disklayout"
	"github.com/kestrel-os/ext2fsd/internal/ext2err"
)

// Port is the Block Device Port external collaborator: read n sectors
// starting at lba into buf, returning only when the transfer completes.
// len(buf) must be n*disklayout.SectorSize.
type Port interface {
	ReadSectors(lba uint64, buf []byte, n uint32) error
}

// FileDevice serves sectors out of a regular file, treating it as a
// raw block device image.
type FileDevice struct {
	f *os.File
}

// Open opens path as a block device image.
func Open(path string) (*FileDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open device: %v", ext2err.ErrIoFailed, err)
	}
	return &FileDevice{f: f}, nil
}

// Close releases the underlying file.
func (d *FileDevice) Close() error {
	return d.f.Close()
}

// ReadSectors implements Port.
func (d *FileDevice) ReadSectors(lba uint64, buf []byte, n uint32) error {
	want := int(n) * disklayout.SectorSize
	if len(buf) < want {
		return fmt.Errorf("%w: buffer too small for %d sectors", ext2err.ErrIoFailed, n)
	}
	off := int64(lba) * disklayout.SectorSize
	if _, err := d.f.ReadAt(buf[:want], off); err != nil {
		return fmt.Errorf("%w: read %d sectors at lba %d: %v", ext2err.ErrIoFailed, n, lba, err)
	}
	return nil
}
