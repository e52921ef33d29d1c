// Package inode implements the Inode Record and its Initializer:
// reading one on-disk inode, classifying its type, and building the
// three Managed Memory pairs a page-in handler set will later be armed
// against. Grounded on the teacher repository's loadInodes/readInodeFromDisk
// sequence in storage.go, generalized from a single flat byte array
// into the group/index arithmetic and multi-level indirect caches a
// classic ext2 layout uses.
package inode

import (
	"fmt"
	"sync"

	"github.com/kestrel-os/ext2fsd/internal/blockdev"
	"github.com/kestrel-os/ext2fsd/internal/disklayout"
	"github.com/kestrel-os/ext2fsd/internal/ext2err"
	"github.com/kestrel-os/ext2fsd/internal/logger"
	"github.com/kestrel-os/ext2fsd/internal/memory"
	"github.com/kestrel-os/ext2fsd/internal/superblock"
)

// FileType is the dynamic classification of an inode's on-disk mode,
// modeled as a tagged variant rather than scattered
// S_IFMT compares.
type FileType int

const (
	FileTypeNone FileType = iota
	FileTypeRegular
	FileTypeDirectory
	FileTypeSymlink
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "regular"
	case FileTypeDirectory:
		return "directory"
	case FileTypeSymlink:
		return "symlink"
	default:
		return "none"
	}
}

// Record is the shared, lazily-initialized per-inode state. Metadata
// fields are immutable once ready is closed; the Managed Memory pairs
// are mutated only by their owning page-in handlers and the Block
// Mapper acting on behalf of callers.
type Record struct {
	Number    uint32
	FileType  FileType
	Mode      uint16
	FileSize  uint64
	UID       uint16
	GID       uint16
	LinkCount uint16
	ATime     int64
	CTime     int64
	MTime     int64

	// FileData is the raw 60-byte i_block area: either the
	// direct/indirect pointer layout or, for a symlink short enough to
	// be stored inline, the link target bytes.
	FileData [disklayout.IBlockBytes]byte

	FileFrontal *memory.Frontal
	FileBacking *memory.Backing

	Indirect1Frontal *memory.Frontal
	Indirect1Backing *memory.Backing

	Indirect2Frontal *memory.Frontal
	Indirect2Backing *memory.Backing

	ready     chan struct{}
	readyOnce sync.Once
}

// Ino implements inodecache.Record.
func (r *Record) Ino() uint32 { return r.Number }

// MarkReady raises is_ready and fires ready_signal. Safe to call more
// than once; only the first call has an effect.
func (r *Record) MarkReady() {
	r.readyOnce.Do(func() { close(r.ready) })
}

// Ready returns the ready_signal channel; it closes exactly once, when
// the record's metadata and Managed Memory pairs are safe to read.
func (r *Record) Ready() <-chan struct{} { return r.ready }

// IsReady reports whether ready_signal has already fired, without
// blocking.
func (r *Record) IsReady() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

// SymlinkTarget returns the inline link target for a fast symlink: a
// symlink whose target fits within the 60-byte i_block area is stored
// there directly rather than in a data block. The second return is
// false for any non-symlink record, or a symlink whose target was not
// stored inline.
func (r *Record) SymlinkTarget() (string, bool) {
	if r.FileType != FileTypeSymlink {
		return "", false
	}
	if r.FileSize == 0 || r.FileSize > uint64(len(r.FileData)) {
		return "", false
	}
	return string(r.FileData[:r.FileSize]), true
}

// NewBareRecord returns a Record with only its ready-signal channel
// initialized, for tests outside this package that build the rest of
// a Record's fields directly rather than going through Initialize.
func NewBareRecord() *Record {
	return &Record{ready: make(chan struct{})}
}

func roundUp(n, align int64) int64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) / align * align
}

// Initialize locates and reads the on-disk inode, classifies it,
// populates metadata, and creates its three Managed Memory pairs.
// Arming the page-in handlers is the caller's responsibility, since
// that requires a Block Mapper and scheduling ticket this package
// does not hold; see internal/ext2fs for that wiring.
func Initialize(dev blockdev.Port, geom superblock.Geometry, groups []disklayout.GroupDesc, number uint32) (*Record, error) {
	if number < 1 {
		return nil, fmt.Errorf("%w: inode number %d is not 1-indexed", ext2err.ErrGeometryInvalid, number)
	}

	group := (number - 1) / geom.InodesPerGroup
	index := (number - 1) % geom.InodesPerGroup
	if int(group) >= len(groups) {
		return nil, fmt.Errorf("%w: inode %d falls in group %d beyond %d known groups", ext2err.ErrGeometryInvalid, number, group, len(groups))
	}
	byteOffset := uint64(index) * uint64(geom.InodeSize)

	inodeTableBlock := uint64(groups[group].InodeTable)
	blockByteOffset := inodeTableBlock*uint64(geom.BlockSize) + byteOffset
	sectorLBA := blockByteOffset / disklayout.SectorSize
	sectorStart := blockByteOffset % disklayout.SectorSize

	if sectorStart+disklayout.InodeDiskSize > disklayout.SectorSize {
		return nil, fmt.Errorf("%w: inode %d straddles a sector boundary, unsupported", ext2err.ErrGeometryInvalid, number)
	}

	buf := make([]byte, disklayout.SectorSize)
	if err := dev.ReadSectors(sectorLBA, buf, 1); err != nil {
		return nil, err
	}

	disk := disklayout.DecodeInode(buf[sectorStart : sectorStart+disklayout.InodeDiskSize])

	var ft FileType
	switch disk.Mode & disklayout.ModeIFMT {
	case disklayout.ModeIFREG:
		ft = FileTypeRegular
	case disklayout.ModeIFLNK:
		ft = FileTypeSymlink
	case disklayout.ModeIFDIR:
		ft = FileTypeDirectory
	default:
		return nil, fmt.Errorf("%w: inode %d has mode %#o", ext2err.ErrUnsupportedInodeType, number, disk.Mode)
	}

	rec := &Record{
		Number:    number,
		FileType:  ft,
		Mode:      disk.Mode & 07777,
		FileSize:  uint64(disk.SizeLo),
		UID:       disk.UID,
		GID:       disk.GID,
		LinkCount: disk.LinksCount,
		ATime:     int64(disk.ATime),
		CTime:     int64(disk.CTime),
		MTime:     int64(disk.MTime),
		ready:     make(chan struct{}),
	}
	rec.FileData = disk.IBlock

	pageSize := int64(1) << geom.BlockPagesShift
	perIndirect := int64(geom.BlockSize / 4)

	rec.FileFrontal, rec.FileBacking = memory.NewPair(roundUp(int64(rec.FileSize), pageSize), pageSize)
	rec.Indirect1Frontal, rec.Indirect1Backing = memory.NewPair(3*pageSize, pageSize)
	rec.Indirect2Frontal, rec.Indirect2Backing = memory.NewPair(perIndirect*pageSize, pageSize)

	rec.MarkReady()

	logger.Debug("inode %d: type=%s size=%d mode=%#o", rec.Number, rec.FileType, rec.FileSize, rec.Mode)

	return rec, nil
}
