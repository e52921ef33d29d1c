// Package superblock implements the Superblock & Group Descriptor
// Loader: the first thing a filesystem mount does is read the primary
// superblock, validate it, derive block geometry, and read the group
// descriptor table that follows it. Grounded on the teacher repository's
// storage.go readSuperblock/writeSuperblock/loadInodes sequence,
// adapted from a single in-process page to a two-sector
// primary-superblock window plus a separate group-descriptor-table
// read.
package superblock

import (
	"fmt"

	"github.com/kestrel-os/ext2fsd/internal/blockdev"
	"github.com/kestrel-os/ext2fsd/internal/disklayout"
	"github.com/kestrel-os/ext2fsd/internal/ext2err"
	"github.com/kestrel-os/ext2fsd/internal/logger"
)

// Geometry holds the values derived from the superblock that every
// other component needs: block size, inode size, and the per-group
// layout.
type Geometry struct {
	BlockSize       uint32
	BlockShift      uint32
	BlockPagesShift uint32
	InodeSize       uint32
	InodesPerGroup  uint32
	BlocksPerGroup  uint32
	NumBlockGroups  uint32
	FirstDataBlock  uint32
}

// Info is the loaded superblock plus its group descriptor table.
type Info struct {
	Geometry Geometry
	Groups   []disklayout.GroupDesc
}

func roundUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) / align * align
}

// log2u32 returns the base-2 logarithm of v, assuming v is a power of two.
func log2u32(v uint32) uint32 {
	var shift uint32
	for v > 1 {
		v >>= 1
		shift++
	}
	return shift
}

// Load reads the primary superblock from dev (a 1024-byte window at
// byte offset 1024, spanning sectors 2-3), validates the magic number,
// derives block geometry, and reads the group descriptor table that
// immediately follows it on the first block boundary at or after byte
// 2048. It fails with ErrGeometryInvalid on a bad magic number or
// arithmetic that cannot describe a real filesystem, and with
// ErrIoFailed if the underlying device read fails.
func Load(dev blockdev.Port) (*Info, error) {
	buf := make([]byte, disklayout.SuperblockSize)
	const sbLBA = disklayout.SuperblockOffset / disklayout.SectorSize
	const sbSectors = disklayout.SuperblockSize / disklayout.SectorSize
	if err := dev.ReadSectors(sbLBA, buf, sbSectors); err != nil {
		return nil, err
	}

	sb := disklayout.DecodeSuperblock(buf)
	if sb.Magic != disklayout.Magic {
		return nil, fmt.Errorf("%w: bad magic %#04x", ext2err.ErrGeometryInvalid, sb.Magic)
	}
	if sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0 || sb.BlocksCount == 0 {
		return nil, fmt.Errorf("%w: zero-valued geometry field", ext2err.ErrGeometryInvalid)
	}

	blockSize := uint32(1024) << sb.LogBlockSize
	blockShift := log2u32(blockSize)
	blockPagesShift := blockShift
	if blockPagesShift < 12 {
		blockPagesShift = 12
	}

	inodeSize := uint32(128)
	if sb.InodeSizeRaw != 0 {
		inodeSize = uint32(sb.InodeSizeRaw)
	}

	numGroups := (sb.BlocksCount + sb.BlocksPerGroup - 1) / sb.BlocksPerGroup
	if numGroups == 0 {
		return nil, fmt.Errorf("%w: zero block groups", ext2err.ErrGeometryInvalid)
	}

	geom := Geometry{
		BlockSize:       blockSize,
		BlockShift:      blockShift,
		BlockPagesShift: blockPagesShift,
		InodeSize:       inodeSize,
		InodesPerGroup:  sb.InodesPerGroup,
		BlocksPerGroup:  sb.BlocksPerGroup,
		NumBlockGroups:  numGroups,
		FirstDataBlock:  sb.FirstDataBlock,
	}

	bgdtSize := roundUp(uint64(numGroups)*disklayout.GroupDescSize, disklayout.SectorSize)
	bgdtByteOffset := roundUp(2048, uint64(blockSize))
	bgdtLBA := bgdtByteOffset / disklayout.SectorSize
	bgdtSectors := bgdtSize / disklayout.SectorSize

	gbuf := make([]byte, bgdtSize)
	if err := dev.ReadSectors(bgdtLBA, gbuf, uint32(bgdtSectors)); err != nil {
		return nil, err
	}

	groups := make([]disklayout.GroupDesc, numGroups)
	for i := uint32(0); i < numGroups; i++ {
		off := uint64(i) * disklayout.GroupDescSize
		groups[i] = disklayout.DecodeGroupDesc(gbuf[off : off+disklayout.GroupDescSize])
	}

	logger.Info("superblock: loaded %d block group(s), block_size=%d inode_size=%d", numGroups, blockSize, inodeSize)

	return &Info{Geometry: geom, Groups: groups}, nil
}
