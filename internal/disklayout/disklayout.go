// Package disklayout holds the on-disk ext2 structure constants and
// manual encoding/binary decoders this driver reads off the block
// device. Field layout follows the classic (128-byte, non-64-bit)
// ext2 revision, grounded on gvisor's
// pkg/sentry/fs/ext/disklayout.InodeOld and the embedded 32-bit fields
// of SuperBlock64Bit. Decoding follows the teacher repository's manual
// encoding/binary style (storage.go's readSuperblock/writeInodeToDisk)
// rather than struct-tag or unsafe-pointer decoding.
package disklayout

import "encoding/binary"

const (
	// Magic is the expected value of the superblock's s_magic field.
	Magic uint16 = 0xEF53

	// SectorSize is the block device's fixed transfer unit.
	SectorSize = 512

	// SuperblockOffset is the byte offset of the primary superblock.
	SuperblockOffset = 1024

	// SuperblockSize is the on-disk size of the superblock structure.
	SuperblockSize = 1024

	// GroupDescSize is the on-disk size of one block group descriptor
	// (32-bit, non-64bit-feature layout).
	GroupDescSize = 32

	// InodeDiskSize is the on-disk size of the classic ext2 inode.
	InodeDiskSize = 128

	// RootIno is the well-known root directory inode number.
	RootIno = 2

	// DirectCount is the number of direct block pointers in i_block.
	DirectCount = 12

	// IBlockBytes is the size of the i_block area in a disk inode.
	IBlockBytes = 60
)

// Inode mode type bits, used for classifying an inode's mode. The
// file_type byte of a directory entry uses DirFileType below instead.
const (
	ModeIFMT  uint16 = 0170000
	ModeIFDIR uint16 = 0040000
	ModeIFREG uint16 = 0100000
	ModeIFLNK uint16 = 0120000
)

// DirFileType is the directory entry file_type tag (1 byte on disk).
type DirFileType uint8

const (
	DirFTUnknown DirFileType = 0
	DirFTRegular DirFileType = 1
	DirFTDir     DirFileType = 2
	DirFTSymlink DirFileType = 7
)

// Superblock is the subset of the 1024-byte primary superblock this
// driver consumes, decoded manually field by field.
type Superblock struct {
	InodesCount      uint32
	BlocksCount      uint32
	FirstDataBlock   uint32
	LogBlockSize     uint32
	BlocksPerGroup   uint32
	InodesPerGroup   uint32
	Magic            uint16
	FirstIno         uint32
	InodeSizeRaw     uint16 // 0 on ext2 revision 0, meaning 128
	FeatureIncompat  uint32
	FeatureROCompat  uint32
}

// DecodeSuperblock parses the 1024-byte primary superblock window.
func DecodeSuperblock(buf []byte) Superblock {
	le := binary.LittleEndian
	var sb Superblock
	sb.InodesCount = le.Uint32(buf[0:4])
	sb.BlocksCount = le.Uint32(buf[4:8])
	sb.FirstDataBlock = le.Uint32(buf[20:24])
	sb.LogBlockSize = le.Uint32(buf[24:28])
	sb.BlocksPerGroup = le.Uint32(buf[32:36])
	sb.InodesPerGroup = le.Uint32(buf[40:44])
	sb.Magic = le.Uint16(buf[56:58])
	if len(buf) >= 92 {
		sb.FirstIno = le.Uint32(buf[84:88])
		sb.InodeSizeRaw = le.Uint16(buf[88:90])
		sb.FeatureIncompat = le.Uint32(buf[96:100])
		sb.FeatureROCompat = le.Uint32(buf[100:104])
	}
	return sb
}

// GroupDesc is one block group descriptor table entry.
type GroupDesc struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
}

// DecodeGroupDesc parses a single 32-byte group descriptor.
func DecodeGroupDesc(buf []byte) GroupDesc {
	le := binary.LittleEndian
	return GroupDesc{
		BlockBitmap:     le.Uint32(buf[0:4]),
		InodeBitmap:     le.Uint32(buf[4:8]),
		InodeTable:      le.Uint32(buf[8:12]),
		FreeBlocksCount: le.Uint16(buf[12:14]),
		FreeInodesCount: le.Uint16(buf[14:16]),
		UsedDirsCount:   le.Uint16(buf[16:18]),
	}
}

// Inode is the fields this driver reads out of a 128-byte on-disk
// inode record. IBlock is kept as raw bytes, interpreted downstream as
// either the direct/indirect pointer array or a symlink target.
type Inode struct {
	Mode       uint16
	UID        uint16
	SizeLo     uint32
	ATime      int32
	CTime      int32
	MTime      int32
	GID        uint16
	LinksCount uint16
	IBlock     [IBlockBytes]byte
}

// DecodeInode parses a single on-disk inode record. buf must be at
// least InodeDiskSize bytes.
func DecodeInode(buf []byte) Inode {
	le := binary.LittleEndian
	var in Inode
	in.Mode = le.Uint16(buf[0:2])
	in.UID = le.Uint16(buf[2:4])
	in.SizeLo = le.Uint32(buf[4:8])
	in.ATime = int32(le.Uint32(buf[8:12]))
	in.CTime = int32(le.Uint32(buf[12:16]))
	in.MTime = int32(le.Uint32(buf[16:20]))
	in.GID = le.Uint16(buf[24:26])
	in.LinksCount = le.Uint16(buf[26:28])
	copy(in.IBlock[:], buf[40:40+IBlockBytes])
	return in
}

// DirEntryHeader is the fixed-size prefix of an on-disk directory
// entry; Name follows immediately after in the containing buffer.
type DirEntryHeader struct {
	Inode     uint32
	RecLen    uint16
	NameLen   uint8
	FileType  DirFileType
}

// DecodeDirEntryHeader parses the 8-byte fixed prefix of a directory
// entry. The caller slices out NameLen bytes immediately afterward for
// the name.
func DecodeDirEntryHeader(buf []byte) DirEntryHeader {
	le := binary.LittleEndian
	return DirEntryHeader{
		Inode:    le.Uint32(buf[0:4]),
		RecLen:   le.Uint16(buf[4:6]),
		NameLen:  buf[6],
		FileType: DirFileType(buf[7]),
	}
}
