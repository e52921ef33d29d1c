// Package ext2err defines the sentinel error taxonomy surfaced across the
// driver's suspension points, in this codebase's errors.New style.
package ext2err

import "errors"

var (
	// ErrIoFailed means the underlying sector read or managed-memory
	// operation failed.
	ErrIoFailed = errors.New("ext2fsd: io failed")

	// ErrGeometryInvalid means the superblock magic was wrong or the
	// derived geometry was impossible. Fatal to the filesystem instance.
	ErrGeometryInvalid = errors.New("ext2fsd: geometry invalid")

	// ErrUnsupportedInodeType means the on-disk mode was not one of
	// REG/LNK/DIR.
	ErrUnsupportedInodeType = errors.New("ext2fsd: unsupported inode type")

	// ErrTripleIndirectUnsupported means a logical block index fell at
	// or beyond the double-indirect range.
	ErrTripleIndirectUnsupported = errors.New("ext2fsd: triple indirect blocks unsupported")

	// ErrHoleEncountered means a logical block mapped to physical block
	// 0 (a sparse region), which this read-only core does not model.
	ErrHoleEncountered = errors.New("ext2fsd: hole encountered")

	// ErrAlignmentViolation means a manage event or directory offset
	// violated an alignment or size constraint.
	ErrAlignmentViolation = errors.New("ext2fsd: alignment violation")

	// ErrDirectoryCorrupt means a directory traversal would overrun the
	// directory's file_size or met a zero record_length. FindEntry also
	// returns it for an empty, "." or ".." lookup name.
	ErrDirectoryCorrupt = errors.New("ext2fsd: directory corrupt")

	// ErrNameTooLong means a lookup name exceeded 255 bytes.
	ErrNameTooLong = errors.New("ext2fsd: name too long")
)
