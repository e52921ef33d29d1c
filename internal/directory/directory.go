// Package directory implements the Directory Reader and Open File
// Cursor: resolving a name inside a directory inode by linear scan of
// its mapped frontal memory, and yielding entries in sequence for
// enumeration. Grounded on the teacher repository's directory-listing
// walk in usecase/filesystem.go, adapted from a flat slice of pre-decoded
// entries to the on-disk variable-length record_length chain this
// format uses.
package directory

import (
	"context"
	"fmt"

	"github.com/kestrel-os/ext2fsd/internal/disklayout"
	"github.com/kestrel-os/ext2fsd/internal/ext2err"
	"github.com/kestrel-os/ext2fsd/internal/inode"
)

// FileType mirrors inode.FileType for the narrower set a directory
// entry's file_type byte can name.
type FileType = inode.FileType

// Entry is the in-memory result of a directory lookup: an inode number
// and its file type.
type Entry struct {
	Inode    uint32
	FileType FileType
}

func mapDirFileType(b disklayout.DirFileType) FileType {
	switch b {
	case disklayout.DirFTRegular:
		return inode.FileTypeRegular
	case disklayout.DirFTDir:
		return inode.FileTypeDirectory
	case disklayout.DirFTSymlink:
		return inode.FileTypeSymlink
	default:
		return inode.FileTypeNone
	}
}

func roundUp(n, align int64) int64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) / align * align
}

// FindEntry resolves name inside dir, which must be a directory
// record whose ready_signal has already fired. name must be non-empty
// and not "." or "..", matching this codebase's convention that those
// components never traverse a lookup call.
func FindEntry(ctx context.Context, dir *inode.Record, pageSize int64, name string) (*Entry, error) {
	if name == "" || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: %q is not a lookup-able name", ext2err.ErrDirectoryCorrupt, name)
	}
	if len(name) > 255 {
		return nil, ext2err.ErrNameTooLong
	}

	<-dir.Ready()

	size := int64(dir.FileSize)
	mapped := roundUp(size, pageSize)
	if err := dir.FileFrontal.Lock(ctx, 0, mapped); err != nil {
		return nil, err
	}
	window, err := dir.FileFrontal.Map(0, mapped)
	if err != nil {
		return nil, err
	}

	offset := int64(0)
	for offset < size {
		if offset+8 > int64(len(window)) {
			return nil, ext2err.ErrDirectoryCorrupt
		}
		hdr := disklayout.DecodeDirEntryHeader(window[offset : offset+8])
		if hdr.RecLen == 0 {
			return nil, ext2err.ErrDirectoryCorrupt
		}
		nameEnd := offset + 8 + int64(hdr.NameLen)
		if nameEnd > size || nameEnd > int64(len(window)) {
			return nil, ext2err.ErrDirectoryCorrupt
		}
		if hdr.Inode != 0 && int(hdr.NameLen) == len(name) && string(window[offset+8:nameEnd]) == name {
			return &Entry{Inode: hdr.Inode, FileType: mapDirFileType(hdr.FileType)}, nil
		}
		offset += int64(hdr.RecLen)
	}
	if offset != size {
		return nil, ext2err.ErrDirectoryCorrupt
	}
	return nil, nil
}

// Cursor is the Open File Cursor: an offset-carrying
// handle over a shared directory inode reference, used for sequential
// enumeration.
type Cursor struct {
	Dir    *inode.Record
	Offset int64
}

// NewCursor constructs a Cursor positioned at offset 0.
func NewCursor(dir *inode.Record) *Cursor {
	return &Cursor{Dir: dir}
}

// ReadEntries returns the next directory entry name and classification
// starting from the cursor's current offset, advancing the cursor by
// the entry's record_length. It returns ok=false once the cursor's
// offset reaches the directory's file_size.
func ReadEntries(ctx context.Context, c *Cursor, pageSize int64) (name string, entry Entry, ok bool, err error) {
	<-c.Dir.Ready()

	size := int64(c.Dir.FileSize)
	if c.Offset == size {
		return "", Entry{}, false, nil
	}
	if c.Offset > size {
		return "", Entry{}, false, ext2err.ErrDirectoryCorrupt
	}

	mapped := roundUp(size, pageSize)
	if err := c.Dir.FileFrontal.Lock(ctx, 0, mapped); err != nil {
		return "", Entry{}, false, err
	}
	window, err := c.Dir.FileFrontal.Map(0, mapped)
	if err != nil {
		return "", Entry{}, false, err
	}

	if c.Offset+8 > int64(len(window)) {
		return "", Entry{}, false, ext2err.ErrDirectoryCorrupt
	}
	hdr := disklayout.DecodeDirEntryHeader(window[c.Offset : c.Offset+8])
	if hdr.RecLen == 0 {
		return "", Entry{}, false, ext2err.ErrDirectoryCorrupt
	}
	nameEnd := c.Offset + 8 + int64(hdr.NameLen)
	if nameEnd > size || nameEnd > int64(len(window)) {
		return "", Entry{}, false, ext2err.ErrDirectoryCorrupt
	}

	name = string(window[c.Offset+8 : nameEnd])
	entry = Entry{Inode: hdr.Inode, FileType: mapDirFileType(hdr.FileType)}
	c.Offset += int64(hdr.RecLen)
	return name, entry, true, nil
}
