// Package ext2fs wires the Block Device Port, Superblock Loader, Inode
// Cache, Inode Initializer, Block Mapper, Page-In Handlers, and
// Directory Reader into one exposed Inode/Filesystem surface.
// Grounded on the teacher repository's server.NewServer/Start/Stop
// wiring in server/server.go, generalized from an HTTP server's accept loop to
// an ext2 driver's access_root/access_inode/find_entry entry points,
// each still suspending only at its block-device, managed-memory-lock,
// manage-event, and ready-signal points.
package ext2fs

import (
	"context"
	"fmt"
	"sync"

	"github.com/kestrel-os/ext2fsd/internal/blockdev"
	"github.com/kestrel-os/ext2fsd/internal/blockmap"
	"github.com/kestrel-os/ext2fsd/internal/directory"
	"github.com/kestrel-os/ext2fsd/internal/disklayout"
	"github.com/kestrel-os/ext2fsd/internal/inode"
	"github.com/kestrel-os/ext2fsd/internal/inodecache"
	"github.com/kestrel-os/ext2fsd/internal/logger"
	"github.com/kestrel-os/ext2fsd/internal/pagein"
	"github.com/kestrel-os/ext2fsd/internal/sched"
	"github.com/kestrel-os/ext2fsd/internal/superblock"
	"golang.org/x/sync/errgroup"
)

// Filesystem is the top-level ext2 driver instance: one block device,
// one loaded geometry, one inode cache, one dispatcher ticket.
type Filesystem struct {
	dev    blockdev.Port
	info   *superblock.Info
	mapper *blockmap.Mapper
	cache  *inodecache.Cache
	ticket *sched.Ticket

	mu      sync.Mutex
	groups  map[uint32]*errgroup.Group
	cancels map[uint32]context.CancelFunc
}

// Init performs the filesystem bootstrap: loading the
// superblock and group descriptor table from dev. Fails with
// GeometryInvalid or IoFailed exactly as the Superblock Loader does.
func Init(dev blockdev.Port, cacheHint int) (*Filesystem, error) {
	info, err := superblock.Load(dev)
	if err != nil {
		return nil, err
	}
	ticket := sched.NewTicket()
	fs := &Filesystem{
		dev:     dev,
		info:    info,
		mapper:  blockmap.New(dev, info.Geometry, ticket),
		cache:   inodecache.New(cacheHint),
		ticket:  ticket,
		groups:  make(map[uint32]*errgroup.Group),
		cancels: make(map[uint32]context.CancelFunc),
	}
	logger.Info("ext2fs: mounted, %d block group(s)", info.Geometry.NumBlockGroups)
	return fs, nil
}

// AccessRoot is access_root(): equivalent to AccessInode(2).
func (fs *Filesystem) AccessRoot(ctx context.Context) (*inode.Record, error) {
	return fs.AccessInode(ctx, disklayout.RootIno)
}

// AccessInode is access_inode(n): concurrent calls for
// the same n resolve to one record, with its initializer run exactly
// once and its page-in handlers armed exactly once.
func (fs *Filesystem) AccessInode(ctx context.Context, number uint32) (*inode.Record, error) {
	rec, err := fs.cache.Acquire(number, func() (inodecache.Record, error) {
		rec, err := inode.Initialize(fs.dev, fs.info.Geometry, fs.info.Groups, number)
		if err != nil {
			return nil, err
		}
		fs.armHandlers(rec)
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return rec.(*inode.Record), nil
}

// armHandlers spawns the three page-in handlers for a freshly
// initialized record.
func (fs *Filesystem) armHandlers(rec *inode.Record) {
	ctx, cancel := context.WithCancel(context.Background())
	eg := pagein.SpawnAll(ctx, rec, fs.info.Geometry, fs.dev, fs.mapper, fs.ticket)

	fs.mu.Lock()
	fs.groups[rec.Number] = eg
	fs.cancels[rec.Number] = cancel
	fs.mu.Unlock()
}

// ReleaseInode releases one reference to an inode record acquired
// through AccessInode or AccessRoot. When the last reference is
// released, the record's Managed Memory backing handles are closed,
// terminating its page-in handlers' manage-event waits
func (fs *Filesystem) ReleaseInode(rec *inode.Record) {
	fs.cache.Release(rec.Number)
	if _, stillCached := fs.cache.Lookup(rec.Number); stillCached {
		return
	}

	fs.mu.Lock()
	cancel, ok := fs.cancels[rec.Number]
	if ok {
		delete(fs.cancels, rec.Number)
		delete(fs.groups, rec.Number)
	}
	fs.mu.Unlock()

	rec.FileBacking.Close()
	rec.Indirect1Backing.Close()
	rec.Indirect2Backing.Close()
	if cancel != nil {
		cancel()
	}
}

// FindEntry resolves name inside dir; dir must be a
// directory-type record obtained from AccessInode/AccessRoot.
func (fs *Filesystem) FindEntry(ctx context.Context, dir *inode.Record, name string) (*directory.Entry, error) {
	if dir.FileType != inode.FileTypeDirectory {
		return nil, fmt.Errorf("inode %d is not a directory", dir.Number)
	}
	pageSize := int64(1) << fs.info.Geometry.BlockPagesShift
	return directory.FindEntry(ctx, dir, pageSize, name)
}

// NewCursor constructs an Open File Cursor over dir.
func (fs *Filesystem) NewCursor(dir *inode.Record) *directory.Cursor {
	return directory.NewCursor(dir)
}

// ReadEntries advances cur and returns its next entry,
func (fs *Filesystem) ReadEntries(ctx context.Context, cur *directory.Cursor) (string, directory.Entry, bool, error) {
	pageSize := int64(1) << fs.info.Geometry.BlockPagesShift
	return directory.ReadEntries(ctx, cur, pageSize)
}

// Geometry exposes the loaded filesystem geometry.
func (fs *Filesystem) Geometry() superblock.Geometry { return fs.info.Geometry }
