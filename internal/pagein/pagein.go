// Package pagein implements the three Page-In Handlers:
// endless loops, three per inode (one per Managed Memory backing
// handle), each waiting on its backing handle for a manage event,
// reading the needed sectors through the Block Mapper (or directly for
// the cached indirect blocks), and completing the load. Grounded on the
// teacher repository's per-client readLoop/notifyLoop goroutine pair in
// server.go, generalized from a fixed notification channel to the three
// backing handles an inode record owns, and spawned together with
// golang.org/x/sync/errgroup the way the teacher's dispatcher tracks its
// per-client goroutines with a sync.WaitGroup.
package pagein

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/kestrel-os/ext2fsd/internal/blockdev"
	"github.com/kestrel-os/ext2fsd/internal/blockmap"
	"github.com/kestrel-os/ext2fsd/internal/disklayout"
	"github.com/kestrel-os/ext2fsd/internal/ext2err"
	"github.com/kestrel-os/ext2fsd/internal/inode"
	"github.com/kestrel-os/ext2fsd/internal/logger"
	"github.com/kestrel-os/ext2fsd/internal/memory"
	"github.com/kestrel-os/ext2fsd/internal/sched"
	"github.com/kestrel-os/ext2fsd/internal/superblock"
	"golang.org/x/sync/errgroup"
)

func ceilDiv(n, d int64) int64 { return (n + d - 1) / d }

// FileData runs the file-data handler: it services manage events
// against rec.FileBacking until the backing handle is closed.
func FileData(ctx context.Context, rec *inode.Record, geom superblock.Geometry, mapper *blockmap.Mapper, ticket *sched.Ticket) error {
	blockSize := int64(geom.BlockSize)
	for {
		ev, err := rec.FileBacking.AwaitManage(ctx)
		if err != nil {
			if err == memory.ErrClosed {
				return nil
			}
			return err
		}

		err = func() error {
			if ev.Offset%blockSize != 0 {
				return fmt.Errorf("%w: file data manage offset %d is not block-aligned", ext2err.ErrAlignmentViolation, ev.Offset)
			}

			readSize := ev.Length
			if remaining := int64(rec.FileSize) - ev.Offset; remaining < readSize {
				if remaining < 0 {
					readSize = 0
				} else {
					readSize = remaining
				}
			}
			numBlocks := ceilDiv(readSize, blockSize)
			if numBlocks*blockSize > ev.Length {
				return fmt.Errorf("%w: file data manage event too short for %d blocks", ext2err.ErrAlignmentViolation, numBlocks)
			}

			window, err := rec.FileBacking.Map(ev.Offset, ev.Length)
			if err != nil {
				return err
			}

			// mapper.Read resolves each logical block (which can wait on
			// the indirect1/indirect2 handlers) before it ever acquires
			// ticket, so this call must stay outside any ticket.Run: those
			// handlers need the same ticket to make progress, and holding
			// it here while waiting on them would deadlock.
			if numBlocks > 0 {
				if err := mapper.Read(ctx, rec, ev.Offset/blockSize, numBlocks, window[:numBlocks*blockSize]); err != nil {
					return err
				}
			}

			return rec.FileBacking.CompleteLoad(ev.Offset, ev.Length)
		}()
		if err != nil {
			logger.Error("inode %d: file-data page-in failed at offset %d: %v", rec.Number, ev.Offset, err)
			return err
		}
	}
}

// Indirect1 runs the order-1 indirect handler: it caches the three
// inode-level indirect block pointers (single, double, triple) as
// slots 0, 1, 2 of rec.Indirect1Backing.
func Indirect1(ctx context.Context, rec *inode.Record, geom superblock.Geometry, dev blockdev.Port, ticket *sched.Ticket) error {
	for {
		ev, err := rec.Indirect1Backing.AwaitManage(ctx)
		if err != nil {
			if err == memory.ErrClosed {
				return nil
			}
			return err
		}

		err = ticket.Run(ctx, func() error {
			element := ev.Offset >> geom.BlockPagesShift
			var physBlock uint32
			le := binary.LittleEndian
			switch element {
			case 0:
				physBlock = le.Uint32(rec.FileData[12*4 : 12*4+4]) // singleIndirect
			case 1:
				physBlock = le.Uint32(rec.FileData[13*4 : 13*4+4]) // doubleIndirect
			case 2:
				physBlock = le.Uint32(rec.FileData[14*4 : 14*4+4]) // tripleIndirect
			default:
				return fmt.Errorf("%w: indirect1 element %d out of range", ext2err.ErrAlignmentViolation, element)
			}
			return readOneBlock(ctx, dev, geom, rec.Indirect1Backing, ev, physBlock)
		})
		if err != nil {
			logger.Error("inode %d: indirect1 page-in failed at offset %d: %v", rec.Number, ev.Offset, err)
			return err
		}
	}
}

// Indirect2 runs the order-2 indirect handler: it caches second-level
// indirect blocks under the double-indirect pointer, one slot per
// first-level position, as slots of rec.Indirect2Backing.
func Indirect2(ctx context.Context, rec *inode.Record, geom superblock.Geometry, dev blockdev.Port, ticket *sched.Ticket) error {
	shift := geom.BlockShift - 2
	mask := int64(1)<<shift - 1

	for {
		ev, err := rec.Indirect2Backing.AwaitManage(ctx)
		if err != nil {
			if err == memory.ErrClosed {
				return nil
			}
			return err
		}

		element := ev.Offset >> geom.BlockPagesShift
		firstLevel := element >> shift
		pageSize := int64(1) << geom.BlockPagesShift

		// This Lock can block until the indirect1 handler completes the
		// slot this element falls under, and that handler needs the same
		// ticket to run — so it must happen before, never inside,
		// ticket.Run.
		if err := rec.Indirect1Frontal.Lock(ctx, (1+firstLevel)*pageSize, pageSize); err != nil {
			logger.Error("inode %d: indirect2 page-in failed waiting on indirect1 slot %d: %v", rec.Number, 1+firstLevel, err)
			return err
		}
		window, err := rec.Indirect1Frontal.Map((1+firstLevel)*pageSize, pageSize)
		if err != nil {
			return err
		}
		withinFirst := element & mask
		physBlock := binary.LittleEndian.Uint32(window[withinFirst*4 : withinFirst*4+4])

		err = ticket.Run(ctx, func() error {
			return readOneBlock(ctx, dev, geom, rec.Indirect2Backing, ev, physBlock)
		})
		if err != nil {
			logger.Error("inode %d: indirect2 page-in failed at offset %d: %v", rec.Number, ev.Offset, err)
			return err
		}
	}
}

func readOneBlock(ctx context.Context, dev blockdev.Port, geom superblock.Geometry, backing *memory.Backing, ev memory.Event, physBlock uint32) error {
	if ev.Offset%(1<<geom.BlockPagesShift) != 0 {
		return fmt.Errorf("%w: indirect manage offset %d is not page-aligned", ext2err.ErrAlignmentViolation, ev.Offset)
	}

	window, err := backing.Map(ev.Offset, ev.Length)
	if err != nil {
		return err
	}

	sectorsPerBlock := uint64(geom.BlockSize / disklayout.SectorSize)
	blockSize := int(geom.BlockSize)
	if len(window) < blockSize {
		return fmt.Errorf("%w: indirect manage event shorter than one filesystem block", ext2err.ErrAlignmentViolation)
	}
	if err := dev.ReadSectors(uint64(physBlock)*sectorsPerBlock, window[:blockSize], uint32(sectorsPerBlock)); err != nil {
		return err
	}

	return backing.CompleteLoad(ev.Offset, ev.Length)
}

// SpawnAll arms an inode record's three page-in handlers as a group:
// if any handler returns a non-transient error, the others are
// cancelled along with it, matching this driver's "fatal to the inode"
// propagation policy for page-in failures.
func SpawnAll(ctx context.Context, rec *inode.Record, geom superblock.Geometry, dev blockdev.Port, mapper *blockmap.Mapper, ticket *sched.Ticket) *errgroup.Group {
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return FileData(gctx, rec, geom, mapper, ticket) })
	eg.Go(func() error { return Indirect1(gctx, rec, geom, dev, ticket) })
	eg.Go(func() error { return Indirect2(gctx, rec, geom, dev, ticket) })
	return eg
}
