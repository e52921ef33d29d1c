package directory

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/kestrel-os/ext2fsd/internal/disklayout"
	"github.com/kestrel-os/ext2fsd/internal/ext2err"
	"github.com/kestrel-os/ext2fsd/internal/inode"
	"github.com/kestrel-os/ext2fsd/internal/memory"
)

const pageSize = int64(4096)

func putEntry(buf []byte, offset int64, ino uint32, recLen uint16, name string, ft disklayout.DirFileType) {
	le := binary.LittleEndian
	le.PutUint32(buf[offset:offset+4], ino)
	le.PutUint16(buf[offset+4:offset+6], recLen)
	buf[offset+6] = byte(len(name))
	buf[offset+7] = byte(ft)
	copy(buf[offset+8:], name)
}

// buildDirRecord constructs a ready directory inode record whose
// frontal memory is already fully resident with buf's contents, by
// serving exactly one manage event for the whole mapped range.
func buildDirRecord(t *testing.T, buf []byte, fileSize int64) *inode.Record {
	t.Helper()
	rec := inode.NewBareRecord()
	rec.FileType = inode.FileTypeDirectory
	rec.FileSize = uint64(fileSize)
	mapped := roundUp(fileSize, pageSize)
	rec.FileFrontal, rec.FileBacking = memory.NewPair(mapped, pageSize)
	rec.MarkReady()

	if fileSize == 0 {
		return rec
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ev, err := rec.FileBacking.AwaitManage(ctx)
		if err != nil {
			t.Errorf("AwaitManage: %v", err)
			return
		}
		window, err := rec.FileBacking.Map(ev.Offset, ev.Length)
		if err != nil {
			t.Errorf("Map: %v", err)
			return
		}
		copy(window, buf)
		if err := rec.FileBacking.CompleteLoad(ev.Offset, ev.Length); err != nil {
			t.Errorf("CompleteLoad: %v", err)
		}
	}()

	if err := rec.FileFrontal.Lock(context.Background(), 0, mapped); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	<-done
	return rec
}

func TestFindEntryLocatesFile(t *testing.T) {
	buf := make([]byte, 1024)
	putEntry(buf, 0, 2, 12, ".", disklayout.DirFTDir)
	putEntry(buf, 12, 2, 12, "..", disklayout.DirFTDir)
	putEntry(buf, 24, 12, 1000, "hello", disklayout.DirFTRegular)

	rec := buildDirRecord(t, buf, 1024)

	entry, err := FindEntry(context.Background(), rec, pageSize, "hello")
	if err != nil {
		t.Fatalf("FindEntry: %v", err)
	}
	if entry == nil {
		t.Fatal("expected to find \"hello\"")
	}
	if entry.Inode != 12 || entry.FileType != inode.FileTypeRegular {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestFindEntryMissingReturnsNil(t *testing.T) {
	buf := make([]byte, 1024)
	putEntry(buf, 0, 2, 1024, ".", disklayout.DirFTDir)

	rec := buildDirRecord(t, buf, 1024)

	entry, err := FindEntry(context.Background(), rec, pageSize, "nonexistent")
	if err != nil {
		t.Fatalf("FindEntry: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected no entry, got %+v", entry)
	}
}

func TestFindEntryRejectsDotAndDotDot(t *testing.T) {
	rec := buildDirRecord(t, make([]byte, 1024), 1024)
	if _, err := FindEntry(context.Background(), rec, pageSize, "."); err == nil {
		t.Fatal("expected an error looking up \".\"")
	}
	if _, err := FindEntry(context.Background(), rec, pageSize, ".."); err == nil {
		t.Fatal("expected an error looking up \"..\"")
	}
}

func TestFindEntryEmptyDirectory(t *testing.T) {
	rec := buildDirRecord(t, make([]byte, 0), 0)
	entry, err := FindEntry(context.Background(), rec, pageSize, "anything")
	if err != nil {
		t.Fatalf("FindEntry: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected no entry in an empty directory, got %+v", entry)
	}
}

func TestReadEntriesYieldsExpectedOffsets(t *testing.T) {
	buf := make([]byte, 1024)
	putEntry(buf, 0, 2, 12, ".", disklayout.DirFTDir)
	putEntry(buf, 12, 2, 12, "..", disklayout.DirFTDir)
	putEntry(buf, 24, 5, 16, "ab", disklayout.DirFTRegular)
	putEntry(buf, 40, 6, 984, "longname", disklayout.DirFTRegular)

	rec := buildDirRecord(t, buf, 1024)
	cur := NewCursor(rec)

	wantOffsets := []int64{12, 24, 40, 1024}
	for i, want := range wantOffsets {
		_, _, ok, err := ReadEntries(context.Background(), cur, pageSize)
		if err != nil {
			t.Fatalf("ReadEntries #%d: %v", i, err)
		}
		if !ok {
			t.Fatalf("ReadEntries #%d: expected an entry", i)
		}
		if cur.Offset != want {
			t.Fatalf("ReadEntries #%d: expected offset %d, got %d", i, want, cur.Offset)
		}
	}

	_, _, ok, err := ReadEntries(context.Background(), cur, pageSize)
	if err != nil {
		t.Fatalf("final ReadEntries: %v", err)
	}
	if ok {
		t.Fatal("expected absent after the last entry")
	}
}

func TestFindEntryNameTooLong(t *testing.T) {
	rec := buildDirRecord(t, make([]byte, 1024), 1024)
	longName := make([]byte, 256)
	for i := range longName {
		longName[i] = 'a'
	}
	if _, err := FindEntry(context.Background(), rec, pageSize, string(longName)); err != ext2err.ErrNameTooLong {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}
