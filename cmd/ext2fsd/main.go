package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kestrel-os/ext2fsd/internal/blockdev"
	"github.com/kestrel-os/ext2fsd/internal/config"
	"github.com/kestrel-os/ext2fsd/internal/ext2fs"
	"github.com/kestrel-os/ext2fsd/internal/inode"
	"github.com/kestrel-os/ext2fsd/internal/logger"
)

func main() {
	cfg := config.Load()

	logger.SetLevel(cfg.LogLevel)

	log.Printf("ext2fsd starting...")
	log.Printf("Device path: %s", cfg.DevicePath)
	log.Printf("Inode cache hint: %d", cfg.InodeCacheHint)
	log.Printf("Sector cache size: %d", cfg.SectorCacheSize)

	if cfg.DevicePath == "" {
		log.Fatalf("EXT2FSD_DEVICE is required")
	}

	file, err := blockdev.Open(cfg.DevicePath)
	if err != nil {
		log.Fatalf("Failed to open block device: %v", err)
	}
	defer file.Close()

	var dev blockdev.Port = blockdev.NewCachingDevice(file, cfg.SectorCacheSize)

	fs, err := ext2fs.Init(dev, int(cfg.InodeCacheHint))
	if err != nil {
		log.Fatalf("Failed to mount filesystem: %v", err)
	}

	ctx := context.Background()
	root, err := fs.AccessRoot(ctx)
	if err != nil {
		log.Fatalf("Failed to access root inode: %v", err)
	}
	log.Printf("Mounted. Root inode file_type=%s link_count=%d", root.FileType, root.LinkCount)

	if path := pathArg(); path != "" {
		walkPath(ctx, fs, root, path)
	}

	log.Printf("ext2fsd ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down ext2fsd...")
}

// pathArg returns the optional command-line path argument used to
// exercise a lookup chain end to end at startup, or "" if none was
// given.
func pathArg() string {
	if len(os.Args) < 2 {
		return ""
	}
	return os.Args[1]
}

// walkPath resolves a slash-separated path starting at root, logging
// the result of each component lookup. It exists to give operators a
// quick way to exercise find_entry from the command line without a
// VFS layer above this driver. root is owned by the caller and is
// never released here; every inode walkPath itself acquires past root
// is released once it's no longer needed, whether the walk finishes,
// fails, or comes up empty.
func walkPath(ctx context.Context, fs *ext2fs.Filesystem, root *inode.Record, path string) {
	current := root
	release := func() {
		if current != root {
			fs.ReleaseInode(current)
		}
	}
	for _, component := range strings.Split(strings.Trim(path, "/"), "/") {
		if component == "" {
			continue
		}
		entry, err := fs.FindEntry(ctx, current, component)
		if err != nil {
			log.Printf("lookup %q: %v", component, err)
			release()
			return
		}
		if entry == nil {
			log.Printf("lookup %q: not found", component)
			release()
			return
		}
		log.Printf("lookup %q: inode=%d file_type=%s", component, entry.Inode, entry.FileType)

		next, err := fs.AccessInode(ctx, entry.Inode)
		if err != nil {
			log.Printf("access inode %d: %v", entry.Inode, err)
			release()
			return
		}
		release()
		current = next
	}
	release()
}
