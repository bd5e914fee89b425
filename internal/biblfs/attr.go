package biblfs

import (
	"syscall"
	"time"
)

const (
	// DefaultTTL is how long the kernel may cache entries and attributes.
	DefaultTTL = 1 * time.Second

	// DefaultFileMode is the permission bits of files.
	DefaultFileMode uint32 = 0o644

	dirMode   uint32 = 0o755
	blockSize uint32 = 512
	nameMax   uint32 = 255
)

// Attr is the stat(2) view of an inode.
type Attr struct {
	Ino     uint64
	Size    uint64
	Blocks  uint64
	Mode    uint32 // type and permission bits
	Nlink   uint32
	UID     uint32
	GID     uint32
	Blksize uint32
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a Attr) IsDir() bool { return a.Mode&syscall.S_IFMT == syscall.S_IFDIR }

// DirEntry is one readdir entry. Cookie is its 1-based position in the
// listing; a continuation at offset k resumes after the entry with cookie k.
type DirEntry struct {
	Name   string
	Ino    uint64
	Mode   uint32 // S_IFDIR or S_IFREG
	Cookie uint64
}

// StatFs is the statfs(2) view of the mount.
type StatFs struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	NameLen uint32
	Frsize  uint32
}

var epoch = time.Unix(0, 0).UTC()

func (h *Handler) dirAttr(ino uint64) Attr {
	return Attr{
		Ino:     ino,
		Mode:    syscall.S_IFDIR | dirMode,
		Nlink:   2,
		UID:     h.opts.UID,
		GID:     h.opts.GID,
		Blksize: blockSize,
		Atime:   epoch,
		Mtime:   epoch,
		Ctime:   epoch,
	}
}

func (h *Handler) regularAttr(ino uint64, size int, mtime, ctime time.Time) Attr {
	return Attr{
		Ino:     ino,
		Size:    uint64(size),
		Blocks:  (uint64(size) + uint64(blockSize) - 1) / uint64(blockSize),
		Mode:    syscall.S_IFREG | h.opts.FileMode,
		Nlink:   1,
		UID:     h.opts.UID,
		GID:     h.opts.GID,
		Blksize: blockSize,
		Atime:   epoch,
		Mtime:   mtime,
		Ctime:   ctime,
	}
}

func (h *Handler) fileAttr(f *File) Attr {
	return h.regularAttr(f.Ino, int(f.Size), f.Mtime, f.Ctime)
}
