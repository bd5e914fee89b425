// Package fusefs adapts a biblfs.Handler to the go-fuse raw protocol.
package fusefs

import (
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"biblfs/internal/biblfs"
)

// FileSystem is a fuse.RawFileSystem answering from a Handler. Calls it
// does not override get ENOSYS from the embedded default.
type FileSystem struct {
	fuse.RawFileSystem

	h *biblfs.Handler
}

var _ fuse.RawFileSystem = (*FileSystem)(nil)

// NewFileSystem wraps h.
func NewFileSystem(h *biblfs.Handler) *FileSystem {
	return &FileSystem{RawFileSystem: fuse.NewDefaultRawFileSystem(), h: h}
}

func (fs *FileSystem) String() string { return "biblfs" }

// record reports one operation. Call as defer fs.record(op, time.Now(), &errno).
func (fs *FileSystem) record(op string, start time.Time, errno *syscall.Errno) {
	fs.h.Metrics().RecordOperation(op, time.Since(start), *errno)
}

func status(errno syscall.Errno) fuse.Status {
	if errno == 0 {
		return fuse.OK
	}
	return fuse.Status(errno)
}

func newContext(cancel <-chan struct{}, header *fuse.InHeader) *fuse.Context {
	return &fuse.Context{Caller: header.Caller, Cancel: cancel}
}

func timeParts(t time.Time) (uint64, uint32) {
	if t.Unix() < 0 {
		return 0, 0
	}
	return uint64(t.Unix()), uint32(t.Nanosecond())
}

func fillAttr(out *fuse.Attr, a biblfs.Attr) {
	out.Ino = a.Ino
	out.Size = a.Size
	out.Blocks = a.Blocks
	out.Mode = a.Mode
	out.Nlink = a.Nlink
	out.Uid = a.UID
	out.Gid = a.GID
	out.Blksize = a.Blksize
	out.Atime, out.Atimensec = timeParts(a.Atime)
	out.Mtime, out.Mtimensec = timeParts(a.Mtime)
	out.Ctime, out.Ctimensec = timeParts(a.Ctime)
}

func (fs *FileSystem) fillEntry(out *fuse.EntryOut, a biblfs.Attr) {
	out.NodeId = a.Ino
	out.Generation = 0
	out.SetEntryTimeout(fs.h.TTL())
	out.SetAttrTimeout(fs.h.TTL())
	fillAttr(&out.Attr, a)
}

func (fs *FileSystem) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	var errno syscall.Errno
	defer fs.record("lookup", time.Now(), &errno)

	var attr biblfs.Attr
	attr, errno = fs.h.Lookup(newContext(cancel, header), header.NodeId, name)
	if errno != 0 {
		return status(errno)
	}
	fs.fillEntry(out, attr)
	return fuse.OK
}

func (fs *FileSystem) Forget(nodeid, nlookup uint64) {
	fs.h.Forget(nodeid, nlookup)
}

func (fs *FileSystem) GetAttr(cancel <-chan struct{}, in *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	var errno syscall.Errno
	defer fs.record("getattr", time.Now(), &errno)

	var attr biblfs.Attr
	attr, errno = fs.h.GetAttr(newContext(cancel, &in.InHeader), in.NodeId)
	if errno != 0 {
		return status(errno)
	}
	out.SetTimeout(fs.h.TTL())
	fillAttr(&out.Attr, attr)
	return fuse.OK
}

// setAttrRequest translates the FATTR_* valid mask. The file handle and
// lock owner bits carry no change.
func setAttrRequest(in *fuse.SetAttrIn) biblfs.SetAttrRequest {
	var req biblfs.SetAttrRequest
	valid := in.Valid
	if valid&fuse.FATTR_MTIME_NOW != 0 {
		req.Fields |= biblfs.SetMtimeNow
	} else if valid&fuse.FATTR_MTIME != 0 {
		req.Fields |= biblfs.SetMtime
		req.Mtime = time.Unix(int64(in.Mtime), int64(in.Mtimensec))
	}
	if valid&fuse.FATTR_CTIME != 0 {
		req.Fields |= biblfs.SetCtime
		req.Ctime = time.Unix(int64(in.Ctime), int64(in.Ctimensec))
	}

	const handled = fuse.FATTR_MTIME | fuse.FATTR_MTIME_NOW | fuse.FATTR_CTIME | fuse.FATTR_FH | fuse.FATTR_LOCKOWNER
	if valid&^uint32(handled) != 0 {
		req.Fields |= biblfs.SetOther
	}
	return req
}

func (fs *FileSystem) SetAttr(cancel <-chan struct{}, in *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	var errno syscall.Errno
	defer fs.record("setattr", time.Now(), &errno)

	var attr biblfs.Attr
	attr, errno = fs.h.SetAttr(newContext(cancel, &in.InHeader), in.NodeId, setAttrRequest(in))
	if errno != 0 {
		return status(errno)
	}
	out.SetTimeout(fs.h.TTL())
	fillAttr(&out.Attr, attr)
	return fuse.OK
}

func (fs *FileSystem) Open(cancel <-chan struct{}, in *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	var errno syscall.Errno
	defer fs.record("open", time.Now(), &errno)

	if in.Flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		errno = syscall.EROFS
		return status(errno)
	}

	var direct bool
	direct, errno = fs.h.Open(newContext(cancel, &in.InHeader), in.NodeId)
	if errno != 0 {
		return status(errno)
	}
	if direct {
		out.OpenFlags |= fuse.FOPEN_DIRECT_IO
	}
	return fuse.OK
}

func (fs *FileSystem) Read(cancel <-chan struct{}, in *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	var errno syscall.Errno
	defer fs.record("read", time.Now(), &errno)

	size := min(int(in.Size), len(buf))
	var data []byte
	data, errno = fs.h.Read(newContext(cancel, &in.InHeader), in.NodeId, int64(in.Offset), size)
	if errno != 0 {
		return nil, status(errno)
	}
	return fuse.ReadResultData(data), fuse.OK
}

func (fs *FileSystem) Release(cancel <-chan struct{}, in *fuse.ReleaseIn) {
	fs.h.Release(in.NodeId)
}

func (fs *FileSystem) OpenDir(cancel <-chan struct{}, in *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	var errno syscall.Errno
	defer fs.record("opendir", time.Now(), &errno)

	errno = fs.h.OpenDir(newContext(cancel, &in.InHeader), in.NodeId)
	return status(errno)
}

func (fs *FileSystem) ReadDir(cancel <-chan struct{}, in *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	var errno syscall.Errno
	defer fs.record("readdir", time.Now(), &errno)

	var entries []biblfs.DirEntry
	entries, errno = fs.h.ReadDir(newContext(cancel, &in.InHeader), in.NodeId, in.Offset)
	if errno != 0 {
		return status(errno)
	}
	for _, e := range entries {
		if !out.AddDirEntry(dirEntry(e)) {
			break
		}
	}
	return fuse.OK
}

func (fs *FileSystem) ReadDirPlus(cancel <-chan struct{}, in *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	var errno syscall.Errno
	defer fs.record("readdirplus", time.Now(), &errno)

	ctx := newContext(cancel, &in.InHeader)
	var entries []biblfs.DirEntry
	entries, errno = fs.h.ReadDir(ctx, in.NodeId, in.Offset)
	if errno != 0 {
		return status(errno)
	}
	for _, e := range entries {
		entry := out.AddDirLookupEntry(dirEntry(e))
		if entry == nil {
			break
		}
		// "." and ".." are not looked up; a zero node id tells the kernel so.
		if e.Name == "." || e.Name == ".." {
			continue
		}
		attr, aerr := fs.h.GetAttr(ctx, e.Ino)
		if aerr != 0 {
			continue
		}
		fs.fillEntry(entry, attr)
	}
	return fuse.OK
}

func dirEntry(e biblfs.DirEntry) fuse.DirEntry {
	return fuse.DirEntry{Name: e.Name, Ino: e.Ino, Mode: e.Mode, Off: e.Cookie}
}

func (fs *FileSystem) ReleaseDir(in *fuse.ReleaseIn) {}

func (fs *FileSystem) GetXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string, dest []byte) (uint32, fuse.Status) {
	var errno syscall.Errno
	defer fs.record("getxattr", time.Now(), &errno)

	var data []byte
	var n uint32
	data, n, errno = fs.h.GetXAttr(newContext(cancel, header), header.NodeId, attr, uint32(len(dest)))
	if errno != 0 {
		return 0, status(errno)
	}
	copy(dest, data)
	return n, fuse.OK
}

func (fs *FileSystem) ListXAttr(cancel <-chan struct{}, header *fuse.InHeader, dest []byte) (uint32, fuse.Status) {
	var errno syscall.Errno
	defer fs.record("listxattr", time.Now(), &errno)

	var data []byte
	var n uint32
	data, n, errno = fs.h.ListXAttr(newContext(cancel, header), header.NodeId, uint32(len(dest)))
	if errno != 0 {
		return 0, status(errno)
	}
	copy(dest, data)
	return n, fuse.OK
}

func (fs *FileSystem) SetXAttr(cancel <-chan struct{}, in *fuse.SetXAttrIn, attr string, data []byte) fuse.Status {
	var errno syscall.Errno
	defer fs.record("setxattr", time.Now(), &errno)

	errno = fs.h.SetXAttr(newContext(cancel, &in.InHeader), in.NodeId, attr, data, in.Flags)
	return status(errno)
}

func (fs *FileSystem) RemoveXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string) fuse.Status {
	var errno syscall.Errno
	defer fs.record("removexattr", time.Now(), &errno)

	errno = fs.h.RemoveXAttr(newContext(cancel, header), header.NodeId, attr)
	return status(errno)
}

func (fs *FileSystem) StatFs(cancel <-chan struct{}, header *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	var errno syscall.Errno
	defer fs.record("statfs", time.Now(), &errno)

	st := fs.h.StatFs()
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = st.Bsize
	out.NameLen = st.NameLen
	out.Frsize = st.Frsize
	return fuse.OK
}

func (fs *FileSystem) unsupported(op string, ino uint64) fuse.Status {
	errno := fs.h.Unsupported(op, ino)
	fs.h.Metrics().RecordOperation(op, 0, errno)
	return status(errno)
}

func (fs *FileSystem) Mknod(cancel <-chan struct{}, in *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
	return fs.unsupported("mknod", in.NodeId)
}

func (fs *FileSystem) Mkdir(cancel <-chan struct{}, in *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	return fs.unsupported("mkdir", in.NodeId)
}

func (fs *FileSystem) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	return fs.unsupported("unlink", header.NodeId)
}

func (fs *FileSystem) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	return fs.unsupported("rmdir", header.NodeId)
}

func (fs *FileSystem) Symlink(cancel <-chan struct{}, header *fuse.InHeader, pointedTo, linkName string, out *fuse.EntryOut) fuse.Status {
	return fs.unsupported("symlink", header.NodeId)
}

func (fs *FileSystem) Rename(cancel <-chan struct{}, in *fuse.RenameIn, oldName, newName string) fuse.Status {
	return fs.unsupported("rename", in.NodeId)
}

func (fs *FileSystem) Link(cancel <-chan struct{}, in *fuse.LinkIn, name string, out *fuse.EntryOut) fuse.Status {
	return fs.unsupported("link", in.NodeId)
}

func (fs *FileSystem) Create(cancel <-chan struct{}, in *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	return fs.unsupported("create", in.NodeId)
}

func (fs *FileSystem) Write(cancel <-chan struct{}, in *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	return 0, fs.unsupported("write", in.NodeId)
}

func (fs *FileSystem) Fallocate(cancel <-chan struct{}, in *fuse.FallocateIn) fuse.Status {
	return fs.unsupported("fallocate", in.NodeId)
}
