package fusefs

import (
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"biblfs/internal/biblfs"
	"biblfs/internal/testutil"
)

type recordedOp struct {
	op    string
	errno syscall.Errno
}

type recordingMetrics struct {
	mu    sync.Mutex
	ops   []recordedOp
	bytes int
}

func (m *recordingMetrics) RecordOperation(op string, _ time.Duration, errno syscall.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, recordedOp{op, errno})
}

func (m *recordingMetrics) RecordBytesRead(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes += n
}

func (m *recordingMetrics) RecordQueryExecution(time.Duration, bool) {}

func (m *recordingMetrics) last() recordedOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops[len(m.ops)-1]
}

type adapterFixture struct {
	*testutil.Fixture
	fs      *FileSystem
	metrics *recordingMetrics
	fileIno uint64
}

func newAdapterFixture(t *testing.T) *adapterFixture {
	t.Helper()

	f := testutil.NewTestFixture(t)
	doc := f.AddDocument("Annual report")
	f.AddFile(doc, "report.pdf", []byte("%PDF-1.7 annual report"))
	f.AddTag(doc, "history")

	idx, err := biblfs.BuildIndex(t.Context(), f.DB, nil)
	require.NoError(t, err)

	m := &recordingMetrics{}
	h := biblfs.NewHandler(f.DB, idx, biblfs.Options{
		TTL:      2 * time.Second,
		UID:      1000,
		GID:      100,
		OwnerSet: true,
		Clock:    f.Clock,
		Metrics:  m,
	})

	a := &adapterFixture{Fixture: f, fs: NewFileSystem(h), metrics: m}
	a.fileIno = a.lookup(t, biblfs.RootIno, "report.pdf").NodeId
	return a
}

func header(ino uint64) fuse.InHeader {
	return fuse.InHeader{NodeId: ino}
}

func (a *adapterFixture) lookup(t *testing.T, parent uint64, name string) fuse.EntryOut {
	t.Helper()
	h := header(parent)
	var out fuse.EntryOut
	require.Equal(t, fuse.OK, a.fs.Lookup(nil, &h, name, &out), "Lookup(%d, %q)", parent, name)
	return out
}

func TestFileSystem_Lookup(t *testing.T) {
	a := newAdapterFixture(t)

	out := a.lookup(t, biblfs.RootIno, "report.pdf")
	assert.Equal(t, uint64(22), out.Attr.Size)
	assert.Equal(t, uint32(syscall.S_IFREG|0o644), out.Attr.Mode)
	assert.Equal(t, uint32(1000), out.Attr.Uid)
	assert.Equal(t, uint32(100), out.Attr.Gid)
	assert.Equal(t, uint64(2), out.EntryValid)
	assert.Equal(t, uint64(2), out.AttrValid)
	assert.Equal(t, out.NodeId, out.Attr.Ino)
	assert.Equal(t, recordedOp{"lookup", 0}, a.metrics.last())

	t.Run("missing name", func(t *testing.T) {
		h := header(biblfs.RootIno)
		var out fuse.EntryOut
		assert.Equal(t, fuse.Status(syscall.ENOENT), a.fs.Lookup(nil, &h, "missing", &out))
		assert.Equal(t, recordedOp{"lookup", syscall.ENOENT}, a.metrics.last())
	})
}

func TestFileSystem_GetAttr(t *testing.T) {
	a := newAdapterFixture(t)

	in := fuse.GetAttrIn{InHeader: header(biblfs.TagRootIno)}
	var out fuse.AttrOut
	require.Equal(t, fuse.OK, a.fs.GetAttr(nil, &in, &out))
	assert.Equal(t, uint32(syscall.S_IFDIR|0o755), out.Attr.Mode)
	assert.Equal(t, uint32(2), out.Attr.Nlink)
	assert.Zero(t, out.Attr.Mtime)

	in = fuse.GetAttrIn{InHeader: header(a.fileIno)}
	require.Equal(t, fuse.OK, a.fs.GetAttr(nil, &in, &out))
	created := time.Date(2024, 1, 15, 10, 30, 1, 0, time.UTC)
	assert.Equal(t, uint64(created.Unix()), out.Attr.Ctime)
	assert.Equal(t, uint64(created.Unix()), out.Attr.Mtime)
}

func TestFileSystem_SetAttr(t *testing.T) {
	a := newAdapterFixture(t)
	mtime := time.Date(2030, 1, 2, 3, 4, 5, 6, time.UTC)

	in := fuse.SetAttrIn{SetAttrInCommon: fuse.SetAttrInCommon{
		InHeader:  header(a.fileIno),
		Valid:     fuse.FATTR_MTIME | fuse.FATTR_FH,
		Mtime:     uint64(mtime.Unix()),
		Mtimensec: uint32(mtime.Nanosecond()),
	}}
	var out fuse.AttrOut
	require.Equal(t, fuse.OK, a.fs.SetAttr(nil, &in, &out))
	assert.Equal(t, uint64(mtime.Unix()), out.Attr.Mtime)
	assert.Equal(t, uint32(6), out.Attr.Mtimensec)

	in.Valid = fuse.FATTR_MODE
	assert.Equal(t, fuse.Status(syscall.ENOTSUP), a.fs.SetAttr(nil, &in, &out))
	assert.Equal(t, recordedOp{"setattr", syscall.ENOTSUP}, a.metrics.last())
}

func TestSetAttrRequest(t *testing.T) {
	tests := []struct {
		name  string
		valid uint32
		want  biblfs.SetAttrField
	}{
		{name: "mtime", valid: fuse.FATTR_MTIME, want: biblfs.SetMtime},
		{name: "mtime now", valid: fuse.FATTR_MTIME | fuse.FATTR_MTIME_NOW, want: biblfs.SetMtimeNow},
		{name: "ctime", valid: fuse.FATTR_CTIME, want: biblfs.SetCtime},
		{name: "handle and lock owner ignored", valid: fuse.FATTR_FH | fuse.FATTR_LOCKOWNER, want: 0},
		{name: "size", valid: fuse.FATTR_SIZE, want: biblfs.SetOther},
		{name: "atime", valid: fuse.FATTR_ATIME | fuse.FATTR_MTIME, want: biblfs.SetMtime | biblfs.SetOther},
		{name: "owner", valid: fuse.FATTR_UID | fuse.FATTR_GID, want: biblfs.SetOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := fuse.SetAttrIn{SetAttrInCommon: fuse.SetAttrInCommon{Valid: tt.valid}}
			assert.Equal(t, tt.want, setAttrRequest(&in).Fields)
		})
	}
}

func TestFileSystem_OpenRead(t *testing.T) {
	a := newAdapterFixture(t)

	open := fuse.OpenIn{InHeader: header(a.fileIno), Flags: syscall.O_RDONLY}
	var openOut fuse.OpenOut
	require.Equal(t, fuse.OK, a.fs.Open(nil, &open, &openOut))
	assert.Zero(t, openOut.OpenFlags&fuse.FOPEN_DIRECT_IO)

	read := fuse.ReadIn{InHeader: header(a.fileIno), Offset: 9, Size: 6}
	buf := make([]byte, 6)
	res, st := a.fs.Read(nil, &read, buf)
	require.Equal(t, fuse.OK, st)
	data, st := res.Bytes(buf)
	require.Equal(t, fuse.OK, st)
	assert.Equal(t, "annual", string(data))
	assert.Equal(t, 6, a.metrics.bytes)

	t.Run("write access refused", func(t *testing.T) {
		open := fuse.OpenIn{InHeader: header(a.fileIno), Flags: syscall.O_RDWR}
		assert.Equal(t, fuse.Status(syscall.EROFS), a.fs.Open(nil, &open, &openOut))
	})

	t.Run("directory", func(t *testing.T) {
		open := fuse.OpenIn{InHeader: header(biblfs.RootIno)}
		assert.Equal(t, fuse.Status(syscall.EISDIR), a.fs.Open(nil, &open, &openOut))
	})

	t.Run("query results use direct io", func(t *testing.T) {
		dir := a.lookup(t, biblfs.QueryRootIno, "history")
		results := a.lookup(t, dir.NodeId, biblfs.QueryResultsName)

		open := fuse.OpenIn{InHeader: header(results.NodeId)}
		var out fuse.OpenOut
		require.Equal(t, fuse.OK, a.fs.Open(nil, &open, &out))
		assert.NotZero(t, out.OpenFlags&fuse.FOPEN_DIRECT_IO)
	})

	t.Run("past end", func(t *testing.T) {
		read := fuse.ReadIn{InHeader: header(a.fileIno), Offset: 100, Size: 6}
		_, st := a.fs.Read(nil, &read, buf)
		assert.Equal(t, fuse.Status(syscall.EINVAL), st)
	})
}

func TestFileSystem_ReadDir(t *testing.T) {
	a := newAdapterFixture(t)

	open := fuse.OpenIn{InHeader: header(biblfs.RootIno)}
	var openOut fuse.OpenOut
	require.Equal(t, fuse.OK, a.fs.OpenDir(nil, &open, &openOut))

	in := fuse.ReadIn{InHeader: header(biblfs.RootIno), Size: 4096}
	out := fuse.NewDirEntryList(make([]byte, 4096), 0)
	require.Equal(t, fuse.OK, a.fs.ReadDir(nil, &in, out))
	assert.Equal(t, recordedOp{"readdir", 0}, a.metrics.last())

	out = fuse.NewDirEntryList(make([]byte, 4096), 0)
	require.Equal(t, fuse.OK, a.fs.ReadDirPlus(nil, &in, out))
	assert.Equal(t, recordedOp{"readdirplus", 0}, a.metrics.last())

	in = fuse.ReadIn{InHeader: header(a.fileIno), Size: 4096}
	out = fuse.NewDirEntryList(make([]byte, 4096), 0)
	assert.Equal(t, fuse.Status(syscall.ENOTDIR), a.fs.ReadDir(nil, &in, out))
}

func TestFileSystem_XAttr(t *testing.T) {
	a := newAdapterFixture(t)
	h := header(a.fileIno)

	t.Run("size probe then read", func(t *testing.T) {
		n, st := a.fs.GetXAttr(nil, &h, biblfs.TagAttribute, nil)
		require.Equal(t, fuse.OK, st)
		assert.Equal(t, uint32(len("history\x00")), n)

		dest := make([]byte, n)
		n, st = a.fs.GetXAttr(nil, &h, biblfs.TagAttribute, dest)
		require.Equal(t, fuse.OK, st)
		assert.Equal(t, "history\x00", string(dest[:n]))

		_, st = a.fs.GetXAttr(nil, &h, biblfs.TagAttribute, make([]byte, 3))
		assert.Equal(t, fuse.Status(syscall.ERANGE), st)
	})

	t.Run("set list remove", func(t *testing.T) {
		in := fuse.SetXAttrIn{InHeader: h, Size: 1, Flags: unix.XATTR_CREATE}
		require.Equal(t, fuse.OK, a.fs.SetXAttr(nil, &in, "k", []byte("v")))
		assert.Equal(t, fuse.Status(syscall.EEXIST), a.fs.SetXAttr(nil, &in, "k", []byte("v")))

		dest := make([]byte, 64)
		n, st := a.fs.ListXAttr(nil, &h, dest)
		require.Equal(t, fuse.OK, st)
		assert.Equal(t, "tag\x00k\x00", string(dest[:n]))

		require.Equal(t, fuse.OK, a.fs.RemoveXAttr(nil, &h, "k"))
		assert.Equal(t, fuse.Status(syscall.ENODATA), a.fs.RemoveXAttr(nil, &h, "k"))
		assert.Equal(t, recordedOp{"removexattr", syscall.ENODATA}, a.metrics.last())
	})

	t.Run("directories carry no attributes", func(t *testing.T) {
		root := header(biblfs.RootIno)
		_, st := a.fs.GetXAttr(nil, &root, "k", make([]byte, 8))
		assert.Equal(t, fuse.Status(syscall.ENODATA), st)

		in := fuse.SetXAttrIn{InHeader: root}
		assert.Equal(t, fuse.Status(syscall.ENOTSUP), a.fs.SetXAttr(nil, &in, "k", []byte("v")))
	})
}

func TestFileSystem_StatFs(t *testing.T) {
	a := newAdapterFixture(t)

	h := header(biblfs.RootIno)
	var out fuse.StatfsOut
	require.Equal(t, fuse.OK, a.fs.StatFs(nil, &h, &out))
	assert.Zero(t, out.Blocks)
	assert.Equal(t, uint32(512), out.Bsize)
	assert.Equal(t, uint32(255), out.NameLen)
	assert.Equal(t, uint64(7), out.Files)
}

func TestFileSystem_Unsupported(t *testing.T) {
	a := newAdapterFixture(t)
	root := header(biblfs.RootIno)

	var entry fuse.EntryOut
	assert.Equal(t, fuse.Status(syscall.ENOSYS), a.fs.Mkdir(nil, &fuse.MkdirIn{InHeader: root}, "new", &entry))
	assert.Equal(t, recordedOp{"mkdir", syscall.ENOSYS}, a.metrics.last())
	assert.Equal(t, fuse.Status(syscall.ENOSYS), a.fs.Unlink(nil, &root, "report.pdf"))
	assert.Equal(t, fuse.Status(syscall.ENOSYS), a.fs.Rmdir(nil, &root, "tags"))
	assert.Equal(t, fuse.Status(syscall.ENOSYS), a.fs.Rename(nil, &fuse.RenameIn{InHeader: root}, "a", "b"))
	assert.Equal(t, fuse.Status(syscall.ENOSYS), a.fs.Symlink(nil, &root, "target", "link", &entry))

	var created fuse.CreateOut
	assert.Equal(t, fuse.Status(syscall.ENOSYS), a.fs.Create(nil, &fuse.CreateIn{InHeader: root}, "new", &created))

	_, st := a.fs.Write(nil, &fuse.WriteIn{InHeader: header(a.fileIno)}, []byte("x"))
	assert.Equal(t, fuse.Status(syscall.ENOSYS), st)
}

func TestMountOptions(t *testing.T) {
	opts := mountOptions(Options{AllowOther: true})
	assert.Equal(t, DefaultFsName, opts.FsName)
	assert.Equal(t, "biblfs", opts.Name)
	assert.True(t, opts.AllowOther)

	opts = mountOptions(Options{FsName: "library", Debug: true})
	assert.Equal(t, "library", opts.FsName)
	assert.True(t, opts.Debug)
}

func TestMount_RequiresDirectory(t *testing.T) {
	_, err := Mount(nil, Options{})
	assert.ErrorContains(t, err, "mount point is required")

	_, err = Mount(nil, Options{MountPoint: t.TempDir() + "/missing"})
	assert.Error(t, err)
}
