package biblfs

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"biblfs/internal/metrics"
)

// Options configures a Handler. Zero values select the defaults.
type Options struct {
	// TTL is the entry and attribute timeout handed to the kernel.
	TTL time.Duration

	// UID and GID own every inode. Zero means the effective uid and real gid
	// of the process; set OwnerSet to use literal zeros.
	UID, GID uint32
	OwnerSet bool

	// FileMode is the permission bits of files.
	FileMode uint32

	// NeverReplaceCommonTags refuses setxattr overwrites of text-metadata
	// rows that other documents share.
	NeverReplaceCommonTags bool

	// DefaultQuery, when set, appears as query.sql and results.txt at the root.
	DefaultQuery *Query

	Logger  Logger
	Clock   Clock
	Metrics metrics.FSMetrics
}

// Handler answers kernel filesystem requests against an Index and the
// store. Every method holds the handler lock for its duration, so requests
// are processed one at a time. Methods return 0 on success.
type Handler struct {
	mu   sync.Mutex
	db   Database
	idx  *Index
	opts Options
}

// NewHandler creates a handler over a built index.
func NewHandler(db Database, idx *Index, opts Options) *Handler {
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if !opts.OwnerSet {
		opts.UID = uint32(os.Geteuid())
		opts.GID = uint32(os.Getgid())
	}
	if opts.FileMode == 0 {
		opts.FileMode = DefaultFileMode
	}
	if opts.Logger == nil {
		opts.Logger = NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopFSMetrics()
	}
	if opts.DefaultQuery != nil {
		idx.SetDefaultQuery(*opts.DefaultQuery)
	}
	return &Handler{db: db, idx: idx, opts: opts}
}

// TTL is the cache timeout for entries and attributes.
func (h *Handler) TTL() time.Duration { return h.opts.TTL }

// Metrics returns the collector requests are recorded on.
func (h *Handler) Metrics() metrics.FSMetrics { return h.opts.Metrics }

// Lookup resolves name inside the directory parent.
func (h *Handler) Lookup(ctx context.Context, parent uint64, name string) (Attr, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.idx.Node(parent)
	if !ok {
		return Attr{}, syscall.ENOENT
	}

	switch n.Kind {
	case KindRoot:
		switch name {
		case TagDirName:
			return h.dirAttr(TagRootIno), 0
		case QueryDirName:
			return h.dirAttr(QueryRootIno), 0
		}
		if d := h.idx.DefaultQuery(); d != nil {
			switch name {
			case QuerySQLName:
				return h.attrOf(ctx, Node{Ino: d.SQLIno, Kind: KindQuerySQL, Query: d})
			case QueryResultsName:
				return h.attrOf(ctx, Node{Ino: d.ResultsIno, Kind: KindQueryResults, Query: d})
			}
		}
		if f, ok := h.idx.FileByName(name); ok {
			return h.fileAttr(f), 0
		}
		return Attr{}, syscall.ENOENT

	case KindTagRoot:
		if t, ok := h.idx.Tag(name); ok {
			return h.dirAttr(t.Ino), 0
		}
		return Attr{}, syscall.ENOENT

	case KindQueryRoot:
		if !validName(name) {
			return Attr{}, syscall.ENOENT
		}
		d := h.idx.QueryDir(name)
		d.Reset()
		h.opts.Logger.Debug("query directory looked up", "query", name, "ino", d.Ino)
		return h.dirAttr(d.Ino), 0

	case KindTag:
		files, errno := h.tagFiles(ctx, n.Tag)
		if errno != 0 {
			return Attr{}, errno
		}
		return h.lookupAmong(files, name)

	case KindQuery:
		switch name {
		case QuerySQLName:
			return h.attrOf(ctx, Node{Ino: n.Query.SQLIno, Kind: KindQuerySQL, Query: n.Query})
		case QueryResultsName:
			return h.attrOf(ctx, Node{Ino: n.Query.ResultsIno, Kind: KindQueryResults, Query: n.Query})
		}
		return h.lookupAmong(h.queryFiles(ctx, n.Query), name)
	}

	return Attr{}, syscall.ENOTDIR
}

func (h *Handler) lookupAmong(files []*File, name string) (Attr, syscall.Errno) {
	for _, f := range files {
		if f.Name == name {
			return h.fileAttr(f), 0
		}
	}
	return Attr{}, syscall.ENOENT
}

// GetAttr returns the attributes of ino.
func (h *Handler) GetAttr(ctx context.Context, ino uint64) (Attr, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.idx.Node(ino)
	if !ok {
		return Attr{}, syscall.ENOENT
	}
	return h.attrOf(ctx, n)
}

func (h *Handler) attrOf(ctx context.Context, n Node) (Attr, syscall.Errno) {
	switch n.Kind {
	case KindFile:
		return h.fileAttr(n.File), 0
	case KindQuerySQL:
		return h.regularAttr(n.Ino, len(n.Query.SQLText()), epoch, epoch), 0
	case KindQueryResults:
		n.Query.ensure(ctx, h.db, h.opts.Metrics, h.opts.Logger)
		return h.regularAttr(n.Ino, len(n.Query.ResultsText()), epoch, epoch), 0
	}
	if n.Kind.IsDir() {
		return h.dirAttr(n.Ino), 0
	}
	return Attr{}, syscall.ENOENT
}

// SetAttrField selects the attributes a SetAttr request changes.
type SetAttrField uint32

const (
	SetMtime SetAttrField = 1 << iota
	SetMtimeNow
	SetCtime
	// SetOther marks any field besides the modification and change times.
	SetOther
)

// SetAttrRequest carries a setattr(2) style change.
type SetAttrRequest struct {
	Fields SetAttrField
	Mtime  time.Time
	Ctime  time.Time
}

// SetAttr changes the in-memory modification or change time of a file.
// Any other field is refused with ENOTSUP.
func (h *Handler) SetAttr(ctx context.Context, ino uint64, req SetAttrRequest) (Attr, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.idx.Node(ino)
	if !ok {
		return Attr{}, syscall.ENOENT
	}
	if n.Kind != KindFile || req.Fields&SetOther != 0 {
		h.opts.Logger.Debug("setattr refused", "ino", ino, "kind", n.Kind.String(), "fields", uint32(req.Fields))
		return Attr{}, syscall.ENOTSUP
	}

	f := n.File
	switch {
	case req.Fields&SetMtimeNow != 0:
		f.Mtime = h.opts.Clock.Now().UTC()
	case req.Fields&SetMtime != 0:
		f.Mtime = req.Mtime.UTC()
	}
	if req.Fields&SetCtime != 0 {
		f.Ctime = req.Ctime.UTC()
	}
	return h.fileAttr(f), 0
}

// Open checks that ino can be opened for reading. directIO is set for the
// synthetic query files, whose size may change between reads.
func (h *Handler) Open(ctx context.Context, ino uint64) (directIO bool, errno syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.idx.Node(ino)
	if !ok {
		return false, syscall.ENOENT
	}
	switch n.Kind {
	case KindFile:
		return false, 0
	case KindQuerySQL, KindQueryResults:
		return true, 0
	}
	return false, syscall.EISDIR
}

// Release is called when the last handle of an open file is closed.
func (h *Handler) Release(ino uint64) {
	h.opts.Logger.Debug("release", "ino", ino)
}

// OpenDir checks that ino is a directory.
func (h *Handler) OpenDir(ctx context.Context, ino uint64) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.idx.Node(ino)
	if !ok {
		return syscall.ENOENT
	}
	if !n.Kind.IsDir() {
		return syscall.ENOTDIR
	}
	return 0
}

// Read returns up to size bytes of ino starting at offset.
func (h *Handler) Read(ctx context.Context, ino uint64, offset int64, size int) ([]byte, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.idx.Node(ino)
	if !ok {
		return nil, syscall.ENOENT
	}
	if offset < 0 {
		return nil, syscall.EINVAL
	}

	var data []byte
	switch n.Kind {
	case KindFile:
		b, err := h.db.ReadFileRange(ctx, n.File.RowID, offset, size)
		if err != nil {
			if errors.Is(err, ErrOffsetOutOfRange) {
				return nil, syscall.EINVAL
			}
			h.opts.Logger.Error("reading file", "ino", ino, "file", n.File.ID.String(), "error", err)
			return nil, syscall.EIO
		}
		data = b
	case KindQuerySQL:
		data = sliceAt(n.Query.SQLText(), offset, size)
	case KindQueryResults:
		n.Query.ensure(ctx, h.db, h.opts.Metrics, h.opts.Logger)
		data = sliceAt(n.Query.ResultsText(), offset, size)
	default:
		return nil, syscall.EISDIR
	}

	h.opts.Metrics.RecordBytesRead(len(data))
	return data, 0
}

func sliceAt(b []byte, offset int64, size int) []byte {
	if offset >= int64(len(b)) {
		return nil
	}
	end := offset + int64(size)
	if end > int64(len(b)) {
		end = int64(len(b))
	}
	return b[offset:end]
}

// ReadDir lists the directory ino, returning the entries whose cookie is
// greater than offset.
func (h *Handler) ReadDir(ctx context.Context, ino uint64, offset uint64) ([]DirEntry, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.idx.Node(ino)
	if !ok {
		return nil, syscall.ENOENT
	}
	if !n.Kind.IsDir() {
		return nil, syscall.ENOTDIR
	}

	entries, errno := h.entries(ctx, n)
	if errno != 0 {
		return nil, errno
	}
	for i := range entries {
		entries[i].Cookie = uint64(i + 1)
	}
	if offset >= uint64(len(entries)) {
		return nil, 0
	}
	return entries[offset:], 0
}

func dirEntry(name string, ino uint64) DirEntry {
	return DirEntry{Name: name, Ino: ino, Mode: syscall.S_IFDIR}
}

func fileEntry(name string, ino uint64) DirEntry {
	return DirEntry{Name: name, Ino: ino, Mode: syscall.S_IFREG}
}

func filesEntries(out []DirEntry, files []*File) []DirEntry {
	for _, f := range files {
		out = append(out, fileEntry(f.Name, f.Ino))
	}
	return out
}

// entries builds the stable listing of a directory, "." and ".." first.
func (h *Handler) entries(ctx context.Context, n Node) ([]DirEntry, syscall.Errno) {
	switch n.Kind {
	case KindRoot:
		out := []DirEntry{
			dirEntry(".", RootIno),
			dirEntry("..", RootIno),
			dirEntry(TagDirName, TagRootIno),
			dirEntry(QueryDirName, QueryRootIno),
		}
		if d := h.idx.DefaultQuery(); d != nil {
			out = append(out, fileEntry(QuerySQLName, d.SQLIno), fileEntry(QueryResultsName, d.ResultsIno))
		}
		return filesEntries(out, h.idx.Files()), 0

	case KindTagRoot:
		out := []DirEntry{dirEntry(".", TagRootIno), dirEntry("..", RootIno)}
		for _, t := range h.idx.Tags() {
			out = append(out, dirEntry(t.Name, t.Ino))
		}
		return out, 0

	case KindQueryRoot:
		out := []DirEntry{dirEntry(".", QueryRootIno), dirEntry("..", RootIno)}
		for _, d := range h.idx.QueryDirs() {
			out = append(out, dirEntry(d.Query.AsRef(), d.Ino))
		}
		return out, 0

	case KindTag:
		files, errno := h.tagFiles(ctx, n.Tag)
		if errno != 0 {
			return nil, errno
		}
		out := []DirEntry{dirEntry(".", n.Ino), dirEntry("..", TagRootIno)}
		return filesEntries(out, files), 0

	case KindQuery:
		out := []DirEntry{
			dirEntry(".", n.Ino),
			dirEntry("..", QueryRootIno),
			fileEntry(QuerySQLName, n.Query.SQLIno),
			fileEntry(QueryResultsName, n.Query.ResultsIno),
		}
		return filesEntries(out, h.queryFiles(ctx, n.Query)), 0
	}
	return nil, syscall.ENOTDIR
}

// tagFiles resolves tag membership in the store; it is not kept in the index.
func (h *Handler) tagFiles(ctx context.Context, t *Tag) ([]*File, syscall.Errno) {
	docs, err := h.db.DocumentsWithTag(ctx, t.Name)
	if err != nil {
		h.opts.Logger.Error("resolving tag members", "tag", t.Name, "error", err)
		return nil, syscall.EIO
	}
	files := h.idx.FilesOf(docs)
	sort.Slice(files, func(i, j int) bool { return files[i].Ino < files[j].Ino })
	return files, 0
}

// queryFiles executes the query if needed and returns the files of the
// matching documents in result order. A failed query has no files.
func (h *Handler) queryFiles(ctx context.Context, d *QueryDir) []*File {
	d.ensure(ctx, h.db, h.opts.Metrics, h.opts.Logger)
	results, err := d.Results()
	if err != nil {
		return nil
	}
	return h.idx.FilesOf(results)
}

// StatFs reports an empty volume; content lives in the store.
func (h *Handler) StatFs() StatFs {
	h.mu.Lock()
	defer h.mu.Unlock()

	return StatFs{
		Files:   h.idx.InodeCount(),
		Bsize:   blockSize,
		NameLen: nameMax,
		Frsize:  blockSize,
	}
}

// Forget is a no-op: inodes are never reclaimed.
func (h *Handler) Forget(ino, nlookup uint64) {}

// Unsupported answers a structural or write request.
func (h *Handler) Unsupported(op string, ino uint64) syscall.Errno {
	h.opts.Logger.Debug("unsupported operation", "op", op, "ino", ino)
	return syscall.ENOSYS
}
