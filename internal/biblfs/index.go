package biblfs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"biblfs/internal/model"
)

// Well-known inodes. Their meaning never changes for the life of a mount.
const (
	RootIno                uint64 = 1
	TagRootIno             uint64 = 2
	QueryRootIno           uint64 = 3
	DefaultQuerySQLIno     uint64 = 4
	DefaultQueryResultsIno uint64 = 5

	firstDynamicIno uint64 = 6
)

// Names of the fixed namespace entries.
const (
	TagDirName       = "tags"
	QueryDirName     = "query"
	QuerySQLName     = "query.sql"
	QueryResultsName = "results.txt"
)

// NodeKind classifies an inode.
type NodeKind int

const (
	KindRoot NodeKind = iota + 1
	KindTagRoot
	KindQueryRoot
	KindTag
	KindFile
	KindQuery
	KindQuerySQL
	KindQueryResults
)

// IsDir reports whether inodes of this kind are directories.
func (k NodeKind) IsDir() bool {
	switch k {
	case KindRoot, KindTagRoot, KindQueryRoot, KindTag, KindQuery:
		return true
	}
	return false
}

func (k NodeKind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindTagRoot:
		return "tag-root"
	case KindQueryRoot:
		return "query-root"
	case KindTag:
		return "tag"
	case KindFile:
		return "file"
	case KindQuery:
		return "query"
	case KindQuerySQL:
		return "query-sql"
	case KindQueryResults:
		return "query-results"
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// Node is what an inode resolves to. Exactly one of File, Tag and Query is
// set for the kinds that carry an entity; query files point at their directory.
type Node struct {
	Ino   uint64
	Kind  NodeKind
	File  *File
	Tag   *Tag
	Query *QueryDir
}

// File is a scanned binary-metadata row with its inode. Mtime and Ctime
// start from the row and may be changed in memory by setattr.
type File struct {
	model.File
	Ino   uint64
	Mtime time.Time
	Ctime time.Time
}

// Tag is one distinct tag string. Several text-metadata rows may carry it.
type Tag struct {
	Name string
	IDs  []model.TagID
	Ino  uint64
}

// Index maps inodes to entities and names back to inodes. It is built once
// before mounting and only grows afterwards. Index is not safe for
// concurrent use; Handler serializes access.
type Index struct {
	nodes   map[uint64]Node
	nextIno uint64

	documents map[model.DocumentID]*model.Document

	files       []*File // inode order
	filesByName map[string]*File
	filesByDoc  map[model.DocumentID][]*File

	tagsByName map[string]*Tag

	queries      map[string]*QueryDir
	queryOrder   []*QueryDir
	defaultQuery *QueryDir

	logger Logger
}

// NewIndex returns an index holding only the fixed directories.
func NewIndex(logger Logger) *Index {
	if logger == nil {
		logger = NewNopLogger()
	}
	idx := &Index{
		nodes:       make(map[uint64]Node),
		nextIno:     firstDynamicIno,
		documents:   make(map[model.DocumentID]*model.Document),
		filesByName: make(map[string]*File),
		filesByDoc:  make(map[model.DocumentID][]*File),
		tagsByName:  make(map[string]*Tag),
		queries:     make(map[string]*QueryDir),
		logger:      logger,
	}
	idx.nodes[RootIno] = Node{Ino: RootIno, Kind: KindRoot}
	idx.nodes[TagRootIno] = Node{Ino: TagRootIno, Kind: KindTagRoot}
	idx.nodes[QueryRootIno] = Node{Ino: QueryRootIno, Kind: KindQueryRoot}
	return idx
}

// BuildIndex scans tags, documents and files, in that order. The returned
// index is complete; nothing is published on error.
func BuildIndex(ctx context.Context, db Database, logger Logger) (*Index, error) {
	idx := NewIndex(logger)

	tags, err := db.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning tags: %w", err)
	}
	for _, t := range tags {
		if tag := idx.AddTag(t.Data); tag != nil {
			tag.IDs = append(tag.IDs, t.ID)
		}
	}

	docs, err := db.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning documents: %w", err)
	}
	for _, d := range docs {
		idx.documents[d.ID] = d
	}

	files, err := db.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning files: %w", err)
	}
	for _, f := range files {
		idx.addFile(f)
	}

	idx.logger.Info("index built",
		"tags", len(idx.tagsByName),
		"documents", len(idx.documents),
		"files", len(idx.files))
	return idx, nil
}

func (idx *Index) allocate() uint64 {
	ino := idx.nextIno
	idx.nextIno++
	return ino
}

// validName rejects names that cannot be a single path component.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsRune(name, '/') && !strings.ContainsRune(name, 0)
}

func (idx *Index) addFile(mf *model.File) *File {
	if !validName(mf.Name) {
		idx.logger.Warn("skipping file with unusable name", "file", mf.ID.String(), "name", mf.Name)
		return nil
	}
	f := &File{
		File:  *mf,
		Ino:   idx.allocate(),
		Mtime: mf.LastModified.Time,
		Ctime: mf.Created.Time,
	}
	idx.nodes[f.Ino] = Node{Ino: f.Ino, Kind: KindFile, File: f}
	idx.files = append(idx.files, f)
	idx.filesByDoc[f.DocumentID] = append(idx.filesByDoc[f.DocumentID], f)

	if first, dup := idx.filesByName[f.Name]; dup {
		idx.logger.Warn("duplicate file name, lookup resolves to the first",
			"name", f.Name, "ino", f.Ino, "first_ino", first.Ino)
	} else {
		idx.filesByName[f.Name] = f
	}
	if f.Name == TagDirName || f.Name == QueryDirName {
		idx.logger.Warn("file name shadowed by a fixed directory", "name", f.Name, "ino", f.Ino)
	}
	return f
}

// AddTag returns the tag for name, allocating an inode the first time the
// string is seen. It returns nil for names that cannot be a directory.
func (idx *Index) AddTag(name string) *Tag {
	if t, ok := idx.tagsByName[name]; ok {
		return t
	}
	if !validName(name) {
		idx.logger.Warn("skipping tag with unusable name", "tag", name)
		return nil
	}
	t := &Tag{Name: name, Ino: idx.allocate()}
	idx.nodes[t.Ino] = Node{Ino: t.Ino, Kind: KindTag, Tag: t}
	idx.tagsByName[name] = t
	return t
}

// QueryDir returns the directory for a search phrase, creating it and its
// two files on first use.
func (idx *Index) QueryDir(phrase string) *QueryDir {
	if d, ok := idx.queries[phrase]; ok {
		return d
	}
	d := &QueryDir{
		Query:      FullTextQuery(phrase),
		Ino:        idx.allocate(),
		SQLIno:     idx.allocate(),
		ResultsIno: idx.allocate(),
	}
	idx.nodes[d.Ino] = Node{Ino: d.Ino, Kind: KindQuery, Query: d}
	idx.nodes[d.SQLIno] = Node{Ino: d.SQLIno, Kind: KindQuerySQL, Query: d}
	idx.nodes[d.ResultsIno] = Node{Ino: d.ResultsIno, Kind: KindQueryResults, Query: d}
	idx.queries[phrase] = d
	idx.queryOrder = append(idx.queryOrder, d)
	return d
}

// SetDefaultQuery exposes q as query.sql and results.txt at the root on the
// fixed inodes. Call before mounting.
func (idx *Index) SetDefaultQuery(q Query) *QueryDir {
	d := &QueryDir{
		Query:      q,
		SQLIno:     DefaultQuerySQLIno,
		ResultsIno: DefaultQueryResultsIno,
	}
	idx.nodes[DefaultQuerySQLIno] = Node{Ino: DefaultQuerySQLIno, Kind: KindQuerySQL, Query: d}
	idx.nodes[DefaultQueryResultsIno] = Node{Ino: DefaultQueryResultsIno, Kind: KindQueryResults, Query: d}
	idx.defaultQuery = d
	return d
}

// DefaultQuery returns the root-level query, or nil.
func (idx *Index) DefaultQuery() *QueryDir { return idx.defaultQuery }

// Node resolves an inode.
func (idx *Index) Node(ino uint64) (Node, bool) {
	n, ok := idx.nodes[ino]
	return n, ok
}

// FileByName resolves a name against every file. Duplicates resolve to the
// first scanned.
func (idx *Index) FileByName(name string) (*File, bool) {
	f, ok := idx.filesByName[name]
	return f, ok
}

// Files returns every file in inode order.
func (idx *Index) Files() []*File { return idx.files }

// FilesOf returns the files of the given documents, in document order and
// inode order within a document.
func (idx *Index) FilesOf(docs []model.DocumentID) []*File {
	var out []*File
	seen := make(map[model.DocumentID]bool, len(docs))
	for _, d := range docs {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, idx.filesByDoc[d]...)
	}
	return out
}

// Document returns a scanned document.
func (idx *Index) Document(id model.DocumentID) (*model.Document, bool) {
	d, ok := idx.documents[id]
	return d, ok
}

// Tag resolves a tag string.
func (idx *Index) Tag(name string) (*Tag, bool) {
	t, ok := idx.tagsByName[name]
	return t, ok
}

// Tags returns every tag sorted by name.
func (idx *Index) Tags() []*Tag {
	out := make([]*Tag, 0, len(idx.tagsByName))
	for _, t := range idx.tagsByName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// QueryDirs returns the known query directories in creation order.
func (idx *Index) QueryDirs() []*QueryDir { return idx.queryOrder }

// InodeCount is the number of inodes allocated so far, fixed ones included.
func (idx *Index) InodeCount() uint64 { return idx.nextIno - 1 }
