package biblfs

import (
	"context"

	"biblfs/internal/model"
)

// Database is the relational store the filesystem projects.
// Not-found lookups return empty results rather than errors.
type Database interface {
	// Mount-time scans

	// ListTags returns every text-metadata row named "tag".
	ListTags(ctx context.Context) ([]*model.TextMetadata, error)

	// ListDocuments returns every document.
	ListDocuments(ctx context.Context) ([]*model.Document, error)

	// ListFiles returns every binary-metadata row linked as "storage" whose
	// name is JSON carrying a filename.
	ListFiles(ctx context.Context) ([]*model.File, error)

	// Content

	// DocumentsWithTag returns the distinct documents carrying the tag string.
	DocumentsWithTag(ctx context.Context, tag string) ([]model.DocumentID, error)

	// ReadFileRange reads up to size bytes of a blob starting at offset.
	// Reading at the end of the blob yields no bytes; past it is ErrOffsetOutOfRange.
	ReadFileRange(ctx context.Context, rowID int64, offset int64, size int) ([]byte, error)

	// RunQuery executes a statement whose first column is a document uuid.
	RunQuery(ctx context.Context, statement string, args ...any) ([]model.DocumentID, error)

	// Extended attributes. Attributes of a file are the text metadata of
	// the document owning it.

	// GetXAttr returns every value of the named attribute, oldest link first.
	GetXAttr(ctx context.Context, file *model.File, name string) ([]string, error)

	// ListXAttr returns the distinct attribute names, oldest first.
	ListXAttr(ctx context.Context, file *model.File) ([]string, error)

	// SetXAttr creates or overwrites an attribute in one transaction.
	// It returns ErrAttributeExists, ErrNoAttribute or *SharedAttributeError
	// when the request conflicts with the current state.
	SetXAttr(ctx context.Context, file *model.File, name, value string, opts SetXAttrOptions) error

	// RemoveXAttr unlinks the attribute and deletes rows nobody else references.
	// It returns ErrNoAttribute when the attribute does not exist.
	RemoveXAttr(ctx context.Context, file *model.File, name string) error

	// Close releases the underlying connection.
	Close() error
}

// SetXAttrMode mirrors the create/replace exclusivity flags of setxattr(2).
type SetXAttrMode int

const (
	SetAny SetXAttrMode = iota
	SetCreate
	SetReplace
)

// SetXAttrOptions controls how SetXAttr treats an existing attribute.
type SetXAttrOptions struct {
	Mode SetXAttrMode

	// NeverReplaceShared refuses to overwrite a text-metadata row that other
	// documents still reference.
	NeverReplaceShared bool
}
