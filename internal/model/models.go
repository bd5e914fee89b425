package model

import "fmt"

// Document is a row of Documents. Documents are not addressable in the
// filesystem themselves; they own the files and tags that are.
type Document struct {
	ID           DocumentID
	Title        string
	TitleSuffix  string // empty when NULL
	Created      CreatedTime
	LastModified LastModifiedTime
}

// DisplayTitle renders "Title (suffix) [uuid]" for diagnostics.
func (d *Document) DisplayTitle() string {
	if d.TitleSuffix != "" {
		return fmt.Sprintf("%s (%s) [%s]", d.Title, d.TitleSuffix, d.ID)
	}
	return fmt.Sprintf("%s [%s]", d.Title, d.ID)
}

// File is a BinaryMetadata row linked to a document as "storage".
type File struct {
	ID           FileID
	RowID        int64 // BinaryMetadata rowid, used for ranged reads
	Name         string
	Size         int64
	DocumentID   DocumentID
	Created      CreatedTime
	LastModified LastModifiedTime
}

// TextMetadata is a named text value. Rows named "tag" are tags.
type TextMetadata struct {
	ID           TextMetadataID
	Name         string
	Data         string
	Created      CreatedTime
	LastModified LastModifiedTime
}
