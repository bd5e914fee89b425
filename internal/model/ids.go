package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// The store keeps every identifier as 32 lowercase hex digits without
// hyphens. String renders the canonical hyphenated form used in listings.

// DocumentID identifies a row in Documents.
type DocumentID uuid.UUID

// FileID identifies a BinaryMetadata row surfaced as a file.
type FileID uuid.UUID

// TextMetadataID identifies a TextMetadata row.
type TextMetadataID uuid.UUID

// TagID is the identity of a text-metadata row named "tag".
type TagID = TextMetadataID

func ParseDocumentID(s string) (DocumentID, error) {
	u, err := uuid.Parse(s)
	return DocumentID(u), err
}

func ParseFileID(s string) (FileID, error) {
	u, err := uuid.Parse(s)
	return FileID(u), err
}

func ParseTextMetadataID(s string) (TextMetadataID, error) {
	u, err := uuid.Parse(s)
	return TextMetadataID(u), err
}

func (id DocumentID) String() string               { return uuid.UUID(id).String() }
func (id DocumentID) Hex() string                  { return hex.EncodeToString(id[:]) }
func (id DocumentID) IsZero() bool                 { return id == DocumentID{} }
func (id DocumentID) Compare(other DocumentID) int { return bytes.Compare(id[:], other[:]) }
func (id *DocumentID) Scan(src any) error          { return scanID((*uuid.UUID)(id), src) }
func (id DocumentID) Value() (driver.Value, error) { return id.Hex(), nil }

func (id FileID) String() string               { return uuid.UUID(id).String() }
func (id FileID) Hex() string                  { return hex.EncodeToString(id[:]) }
func (id FileID) IsZero() bool                 { return id == FileID{} }
func (id FileID) Compare(other FileID) int     { return bytes.Compare(id[:], other[:]) }
func (id *FileID) Scan(src any) error          { return scanID((*uuid.UUID)(id), src) }
func (id FileID) Value() (driver.Value, error) { return id.Hex(), nil }

func (id TextMetadataID) String() string                   { return uuid.UUID(id).String() }
func (id TextMetadataID) Hex() string                      { return hex.EncodeToString(id[:]) }
func (id TextMetadataID) IsZero() bool                     { return id == TextMetadataID{} }
func (id TextMetadataID) Compare(other TextMetadataID) int { return bytes.Compare(id[:], other[:]) }
func (id *TextMetadataID) Scan(src any) error              { return scanID((*uuid.UUID)(id), src) }
func (id TextMetadataID) Value() (driver.Value, error)     { return id.Hex(), nil }

// scanID accepts the hyphenless store form as well as the canonical form.
func scanID(dst *uuid.UUID, src any) error {
	var (
		u   uuid.UUID
		err error
	)
	switch v := src.(type) {
	case string:
		u, err = uuid.Parse(v)
	case []byte:
		u, err = uuid.ParseBytes(v)
	case nil:
		return fmt.Errorf("scanning identifier: unexpected NULL")
	default:
		return fmt.Errorf("scanning identifier: unsupported type %T", src)
	}
	if err != nil {
		return fmt.Errorf("scanning identifier: %w", err)
	}
	*dst = u
	return nil
}
