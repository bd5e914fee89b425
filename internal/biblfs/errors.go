package biblfs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAttributeExists is returned when creating an attribute that exists.
	ErrAttributeExists = errors.New("attribute already exists")

	// ErrNoAttribute is returned when the named attribute does not exist.
	ErrNoAttribute = errors.New("no such attribute")

	// ErrOffsetOutOfRange is returned for reads starting past the end of a blob.
	ErrOffsetOutOfRange = errors.New("offset beyond end of file")
)

// SharedAttributeError reports a refused overwrite of a text-metadata row
// that other documents also reference.
type SharedAttributeError struct {
	Name string
	// Documents are display titles of the other referencing documents.
	Documents []string
}

func (e *SharedAttributeError) Error() string {
	return fmt.Sprintf("attribute %q is shared with %s", e.Name, strings.Join(e.Documents, ", "))
}
