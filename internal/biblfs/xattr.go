package biblfs

import (
	"bytes"
	"context"
	"errors"
	"syscall"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

// TagAttribute is the attribute name under which tags are stored.
const TagAttribute = "tag"

// probe implements the xattr size protocol: size 0 asks for the length,
// a buffer too small for data is ERANGE.
func probe(data []byte, size uint32) ([]byte, uint32, syscall.Errno) {
	if size == 0 {
		return nil, uint32(len(data)), 0
	}
	if uint32(len(data)) > size {
		return nil, 0, syscall.ERANGE
	}
	return data, uint32(len(data)), 0
}

// xattrFile resolves an inode for attribute access. ok is false when the
// inode exists but carries no attributes.
func (h *Handler) xattrFile(ino uint64) (*File, bool, syscall.Errno) {
	n, found := h.idx.Node(ino)
	if !found {
		return nil, false, syscall.ENOENT
	}
	if n.Kind != KindFile {
		return nil, false, 0
	}
	return n.File, true, 0
}

// GetXAttr returns the values of name, each followed by a NUL byte.
// With size 0 only the required length is returned.
func (h *Handler) GetXAttr(ctx context.Context, ino uint64, name string, size uint32) ([]byte, uint32, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, ok, errno := h.xattrFile(ino)
	if errno != 0 {
		return nil, 0, errno
	}
	if !ok {
		return nil, 0, syscall.ENODATA
	}
	if !utf8.ValidString(name) {
		return nil, 0, syscall.ENOTSUP
	}

	values, err := h.db.GetXAttr(ctx, &f.File, name)
	if err != nil {
		h.opts.Logger.Error("getxattr", "ino", ino, "name", name, "error", err)
		return nil, 0, syscall.EIO
	}
	if len(values) == 0 {
		return nil, 0, syscall.ENODATA
	}
	return probe(nulJoin(values), size)
}

// ListXAttr returns the attribute names, each followed by a NUL byte.
func (h *Handler) ListXAttr(ctx context.Context, ino uint64, size uint32) ([]byte, uint32, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, ok, errno := h.xattrFile(ino)
	if errno != 0 {
		return nil, 0, errno
	}
	if !ok {
		return probe(nil, size)
	}

	names, err := h.db.ListXAttr(ctx, &f.File)
	if err != nil {
		h.opts.Logger.Error("listxattr", "ino", ino, "error", err)
		return nil, 0, syscall.EIO
	}
	return probe(nulJoin(names), size)
}

func nulJoin(values []string) []byte {
	var buf bytes.Buffer
	for _, v := range values {
		buf.WriteString(v)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// SetXAttr stores value under name on the document owning the file.
// flags are the XATTR_CREATE and XATTR_REPLACE bits of setxattr(2).
func (h *Handler) SetXAttr(ctx context.Context, ino uint64, name string, value []byte, flags uint32) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, ok, errno := h.xattrFile(ino)
	if errno != 0 {
		return errno
	}
	if !ok {
		return syscall.ENOTSUP
	}
	if !utf8.ValidString(name) || !utf8.Valid(value) {
		h.opts.Logger.Debug("setxattr refused non UTF-8 payload", "ino", ino)
		return syscall.ENOTSUP
	}

	opts := SetXAttrOptions{NeverReplaceShared: h.opts.NeverReplaceCommonTags}
	switch {
	case flags&unix.XATTR_CREATE != 0 && flags&unix.XATTR_REPLACE != 0:
		return syscall.EINVAL
	case flags&unix.XATTR_CREATE != 0:
		opts.Mode = SetCreate
	case flags&unix.XATTR_REPLACE != 0:
		opts.Mode = SetReplace
	}

	err := h.db.SetXAttr(ctx, &f.File, name, string(value), opts)
	if err != nil {
		return h.xattrErrno("setxattr", ino, name, err)
	}

	if name == TagAttribute {
		h.idx.AddTag(string(value))
	}
	h.opts.Logger.Debug("setxattr", "ino", ino, "name", name)
	return 0
}

// RemoveXAttr removes every value of name from the document owning the file.
func (h *Handler) RemoveXAttr(ctx context.Context, ino uint64, name string) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, ok, errno := h.xattrFile(ino)
	if errno != 0 {
		return errno
	}
	if !ok {
		return syscall.ENOTSUP
	}
	if !utf8.ValidString(name) {
		return syscall.ENOTSUP
	}

	if err := h.db.RemoveXAttr(ctx, &f.File, name); err != nil {
		return h.xattrErrno("removexattr", ino, name, err)
	}
	h.opts.Logger.Debug("removexattr", "ino", ino, "name", name)
	return 0
}

func (h *Handler) xattrErrno(op string, ino uint64, name string, err error) syscall.Errno {
	var shared *SharedAttributeError
	switch {
	case errors.Is(err, ErrAttributeExists):
		return syscall.EEXIST
	case errors.Is(err, ErrNoAttribute):
		return syscall.ENODATA
	case errors.As(err, &shared):
		h.opts.Logger.Warn("refusing to replace shared attribute", "ino", ino, "name", name)
		for _, d := range shared.Documents {
			h.opts.Logger.Warn("attribute also held by", "document", d, "name", name)
		}
		return syscall.ENOTSUP
	}
	h.opts.Logger.Error(op, "ino", ino, "name", name, "error", err)
	return syscall.EIO
}
