package biblfs_test

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"biblfs/internal/biblfs"
	"biblfs/internal/testutil"
)

func TestHandler_XAttrRoundTrip(t *testing.T) {
	f := testutil.NewTestFixture(t)
	doc := f.AddDocument("A")
	f.AddFile(doc, "a.pdf", []byte("a"))

	h := newHandler(t, f, biblfs.Options{})
	ctx := t.Context()
	file := lookup(t, h, biblfs.RootIno, "a.pdf")

	require.Zero(t, h.SetXAttr(ctx, file.Ino, "k", []byte("v"), 0))

	t.Run("size probe", func(t *testing.T) {
		data, n, errno := h.GetXAttr(ctx, file.Ino, "k", 0)
		require.Zero(t, errno)
		assert.Nil(t, data)
		assert.Equal(t, uint32(2), n)
	})

	t.Run("value is NUL terminated", func(t *testing.T) {
		data, n, errno := h.GetXAttr(ctx, file.Ino, "k", 64)
		require.Zero(t, errno)
		assert.Equal(t, []byte("v\x00"), data)
		assert.Equal(t, uint32(2), n)
	})

	t.Run("buffer too small", func(t *testing.T) {
		_, _, errno := h.GetXAttr(ctx, file.Ino, "k", 1)
		assert.Equal(t, syscall.ERANGE, errno)
	})

	t.Run("list", func(t *testing.T) {
		data, _, errno := h.ListXAttr(ctx, file.Ino, 64)
		require.Zero(t, errno)
		assert.Equal(t, []byte("k\x00"), data)

		_, n, errno := h.ListXAttr(ctx, file.Ino, 0)
		require.Zero(t, errno)
		assert.Equal(t, uint32(2), n)

		_, _, errno = h.ListXAttr(ctx, file.Ino, 1)
		assert.Equal(t, syscall.ERANGE, errno)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.Zero(t, h.SetXAttr(ctx, file.Ino, "k", []byte("w"), 0))
		data, _, errno := h.GetXAttr(ctx, file.Ino, "k", 64)
		require.Zero(t, errno)
		assert.Equal(t, []byte("w\x00"), data)
	})

	t.Run("remove", func(t *testing.T) {
		require.Zero(t, h.RemoveXAttr(ctx, file.Ino, "k"))

		_, _, errno := h.GetXAttr(ctx, file.Ino, "k", 64)
		assert.Equal(t, syscall.ENODATA, errno)
		assert.Equal(t, syscall.ENODATA, h.RemoveXAttr(ctx, file.Ino, "k"))

		_, n, errno := h.ListXAttr(ctx, file.Ino, 0)
		require.Zero(t, errno)
		assert.Zero(t, n)
	})
}

func TestHandler_XAttrMultipleValues(t *testing.T) {
	f := testutil.NewTestFixture(t)
	doc := f.AddDocument("A")
	f.AddFile(doc, "a.pdf", []byte("a"))
	f.AddTag(doc, "history")
	f.AddTextMetadata(doc, "author", "Herodotus")
	f.AddTextMetadata(doc, "author", "Thucydides")

	h := newHandler(t, f, biblfs.Options{})
	file := lookup(t, h, biblfs.RootIno, "a.pdf")

	data, _, errno := h.GetXAttr(t.Context(), file.Ino, "author", 256)
	require.Zero(t, errno)
	assert.Equal(t, []byte("Herodotus\x00Thucydides\x00"), data)

	names, _, errno := h.ListXAttr(t.Context(), file.Ino, 256)
	require.Zero(t, errno)
	assert.Equal(t, []byte("tag\x00author\x00"), names)
}

func TestHandler_SetXAttrFlags(t *testing.T) {
	f := testutil.NewTestFixture(t)
	doc := f.AddDocument("A")
	f.AddFile(doc, "a.pdf", []byte("a"))
	f.AddTextMetadata(doc, "k", "v")

	h := newHandler(t, f, biblfs.Options{})
	ino := lookup(t, h, biblfs.RootIno, "a.pdf").Ino

	tests := []struct {
		name  string
		attr  string
		value []byte
		flags uint32
		want  syscall.Errno
	}{
		{name: "create existing", attr: "k", value: []byte("x"), flags: unix.XATTR_CREATE, want: syscall.EEXIST},
		{name: "replace missing", attr: "missing", value: []byte("x"), flags: unix.XATTR_REPLACE, want: syscall.ENODATA},
		{name: "both flags", attr: "k", value: []byte("x"), flags: unix.XATTR_CREATE | unix.XATTR_REPLACE, want: syscall.EINVAL},
		{name: "non UTF-8 value", attr: "k", value: []byte{0xff, 0xfe}, want: syscall.ENOTSUP},
		{name: "non UTF-8 name", attr: "\xff", value: []byte("x"), want: syscall.ENOTSUP},
		{name: "create new", attr: "fresh", value: []byte("x"), flags: unix.XATTR_CREATE},
		{name: "replace existing", attr: "k", value: []byte("y"), flags: unix.XATTR_REPLACE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.SetXAttr(t.Context(), ino, tt.attr, tt.value, tt.flags))
		})
	}

	data, _, errno := h.GetXAttr(t.Context(), ino, "k", 64)
	require.Zero(t, errno)
	assert.Equal(t, []byte("y\x00"), data)
}

func TestHandler_XAttrNonFileInodes(t *testing.T) {
	f := testutil.NewTestFixture(t)
	h := newHandler(t, f, biblfs.Options{})
	ctx := t.Context()

	for _, ino := range []uint64{biblfs.RootIno, biblfs.TagRootIno, biblfs.QueryRootIno} {
		_, _, errno := h.GetXAttr(ctx, ino, "k", 64)
		assert.Equal(t, syscall.ENODATA, errno)

		data, n, errno := h.ListXAttr(ctx, ino, 64)
		require.Zero(t, errno)
		assert.Empty(t, data)
		assert.Zero(t, n)

		assert.Equal(t, syscall.ENOTSUP, h.SetXAttr(ctx, ino, "k", []byte("v"), 0))
		assert.Equal(t, syscall.ENOTSUP, h.RemoveXAttr(ctx, ino, "k"))
	}

	_, _, errno := h.GetXAttr(ctx, 999, "k", 64)
	assert.Equal(t, syscall.ENOENT, errno)
	assert.Equal(t, syscall.ENOENT, h.SetXAttr(ctx, 999, "k", []byte("v"), 0))
}

func TestHandler_SetXAttrSharedTag(t *testing.T) {
	setup := func(t *testing.T, protect bool) (*testutil.Fixture, *biblfs.Handler, uint64, uint64) {
		f := testutil.NewTestFixture(t)
		a := f.AddDocument("Chronicle")
		b := f.AddDocument("Annals")
		f.AddFile(a, "a.pdf", []byte("a"))
		f.AddFile(b, "b.pdf", []byte("b"))
		f.Link(b, f.AddTag(a, "history"))

		h := newHandler(t, f, biblfs.Options{NeverReplaceCommonTags: protect})
		return f, h, lookup(t, h, biblfs.RootIno, "a.pdf").Ino, lookup(t, h, biblfs.RootIno, "b.pdf").Ino
	}

	t.Run("refused when protected", func(t *testing.T) {
		_, h, a, b := setup(t, true)

		assert.Equal(t, syscall.ENOTSUP, h.SetXAttr(t.Context(), a, biblfs.TagAttribute, []byte("geography"), 0))

		data, _, errno := h.GetXAttr(t.Context(), b, biblfs.TagAttribute, 64)
		require.Zero(t, errno)
		assert.Equal(t, []byte("history\x00"), data)
	})

	t.Run("shared row overwritten otherwise", func(t *testing.T) {
		f, h, a, b := setup(t, false)

		require.Zero(t, h.SetXAttr(t.Context(), a, biblfs.TagAttribute, []byte("geography"), 0))
		assert.Equal(t, 1, f.TextMetadataCount())

		data, _, errno := h.GetXAttr(t.Context(), b, biblfs.TagAttribute, 64)
		require.Zero(t, errno)
		assert.Equal(t, []byte("geography\x00"), data)
	})

	t.Run("remove keeps the row for other documents", func(t *testing.T) {
		f, h, a, b := setup(t, true)

		require.Zero(t, h.RemoveXAttr(t.Context(), a, biblfs.TagAttribute))
		assert.Equal(t, 1, f.TextMetadataCount())

		_, _, errno := h.GetXAttr(t.Context(), a, biblfs.TagAttribute, 64)
		assert.Equal(t, syscall.ENODATA, errno)
		_, _, errno = h.GetXAttr(t.Context(), b, biblfs.TagAttribute, 64)
		assert.Zero(t, errno)
	})
}

func TestHandler_SetXAttrRegistersTag(t *testing.T) {
	f := testutil.NewTestFixture(t)
	doc := f.AddDocument("A")
	f.AddFile(doc, "a.pdf", []byte("a"))

	h := newHandler(t, f, biblfs.Options{})
	ctx := t.Context()
	file := lookup(t, h, biblfs.RootIno, "a.pdf")

	_, errno := h.Lookup(ctx, biblfs.TagRootIno, "poetry")
	require.Equal(t, syscall.ENOENT, errno)

	require.Zero(t, h.SetXAttr(ctx, file.Ino, biblfs.TagAttribute, []byte("poetry"), 0))

	tag := lookup(t, h, biblfs.TagRootIno, "poetry")
	entries, errno := h.ReadDir(ctx, tag.Ino, 0)
	require.Zero(t, errno)
	assert.Equal(t, []string{".", "..", "a.pdf"}, names(entries))

	t.Run("removal leaves the directory empty", func(t *testing.T) {
		require.Zero(t, h.RemoveXAttr(ctx, file.Ino, biblfs.TagAttribute))

		entries, errno := h.ReadDir(ctx, tag.Ino, 0)
		require.Zero(t, errno)
		assert.Equal(t, []string{".", ".."}, names(entries))
	})
}
