package biblfs_test

import (
	"testing"

	"biblfs/internal/biblfs"
	"biblfs/internal/model"
	"biblfs/internal/testutil"
)

func TestBuildIndex_InodeAllocation(t *testing.T) {
	f := testutil.NewTestFixture(t)
	a := f.AddDocument("A")
	b := f.AddDocument("B")
	f.AddTag(a, "poetry")
	f.AddTag(a, "bad/name")
	f.AddTag(b, "history")
	f.AddTag(b, "poetry")
	f.AddFile(a, "a.pdf", []byte("a"))
	f.AddFile(b, "b.pdf", []byte("b"))

	idx, err := biblfs.BuildIndex(t.Context(), f.DB, nil)
	if err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}

	t.Run("one directory per distinct tag", func(t *testing.T) {
		poetry, ok := idx.Tag("poetry")
		if !ok {
			t.Fatal("Tag(poetry) not found")
		}
		if poetry.Ino != 6 {
			t.Errorf("poetry.Ino = %d, want 6", poetry.Ino)
		}
		if len(poetry.IDs) != 2 {
			t.Errorf("len(poetry.IDs) = %d, want 2", len(poetry.IDs))
		}

		history, _ := idx.Tag("history")
		if history.Ino != 7 {
			t.Errorf("history.Ino = %d, want 7", history.Ino)
		}
		if _, ok := idx.Tag("bad/name"); ok {
			t.Error("Tag(bad/name) should be skipped")
		}
		if got := len(idx.Tags()); got != 2 {
			t.Errorf("len(Tags()) = %d, want 2", got)
		}
	})

	t.Run("files follow tags", func(t *testing.T) {
		files := idx.Files()
		if len(files) != 2 {
			t.Fatalf("len(Files()) = %d, want 2", len(files))
		}
		if files[0].Ino != 8 || files[1].Ino != 9 {
			t.Errorf("file inodes = %d, %d, want 8, 9", files[0].Ino, files[1].Ino)
		}
		if files[0].DocumentID != a {
			t.Errorf("files[0].DocumentID = %v, want %v", files[0].DocumentID, a)
		}
	})

	t.Run("documents are indexed", func(t *testing.T) {
		doc, ok := idx.Document(b)
		if !ok {
			t.Fatal("Document(b) not found")
		}
		if doc.Title != "B" {
			t.Errorf("Title = %q, want %q", doc.Title, "B")
		}
	})

	t.Run("query directories take three inodes", func(t *testing.T) {
		d := idx.QueryDir("history")
		if d.Ino != 10 || d.SQLIno != 11 || d.ResultsIno != 12 {
			t.Errorf("QueryDir inodes = %d, %d, %d, want 10, 11, 12", d.Ino, d.SQLIno, d.ResultsIno)
		}
		if again := idx.QueryDir("history"); again != d {
			t.Error("QueryDir() should return the existing directory")
		}
		if got := idx.InodeCount(); got != 12 {
			t.Errorf("InodeCount() = %d, want 12", got)
		}

		for ino, want := range map[uint64]biblfs.NodeKind{
			d.Ino:        biblfs.KindQuery,
			d.SQLIno:     biblfs.KindQuerySQL,
			d.ResultsIno: biblfs.KindQueryResults,
		} {
			n, ok := idx.Node(ino)
			if !ok || n.Kind != want {
				t.Errorf("Node(%d) = %v, %v, want kind %v", ino, n.Kind, ok, want)
			}
		}
	})

	t.Run("tags added later get fresh inodes", func(t *testing.T) {
		tag := idx.AddTag("geography")
		if tag.Ino != 13 {
			t.Errorf("AddTag().Ino = %d, want 13", tag.Ino)
		}
		if again := idx.AddTag("geography"); again != tag {
			t.Error("AddTag() should return the existing tag")
		}
		if idx.AddTag("..") != nil {
			t.Error("AddTag(..) should be refused")
		}
	})
}

func TestBuildIndex_DuplicateFileNames(t *testing.T) {
	f := testutil.NewTestFixture(t)
	a := f.AddDocument("A")
	b := f.AddDocument("B")
	first := f.AddFile(a, "same.pdf", []byte("first"))
	f.AddFile(b, "same.pdf", []byte("second"))
	f.AddFile(b, "x/y.pdf", []byte("skipped"))

	idx, err := biblfs.BuildIndex(t.Context(), f.DB, nil)
	if err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}

	if got := len(idx.Files()); got != 2 {
		t.Fatalf("len(Files()) = %d, want 2", got)
	}
	got, ok := idx.FileByName("same.pdf")
	if !ok {
		t.Fatal("FileByName(same.pdf) not found")
	}
	if got.ID != first {
		t.Errorf("FileByName().ID = %v, want %v", got.ID, first)
	}
}

func TestIndex_FilesOf(t *testing.T) {
	f := testutil.NewTestFixture(t)
	a := f.AddDocument("A")
	b := f.AddDocument("B")
	f.AddFile(a, "a1.pdf", []byte("1"))
	f.AddFile(b, "b1.pdf", []byte("1"))
	f.AddFile(a, "a2.pdf", []byte("2"))

	idx, err := biblfs.BuildIndex(t.Context(), f.DB, nil)
	if err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}

	files := idx.FilesOf([]model.DocumentID{b, a, b})
	var got []string
	for _, file := range files {
		got = append(got, file.Name)
	}
	want := []string{"b1.pdf", "a1.pdf", "a2.pdf"}
	if len(got) != len(want) {
		t.Fatalf("FilesOf() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FilesOf()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIndex_FixedNodes(t *testing.T) {
	idx := biblfs.NewIndex(nil)

	for ino, want := range map[uint64]biblfs.NodeKind{
		biblfs.RootIno:      biblfs.KindRoot,
		biblfs.TagRootIno:   biblfs.KindTagRoot,
		biblfs.QueryRootIno: biblfs.KindQueryRoot,
	} {
		n, ok := idx.Node(ino)
		if !ok || n.Kind != want {
			t.Errorf("Node(%d) = %v, %v, want %v", ino, n.Kind, ok, want)
		}
		if !n.Kind.IsDir() {
			t.Errorf("%v.IsDir() = false", n.Kind)
		}
	}

	if _, ok := idx.Node(biblfs.DefaultQueryResultsIno); ok {
		t.Error("default query inode present without a default query")
	}

	d := idx.SetDefaultQuery(biblfs.SQLQuery("SELECT uuid FROM Documents"))
	if d.SQLIno != biblfs.DefaultQuerySQLIno || d.ResultsIno != biblfs.DefaultQueryResultsIno {
		t.Errorf("SetDefaultQuery() inodes = %d, %d", d.SQLIno, d.ResultsIno)
	}
	if idx.DefaultQuery() != d {
		t.Error("DefaultQuery() should return the configured query")
	}
	if got := idx.InodeCount(); got != 5 {
		t.Errorf("InodeCount() = %d, want 5", got)
	}
	if got := biblfs.KindQueryResults.String(); got != "query-results" {
		t.Errorf("String() = %q, want %q", got, "query-results")
	}
}

func TestBuildIndex_EmptyStore(t *testing.T) {
	db := testutil.NewTestDatabase(t, testutil.FixedClock(), testutil.NewStubIDGenerator())

	idx, err := biblfs.BuildIndex(t.Context(), db, biblfs.NewNopLogger())
	if err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}
	if got := idx.InodeCount(); got != 5 {
		t.Errorf("InodeCount() = %d, want 5", got)
	}
	if len(idx.Files()) != 0 || len(idx.Tags()) != 0 {
		t.Errorf("empty store indexed %d files and %d tags", len(idx.Files()), len(idx.Tags()))
	}
}
