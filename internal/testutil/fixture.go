package testutil

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"biblfs/internal/database"
	"biblfs/internal/model"
)

// Fixture is an in-memory bibliothecula database with builders for its rows.
// Every row gets a distinct created time one second after the previous one.
type Fixture struct {
	t     *testing.T
	SQL   *sql.DB
	DB    *database.SQLiteDatabase
	Clock *StubClock
	IDs   *StubIDGenerator
}

// NewTestFixture creates an empty fixture. The database is closed when the
// test completes.
func NewTestFixture(t *testing.T) *Fixture {
	t.Helper()
	return newFixture(t, openMemory(t))
}

// NewFileFixture creates an empty database file in a temporary directory and
// returns a fixture writing to it together with its path.
func NewFileFixture(t *testing.T) (*Fixture, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bibliothecula.db")
	db, err := database.CreateDatabase(path, nil, nil)
	if err != nil {
		t.Fatalf("CreateDatabase() error = %v", err)
	}
	db.Close()

	sqlDB, err := database.OpenConnection(database.DSN(path, false))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	return newFixture(t, sqlDB), path
}

func newFixture(t *testing.T, sqlDB *sql.DB) *Fixture {
	f := &Fixture{
		t:     t,
		SQL:   sqlDB,
		Clock: FixedClock(),
		IDs:   NewStubIDGenerator(),
	}
	f.DB = database.NewSQLiteDatabaseFromDB(sqlDB, f.Clock, f.IDs)

	t.Cleanup(func() {
		f.DB.Close()
	})
	return f
}

// Exec runs a raw statement and fails the test on error.
func (f *Fixture) Exec(query string, args ...any) {
	f.t.Helper()
	if _, err := f.SQL.Exec(query, args...); err != nil {
		f.t.Fatalf("Exec(%q) error = %v", query, err)
	}
}

func (f *Fixture) stamp() string {
	now := f.Clock.Now()
	f.Clock.Advance(time.Second)
	return model.FormatTimestamp(now)
}

// AddDocument inserts a document without a title suffix.
func (f *Fixture) AddDocument(title string) model.DocumentID {
	f.t.Helper()
	return f.AddDocumentWithSuffix(title, "")
}

// AddDocumentWithSuffix inserts a document; an empty suffix is stored as NULL.
func (f *Fixture) AddDocumentWithSuffix(title, suffix string) model.DocumentID {
	f.t.Helper()
	id := model.DocumentID(f.IDs.New())
	ts := f.stamp()
	var s any
	if suffix != "" {
		s = suffix
	}
	f.Exec(`INSERT INTO Documents (uuid, title, title_suffix, created, last_modified) VALUES (?, ?, ?, ?, ?)`,
		id, title, s, ts, ts)
	return id
}

// AddBinaryMetadata inserts a binary-metadata row with a raw name and links
// it to doc under link. data is a []byte or a string.
func (f *Fixture) AddBinaryMetadata(doc model.DocumentID, link, name string, data any) model.FileID {
	f.t.Helper()
	id := model.FileID(f.IDs.New())
	ts := f.stamp()
	f.Exec(`INSERT INTO BinaryMetadata (uuid, name, data, created, last_modified) VALUES (?, ?, ?, ?, ?)`,
		id, name, data, ts, ts)
	f.Exec(`INSERT INTO DocumentHasBinaryMetadata (name, document_uuid, metadata_uuid, created, last_modified) VALUES (?, ?, ?, ?, ?)`,
		link, doc, id, ts, ts)
	return id
}

// AddFile stores data as a file named filename of doc.
func (f *Fixture) AddFile(doc model.DocumentID, filename string, data []byte) model.FileID {
	f.t.Helper()
	name, err := json.Marshal(map[string]any{
		"filename": filename,
		"size":     len(data),
	})
	if err != nil {
		f.t.Fatalf("json.Marshal() error = %v", err)
	}
	return f.AddBinaryMetadata(doc, "storage", string(name), data)
}

// IndexFullText attaches full text to doc; the schema triggers copy it into
// the full-text index.
func (f *Fixture) IndexFullText(doc model.DocumentID, text string) model.FileID {
	f.t.Helper()
	return f.AddBinaryMetadata(doc, "full-text", "full-text", text)
}

// AddTextMetadata inserts a text-metadata row and links it to doc.
func (f *Fixture) AddTextMetadata(doc model.DocumentID, name, data string) model.TextMetadataID {
	f.t.Helper()
	id := model.TextMetadataID(f.IDs.New())
	ts := f.stamp()
	f.Exec(`INSERT INTO TextMetadata (uuid, name, data, created, last_modified) VALUES (?, ?, ?, ?, ?)`,
		id, name, data, ts, ts)
	f.Link(doc, id)
	return id
}

// AddTag tags doc with a new text-metadata row.
func (f *Fixture) AddTag(doc model.DocumentID, tag string) model.TagID {
	f.t.Helper()
	return f.AddTextMetadata(doc, "tag", tag)
}

// Link links an existing text-metadata row to another document.
func (f *Fixture) Link(doc model.DocumentID, id model.TextMetadataID) {
	f.t.Helper()
	ts := f.stamp()
	f.Exec(`INSERT INTO DocumentHasTextMetadata (name, document_uuid, metadata_uuid, created, last_modified) VALUES (?, ?, ?, ?, ?)`,
		"meta", doc, id, ts, ts)
}

// TextMetadataCount returns the number of text-metadata rows.
func (f *Fixture) TextMetadataCount() int {
	f.t.Helper()
	var n int
	if err := f.SQL.QueryRow(`SELECT COUNT(*) FROM TextMetadata`).Scan(&n); err != nil {
		f.t.Fatalf("counting text metadata: %v", err)
	}
	return n
}
