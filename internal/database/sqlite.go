package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"biblfs/internal/biblfs"
	"biblfs/internal/database/migrations"
	"biblfs/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// xattrLinkName is the DocumentHasTextMetadata.name of links created through
// setxattr(2).
const xattrLinkName = "xattr(7)"

// SQLiteDatabase implements biblfs.Database over a bibliothecula SQLite file.
type SQLiteDatabase struct {
	db    *sql.DB
	clock biblfs.Clock
	idgen biblfs.IDGenerator
}

// NewSQLiteDatabase opens the database named by dsn (see DSN).
// A nil clock or idgen selects the real implementation.
func NewSQLiteDatabase(dsn string, clock biblfs.Clock, idgen biblfs.IDGenerator) (*SQLiteDatabase, error) {
	db, err := OpenConnection(dsn)
	if err != nil {
		return nil, err
	}
	return NewSQLiteDatabaseFromDB(db, clock, idgen), nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB, clock biblfs.Clock, idgen biblfs.IDGenerator) *SQLiteDatabase {
	if clock == nil {
		clock = biblfs.RealClock{}
	}
	if idgen == nil {
		idgen = biblfs.UUIDGenerator{}
	}
	return &SQLiteDatabase{db: db, clock: clock, idgen: idgen}
}

// DSN builds a connection string for path. Existing files are never created;
// readOnly opens them with mode=ro.
func DSN(path string, readOnly bool) string {
	if path == ":memory:" {
		return path
	}
	mode := "rw"
	if readOnly {
		mode = "ro"
	}
	return escapePath(path) + "?mode=" + mode
}

func escapePath(path string) string {
	return "file:" + strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23").Replace(path)
}

// OpenConnection opens and configures a SQLite connection.
// A single connection is kept open: in-memory databases live per connection,
// and every statement goes through the same owner.
func OpenConnection(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// Mount-time scans

func (s *SQLiteDatabase) ListTags(ctx context.Context) ([]*model.TextMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid, name, data, created, last_modified FROM TextMetadata WHERE name = ? ORDER BY created, uuid`,
		biblfs.TagAttribute)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	var out []*model.TextMetadata
	for rows.Next() {
		var t model.TextMetadata
		if err := rows.Scan(&t.ID, &t.Name, &t.Data, &t.Created, &t.LastModified); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	return out, nil
}

func (s *SQLiteDatabase) ListDocuments(ctx context.Context) ([]*model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid, title, title_suffix, created, last_modified FROM Documents ORDER BY created, uuid`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []*model.Document
	for rows.Next() {
		var (
			d      model.Document
			suffix sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.Title, &suffix, &d.Created, &d.LastModified); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.TitleSuffix = suffix.String
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return out, nil
}

func (s *SQLiteDatabase) ListFiles(ctx context.Context) ([]*model.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.rowid, b.uuid, json_extract(b.name, '$.filename'), length(b.data),
		       has.document_uuid, b.created, b.last_modified
		FROM DocumentHasBinaryMetadata AS has
		JOIN BinaryMetadata AS b ON has.metadata_uuid = b.uuid
		WHERE has.name = 'storage'
		  AND json_valid(b.name)
		  AND json_extract(b.name, '$.filename') IS NOT NULL
		ORDER BY has.id`)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var out []*model.File
	for rows.Next() {
		var f model.File
		if err := rows.Scan(&f.RowID, &f.ID, &f.Name, &f.Size, &f.DocumentID, &f.Created, &f.LastModified); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return out, nil
}

// Content

func (s *SQLiteDatabase) DocumentsWithTag(ctx context.Context, tag string) ([]model.DocumentID, error) {
	return s.RunQuery(ctx, `
		SELECT DISTINCT h.document_uuid
		FROM DocumentHasTextMetadata AS h
		JOIN TextMetadata AS t ON t.uuid = h.metadata_uuid
		WHERE t.name = ? AND t.data = ?`,
		biblfs.TagAttribute, tag)
}

func (s *SQLiteDatabase) ReadFileRange(ctx context.Context, rowID int64, offset int64, size int) ([]byte, error) {
	var (
		length int64
		data   []byte
	)
	// substr is 1-based and works on bytes for BLOB values.
	err := s.db.QueryRowContext(ctx,
		`SELECT length(data), substr(data, ?, ?) FROM BinaryMetadata WHERE rowid = ?`,
		offset+1, size, rowID).Scan(&length, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reading blob %d: row vanished: %w", rowID, err)
		}
		return nil, fmt.Errorf("reading blob %d: %w", rowID, err)
	}
	if offset > length {
		return nil, fmt.Errorf("reading blob %d at %d of %d: %w", rowID, offset, length, biblfs.ErrOffsetOutOfRange)
	}
	if want := min(int64(size), length-offset); int64(len(data)) > want {
		data = data[:want]
	}
	return data, nil
}

func (s *SQLiteDatabase) RunQuery(ctx context.Context, statement string, args ...any) ([]model.DocumentID, error) {
	rows, err := s.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}
	defer rows.Close()

	// Only the first column is a document id; the rest are discarded.
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("running query: statement returns no columns")
	}
	var id model.DocumentID
	dest := make([]any, len(cols))
	dest[0] = &id
	for i := 1; i < len(dest); i++ {
		dest[i] = new(sql.RawBytes)
	}

	var out []model.DocumentID
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}
	return out, nil
}

// Migrate brings a new database up to the bundled schema.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// SchemaStatus reports the migration state without changing the database.
func (s *SQLiteDatabase) SchemaStatus() (migrations.Status, error) {
	return migrations.ReadStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements biblfs.Database interface
var _ biblfs.Database = (*SQLiteDatabase)(nil)
