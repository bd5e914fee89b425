// Package migrations bootstraps the bibliothecula schema for new databases.
// Databases created by other bibliothecula tools carry no version table and
// are reported as unmanaged; they are never migrated.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

const (
	versionTable = "schema_migrations"
	versionQuery = "SELECT version, dirty FROM " + versionTable + " LIMIT 1"
)

// Status describes the schema version of a database.
type Status struct {
	Managed bool // a version table exists
	Version uint
	Dirty   bool
	Latest  uint // highest bundled migration
}

// Current reports whether a managed database is clean and fully migrated.
func (s Status) Current() bool {
	return s.Managed && !s.Dirty && s.Version == s.Latest
}

func (s Status) String() string {
	switch {
	case !s.Managed:
		return "unmanaged"
	case s.Dirty:
		return fmt.Sprintf("dirty at version %d", s.Version)
	case s.Version < s.Latest:
		return fmt.Sprintf("version %d of %d", s.Version, s.Latest)
	case s.Version > s.Latest:
		return fmt.Sprintf("version %d is newer than %d", s.Version, s.Latest)
	}
	return fmt.Sprintf("version %d", s.Version)
}

// ReadStatus inspects the version table without creating it, so it is safe
// on read-only and external databases.
func ReadStatus(db *sql.DB) (Status, error) {
	latest, err := LatestVersion()
	if err != nil {
		return Status{}, err
	}
	st := Status{Latest: latest}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, versionTable).Scan(&n); err != nil {
		return Status{}, fmt.Errorf("reading schema version: %w", err)
	}
	if n == 0 {
		return st, nil
	}
	st.Managed = true

	err = db.QueryRow(versionQuery).Scan(&st.Version, &st.Dirty)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Status{}, fmt.Errorf("reading schema version: %w", err)
	}
	return st, nil
}

// MigrateUp runs all pending migrations. A database already at the latest
// version is left untouched.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	// m is not closed: closing it would close db, which the caller owns.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// LatestVersion returns the highest bundled migration version.
func LatestVersion() (uint, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("reading migration files: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading migration files: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: versionTable})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}

// lastVersion walks the source until Next reports no further migration.
func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
