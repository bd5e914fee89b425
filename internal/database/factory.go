package database

import (
	"fmt"
	"os"

	"biblfs/internal/biblfs"
	"biblfs/internal/config"
)

// NewDatabaseFromConfig opens the bibliothecula database named by the config.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, clock biblfs.Clock, idgen biblfs.IDGenerator) (*SQLiteDatabase, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path required")
	}
	db, err := NewSQLiteDatabase(DSN(cfg.Path, cfg.ReadOnly), clock, idgen)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Path, err)
	}
	// sql.Open is lazy; surface a missing or unreadable file here.
	if err := db.db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s: %w", cfg.Path, err)
	}
	return db, nil
}

// CreateDatabase creates a new database file at path with the bibliothecula
// schema. An existing file is never touched.
func CreateDatabase(path string, clock biblfs.Clock, idgen biblfs.IDGenerator) (*SQLiteDatabase, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("database already exists at %s", path)
	}
	db, err := NewSQLiteDatabase(escapePath(path)+"?mode=rwc", clock, idgen)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return db, nil
}
