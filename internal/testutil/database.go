package testutil

import (
	"database/sql"
	"testing"

	"biblfs/internal/biblfs"
	"biblfs/internal/database"
)

// NewTestDatabase creates a new in-memory SQLite database with schema applied.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T, clock biblfs.Clock, idgen biblfs.IDGenerator) *database.SQLiteDatabase {
	t.Helper()

	db := database.NewSQLiteDatabaseFromDB(openMemory(t), clock, idgen)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func openMemory(t *testing.T) *sql.DB {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := sqlDB.Exec(database.Schema); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}
	return sqlDB
}
