// generate_schema migrates an in-memory database and writes the resulting
// schema to internal/database/schema.sql. Run from the module root.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"biblfs/internal/biblfs"
	"biblfs/internal/database"
	"biblfs/internal/database/migrations"
)

const header = `-- Generated from internal/database/migrations/files/*.sql.
-- Run 'go generate ./internal/database' after changing a migration.

`

// Objects are emitted tables first so the file applies top to bottom.
// The full-text shadow tables are recreated by their virtual table.
const schemaQuery = `
	SELECT sql FROM sqlite_master
	WHERE sql IS NOT NULL
	  AND name NOT LIKE 'sqlite_%'
	  AND name NOT LIKE ? || '_%'
	  AND tbl_name != 'schema_migrations'
	ORDER BY CASE type WHEN 'table' THEN 1 WHEN 'index' THEN 2 WHEN 'view' THEN 3 ELSE 4 END, name`

func main() {
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := migrations.MigrateUp(db); err != nil {
		log.Fatalf("migrating: %v", err)
	}

	schema, err := dumpSchema(db)
	if err != nil {
		log.Fatalf("dumping schema: %v", err)
	}

	out := filepath.Join("internal", "database", "schema.sql")
	if err := os.WriteFile(out, []byte(header+schema), 0644); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %s\n", out)
}

func dumpSchema(db *sql.DB) (string, error) {
	rows, err := db.Query(schemaQuery, biblfs.FullTextTable)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", err
		}
		b.WriteString(stmt)
		b.WriteString(";\n\n")
	}
	return b.String(), rows.Err()
}
