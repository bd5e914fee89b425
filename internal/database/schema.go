package database

import _ "embed"

// Schema is the bibliothecula schema, generated from the migrations.
// Tests apply it to in-memory databases.
//
//go:embed schema.sql
var Schema string
