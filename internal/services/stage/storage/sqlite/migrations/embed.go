package migrations

import "embed"

// FS contains embedded SQLite migrations for stage storage.
//
//go:embed *.sql
var FS embed.FS
