package smsintake

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the ledger and entity schema for postgres, with the
// sqlite variants under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetCoreMigrationsFS returns the schema tree registered by default.
func GetCoreMigrationsFS() fs.FS {
	return migrationsFS
}
