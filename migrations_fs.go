package integrations

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the schema for connections, audit records and state
// nonces, with sqlite alternatives under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}

// GetCoreMigrationsFS returns the tree consumed by migrations.Register.
func GetCoreMigrationsFS() fs.FS {
	return migrationsFS
}
