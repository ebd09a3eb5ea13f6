package db

import "embed"

// MigrationFS holds the schema for every Postgres repository, applied by internal/db/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
