package store

import "embed"

// Migrations holds the catalog schema, applied with db.Migrate(dsn, Migrations, MigrationsDir, log).
//
//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"
