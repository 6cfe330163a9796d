// Package db ships the goose migrations with the binaries.
package db

import "embed"

// Migrations holds the SQL files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations goose should read.
const MigrationsDir = "migrations"
