package db

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Run applies a goose command ("up", "down" or "status") using the embedded migrations.
func Run(conn *sql.DB, command string) error {
	goose.SetBaseFS(Migrations)
	goose.SetTableName("goose_db_version")
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	switch command {
	case "up":
		return goose.Up(conn, MigrationsDir)
	case "down":
		return goose.Down(conn, MigrationsDir)
	case "status":
		return goose.Status(conn, MigrationsDir)
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
}
