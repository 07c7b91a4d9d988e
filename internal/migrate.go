package internal

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/DukeRupert/gambit/internal/migrations"
)

// RunMigrations brings the schema up to date and logs the resulting version.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if err := migrations.Up(db); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Info("database migrations applied", "version", version)
	return nil
}
