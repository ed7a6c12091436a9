package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TobiSchelling/kursil/internal/logger"
)

// schemaVersion reads PRAGMA user_version, the last applied migration.
func schemaVersion(ctx context.Context, conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// migrate applies every pending curriculum migration in order. A database
// stamped by a newer kursil build is refused rather than written with an
// older schema.
func migrate(ctx context.Context, conn *sql.DB, log *logger.Logger) error {
	current, err := schemaVersion(ctx, conn)
	if err != nil {
		return err
	}
	latest := latestVersion()
	switch {
	case current > latest:
		return fmt.Errorf("database schema v%d is newer than this build supports (v%d)", current, latest)
	case current == latest:
		log.Debug("schema up to date", "version", current)
		return nil
	}

	for _, m := range pending(current) {
		log.Info("applying migration", "version", m.Version, "description", m.Description)
		if err := applyMigration(ctx, conn, m); err != nil {
			return err
		}
	}
	return nil
}

// pending returns the migrations above version, in order.
func pending(version int) []Migration {
	var out []Migration
	for _, m := range migrations {
		if m.Version > version {
			out = append(out, m)
		}
	}
	return out
}

// applyMigration runs one step in a transaction, then stamps user_version.
// modernc/sqlite ignores the pragma inside a transaction; every step uses
// IF NOT EXISTS DDL so a crash before the stamp re-runs cleanly.
func applyMigration(ctx context.Context, conn *sql.DB, m Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	if err := m.Up(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("stamping schema v%d: %w", m.Version, err)
	}
	return nil
}
