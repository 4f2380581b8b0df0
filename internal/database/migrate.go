package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SchemaVersion returns the persisted schema version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	version, err := db.dialect.schemaVersion(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, tx.Commit()
}

// Migrate applies every step above the persisted schema version inside one
// transaction and returns the resulting version. Steps are forward-only and
// gated solely by the version number, so a fully migrated store is left
// untouched.
func (db *DB) Migrate(ctx context.Context) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	from, err := db.dialect.schemaVersion(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	current := from
	for _, step := range db.dialect.steps {
		if current >= step.version {
			continue
		}
		for _, stmt := range step.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return 0, fmt.Errorf("migrate to version %d: %w", step.version, err)
			}
		}
		if err := db.dialect.setSchemaVersion(ctx, tx, step.version); err != nil {
			return 0, fmt.Errorf("set schema version %d: %w", step.version, err)
		}
		current = step.version
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	if current == from {
		db.log.Info("No migrations to apply",
			zap.String("backend", db.dialect.name),
			zap.Int("version", current))
	} else {
		db.log.Info("DB is migrated",
			zap.String("backend", db.dialect.name),
			zap.Int("fromVersion", from),
			zap.Int("version", current))
	}
	return current, nil
}

// LatestSchemaVersion is the version a fully migrated store reports.
func LatestSchemaVersion() int {
	return sqliteDialect.steps[len(sqliteDialect.steps)-1].version
}
