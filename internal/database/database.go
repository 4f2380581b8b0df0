// Package database provides SQLite storage for the feed reader.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DefaultBusyTimeout is how long a connection waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Options tunes the SQLite connection pool.
type Options struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DB wraps a pooled database connection.
type DB struct {
	conn    *sql.DB
	dialect dialect
	log     *zap.Logger
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path and migrates it
// to the current schema version.
func New(ctx context.Context, path string, opts Options, log *zap.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite", sqliteDSN(path, opts))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 8
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxOpen)
	conn.SetConnMaxIdleTime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	db := &DB{conn: conn, dialect: sqliteDialect, log: log}
	if _, err := db.Migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// sqliteDSN applies the per-connection pragmas. Every pooled connection gets
// them, and every transaction starts with BEGIN IMMEDIATE so a
// read-modify-write cannot interleave with another writer.
func sqliteDSN(path string, opts Options) string {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	q.Set("_time_format", "sqlite")
	return path + "?" + q.Encode()
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return db.dialect.name
}

func (db *DB) q(query string) string {
	return db.dialect.rebind(query)
}

var sqliteDialect = dialect{
	name:   "SQLite",
	flavor: sqlbuilder.SQLite,
	steps: []migrationStep{
		{version: 1, statements: []string{
			`CREATE TABLE IF NOT EXISTS feeds (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				title TEXT NOT NULL,
				feed_link TEXT NOT NULL,
				link TEXT,
				feed_kind TEXT NOT NULL,
				refreshed_at TIMESTAMP,
				inserted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS entries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
				title TEXT,
				author TEXT,
				pub_date TIMESTAMP,
				description TEXT,
				content TEXT,
				link TEXT,
				read_at TIMESTAMP,
				inserted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS entries_feed_id_and_pub_date_and_inserted_at_index
				ON entries (feed_id, pub_date, inserted_at)`,
		}},
		{version: 2, statements: []string{
			`ALTER TABLE feeds ADD COLUMN latest_etag TEXT`,
		}},
		{version: 3, statements: []string{
			`CREATE UNIQUE INDEX feeds_feed_link ON feeds (feed_link)`,
		}},
	},
	schemaVersion: func(ctx context.Context, tx *sql.Tx) (int, error) {
		var version int
		err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version)
		return version, err
	},
	setSchemaVersion: func(ctx context.Context, tx *sql.Tx, version int) error {
		// PRAGMA does not accept bound parameters.
		_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version))
		return err
	},
	isUniqueViolation: isSQLiteUniqueViolation,
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}
