// Package store keeps a durable journal of conversations, learned
// preferences and bookings in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/soyeahso/wayfarer/internal/logging"
)

// busyTimeoutMs bounds how long a journal write waits on another run's
// transaction before failing with SQLITE_BUSY.
const busyTimeoutMs = 5000

// ErrSchemaTooNew is returned when the journal was written by a newer
// wayfarer than this one.
var ErrSchemaTooNew = errors.New("store: journal schema is newer than this build")

// DB is the journal database.
type DB struct {
	sql *sql.DB
	log *logging.Logger
}

// dsn puts the per-connection pragmas in the URI so every pooled
// connection gets them, not just the first.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMs))
	if path == ":memory:" {
		return "file::memory:?" + q.Encode()
	}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

// Open opens the journal at path, creating it and its directory if needed,
// and brings the schema up to date. ":memory:" gives a throwaway journal.
func Open(path string, log *logging.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		sqlDB.SetMaxOpenConns(1)
	}

	db := &DB{sql: sqlDB, log: log.Sub("store")}
	ctx := context.Background()
	if err := db.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	version, _ := db.SchemaVersion(ctx)
	db.log.Info().Str("path", path).Int("schema", version).Msg("journal opened")
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.log.Info().Msg("closing journal")
	return db.sql.Close()
}

// SchemaVersion returns the highest migration applied to the journal.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := db.sql.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(v.Int64), nil
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.sql.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if latest := migrations[len(migrations)-1].Version; current > latest {
		return fmt.Errorf("%w: journal at version %d, this build knows %d", ErrSchemaTooNew, current, latest)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
		return err
	}
	return tx.Commit()
}
