// Package history provides SQLite-backed bookkeeping for block-list
// refreshes. Every refresh attempt is recorded with its outcome so an
// operator can see when the list last changed and why a cycle failed,
// without scraping logs.
//
// The in-memory block-list is always authoritative: a failure to record
// history is reported to the caller but must never roll back a swap.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Outcome classifies a refresh attempt.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFetch   Outcome = "fetch_failed"
	OutcomeParse   Outcome = "parse_failed"
	OutcomePersist Outcome = "persist_failed"
)

// Record is one refresh attempt.
type Record struct {
	ID           int64
	StartedAt    time.Time
	FinishedAt   time.Time
	SourceURL    string
	EntryCount   int
	SnapshotPath string
	Outcome      Outcome
	Error        string
}

// DB wraps the SQLite connection holding refresh history.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the history database at the given path and brings
// the schema up to date.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)

	db := &DB{conn: conn}
	if err := db.runMigrations(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) runMigrations() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(db.conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Add stores one refresh attempt.
func (db *DB) Add(ctx context.Context, r Record) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO refresh_history
			(started_at, finished_at, source_url, entry_count, snapshot_path, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.FinishedAt.UTC().Format(time.RFC3339Nano),
		r.SourceURL,
		r.EntryCount,
		r.SnapshotPath,
		string(r.Outcome),
		r.Error,
	)
	if err != nil {
		return fmt.Errorf("record refresh: %w", err)
	}
	return nil
}

// Recent returns up to n attempts, newest first.
func (db *DB) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, started_at, finished_at, source_url, entry_count, snapshot_path, outcome, error
		FROM refresh_history
		ORDER BY id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query refresh history: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, n)
	for rows.Next() {
		var r Record
		var started, finished, outcome string
		if err := rows.Scan(&r.ID, &started, &finished, &r.SourceURL,
			&r.EntryCount, &r.SnapshotPath, &outcome, &r.Error); err != nil {
			return nil, fmt.Errorf("scan refresh history: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		r.Outcome = Outcome(outcome)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh history: %w", err)
	}
	return out, nil
}

// LastSuccess returns the newest successful refresh, or ok=false when none
// has been recorded yet.
func (db *DB) LastSuccess(ctx context.Context) (Record, bool, error) {
	rows, err := db.Recent(ctx, 50)
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range rows {
		if r.Outcome == OutcomeOK {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}
