package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a Store backed by SQLite. Every process that opens the same
// database file observes the same global resets.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// initialises the schema. Use ":memory:" for an in-memory SQLite database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("restbucket/store: open sqlite: %w", err)
	}
	// A private ":memory:" database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS restbucket_global (
			key         TEXT PRIMARY KEY,
			reset_at_ms INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("restbucket/store: create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Extend upserts resetAt for key, keeping whichever reset is later.
func (s *SQLiteStore) Extend(ctx context.Context, key string, resetAt time.Time) (time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO restbucket_global (key, reset_at_ms) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET reset_at_ms = MAX(reset_at_ms, excluded.reset_at_ms)`,
		key, resetAt.UnixMilli(),
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("restbucket/store: extend: %w", err)
	}

	var ms int64
	if err := tx.QueryRowContext(ctx,
		`SELECT reset_at_ms FROM restbucket_global WHERE key = ?`, key,
	).Scan(&ms); err != nil {
		return time.Time{}, err
	}

	return time.UnixMilli(ms), tx.Commit()
}

// Get returns the stored reset for key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (time.Time, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT reset_at_ms FROM restbucket_global WHERE key = ?`, key,
	).Scan(&ms)

	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	return time.UnixMilli(ms), nil
}

// List returns every stored key with its reset.
func (s *SQLiteStore) List(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, reset_at_ms FROM restbucket_global`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var key string
		var ms int64
		if err := rows.Scan(&key, &ms); err != nil {
			return nil, err
		}
		out[key] = time.UnixMilli(ms)
	}
	return out, rows.Err()
}

// Reset removes the entry for the given key.
func (s *SQLiteStore) Reset(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM restbucket_global WHERE key = ?`, key)
	return err
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
