package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a BlobStore backed by a local SQLite database. Suitable
// for single-node deployments and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if necessary) a SQLite-backed store.
// Pass ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to open sqlite database: %w", err)
	}

	// SQLite serializes writes internally; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS vault_records (
			key        TEXT PRIMARY KEY,
			blob       TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("vault: failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Put inserts or replaces the blob for key
func (s *SQLiteStore) Put(ctx context.Context, key, blob string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_records (key, blob, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at
	`, key, blob, now, now)
	if err != nil {
		return fmt.Errorf("vault: failed to store record: %w", err)
	}
	return nil
}

// Get retrieves the record for key, or ErrNotFound
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Record, error) {
	rec := &Record{Key: key}
	err := s.db.QueryRowContext(ctx, `
		SELECT blob, created_at, updated_at FROM vault_records WHERE key = ?
	`, key).Scan(&rec.Blob, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read record: %w", err)
	}
	return rec, nil
}

// Delete removes the record for key. Deleting a missing key returns
// ErrNotFound.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vault_records WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("vault: failed to delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("vault: failed to delete record: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all records whose key starts with prefix, ordered by key
func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, blob, created_at, updated_at FROM vault_records
		WHERE key LIKE ? || '%' ORDER BY key
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(&rec.Key, &rec.Blob, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("vault: failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vault: failed to list records: %w", err)
	}
	return records, nil
}

// DB exposes the underlying handle for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
