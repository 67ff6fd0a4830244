package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore is a BlobStore backed by PostgreSQL, for deployments
// where multiple processes share one vault.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("vault: failed to ping postgres: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS vault_records (
			key        TEXT PRIMARY KEY,
			blob       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("vault: failed to create schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing connection; used by tests
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Put inserts or replaces the blob for key. Row-level locking in
// PostgreSQL serializes same-key writes without blocking other keys.
func (s *PostgresStore) Put(ctx context.Context, key, blob string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_records (key, blob, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET blob = EXCLUDED.blob, updated_at = EXCLUDED.updated_at
	`, key, blob, now, now)
	if err != nil {
		return fmt.Errorf("vault: failed to store record: %w", err)
	}
	return nil
}

// Get retrieves the record for key, or ErrNotFound
func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	rec := &Record{Key: key}
	err := s.db.QueryRowContext(ctx, `
		SELECT blob, created_at, updated_at FROM vault_records WHERE key = $1
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
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vault_records WHERE key = $1`, key)
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
func (s *PostgresStore) List(ctx context.Context, prefix string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, blob, created_at, updated_at FROM vault_records
		WHERE key LIKE $1 || '%' ORDER BY key
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
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
