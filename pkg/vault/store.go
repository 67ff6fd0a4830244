package vault

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a vault record does not exist
var ErrNotFound = errors.New("vault: record not found")

// Record is an encrypted blob with its storage timestamps. The blob is
// opaque to the store; only the vault can open it.
type Record struct {
	Key       string
	Blob      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BlobStore persists encrypted blobs keyed by string. Put is an upsert
// with last-writer-wins semantics; implementations must serialize
// concurrent writes to the same key without blocking writes to different
// keys.
type BlobStore interface {
	Put(ctx context.Context, key, blob string) error
	Get(ctx context.Context, key string) (*Record, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]*Record, error)
	Close() error
}

// Config selects and configures a blob store backend
type Config struct {
	// Driver is "sqlite" or "postgres"
	Driver string
	// DSN is the database connection string (file path for sqlite)
	DSN string
}

// DefaultConfig returns the sqlite-backed default
func DefaultConfig() Config {
	return Config{
		Driver: "sqlite",
		DSN:    "agentpass.db",
	}
}

// Open creates a blob store for the configured driver
func Open(cfg Config) (BlobStore, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.DSN)
	case "postgres":
		return NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("vault: unknown store driver %q (must be sqlite or postgres)", cfg.Driver)
	}
}
