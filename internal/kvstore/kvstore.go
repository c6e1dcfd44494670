// Package kvstore provides a namespaced key-value store for persistent
// state. Conversations are stored here as one JSON document per key;
// anything needing queries over its contents deserves its own schema.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Entry describes one stored key.
type Entry struct {
	Key       string    `json:"key"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a namespaced key-value store. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns the value for namespace/key, or ErrNotFound.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Put upserts namespace/key. Existing values are overwritten.
	Put(ctx context.Context, namespace, key string, value []byte) error

	// Delete removes namespace/key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, namespace, key string) error

	// List returns the keys of namespace ordered by key.
	List(ctx context.Context, namespace string) ([]Entry, error)

	Close() error
}

// Drivers accepted by Open.
const (
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, cgo
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverMemory  = "memory"
)

// Open returns a store for driver. path is the database file for the
// SQLite drivers and is ignored for memory.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverSQLite3, DriverSQLite:
		return NewSQLiteStore(driver, path)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
