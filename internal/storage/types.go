package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrNotFound is returned by Get for keys that have never been written.
	ErrNotFound = errors.New("key not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": one JSON file per key under a directory
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the blob persistence API used by the cache and the settings store.
//
// Keys are short path-safe identifiers ("contests", "guild_settings",
// "guild_settings.backup.<ts>"). Values are opaque; callers own the encoding.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
