// Package kv provides the durable key-value stores that survive process
// restarts and hold the tracking state shared between execution contexts.
package kv

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownBackend is returned by Open for unsupported backend names.
var ErrUnknownBackend = errors.New("unknown store backend")

// Store is the narrow contract the tracking core needs from local persistence.
// Implementations are not required to be transactional across keys.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Open creates a Store for the configured backend. dsn is a directory for
// badger, a file path for sqlite, an address or redis:// URL for redis and a
// connection string for postgres.
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	if backend == "" {
		backend = BackendBadger
	}

	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger:
		return OpenBadgerStore(dsn)
	case BackendRedis:
		return OpenRedisStore(ctx, dsn)
	case BackendPostgres:
		return OpenPostgresStore(ctx, dsn)
	case BackendSQLite:
		return OpenSQLiteStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
}
