package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// Returned by Store.Get when the key does not exist (or has expired).
	ErrNotFound = errors.New("cache key not found")

	// Connection refused, timeout, or protocol-level failure talking to the store.
	ErrStoreUnavailable = errors.New("cache store unavailable")

	// A value could not be encoded to, or decoded from, the canonical JSON form.
	ErrSerialization = errors.New("cache serialization error")

	// Missing or invalid store URL, TTL, or timeout. Fatal at process start.
	ErrConfiguration = errors.New("cache configuration error")
)

// Store is the narrow set of primitives the cache needs from a remote key/value store.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Returns ErrNotFound if the key is missing or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	SetEx(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// Keys matching a redis-style glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
