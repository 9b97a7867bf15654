// Package kv defines the key-value store contract consumed by the session,
// cache and rate-limit layers, together with a Redis-backed production
// implementation and an in-memory implementation for tests and local runs.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and TTL when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal key-value surface the coordination layer depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the string value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key. A ttl of zero or less means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes the given keys and reports how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Expire sets a ttl on an existing key; false when the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime of key. Zero means no expiry is
	// set; ErrNotFound means the key is absent.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// IncrBy atomically adds by to the integer stored at key, creating it
	// at zero when absent, and returns the new value.
	IncrBy(ctx context.Context, key string, by int64) (int64, error)
	// DecrBy atomically subtracts by from the integer stored at key.
	DecrBy(ctx context.Context, key string, by int64) (int64, error)

	// SAdd adds members to the set stored at key.
	SAdd(ctx context.Context, key string, members ...string) error
	// SRem removes members from the set stored at key.
	SRem(ctx context.Context, key string, members ...string) error
	// SMembers returns all members of the set stored at key. A missing
	// set yields an empty slice, not an error.
	SMembers(ctx context.Context, key string) ([]string, error)
	// SCard returns the cardinality of the set stored at key.
	SCard(ctx context.Context, key string) (int64, error)

	// Keys returns all keys matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	// Info returns server diagnostics for the given section (e.g. "memory").
	Info(ctx context.Context, section string) (string, error)
	// DBSize returns the total number of keys.
	DBSize(ctx context.Context) (int64, error)

	// Close releases the underlying client resources.
	Close() error
}
