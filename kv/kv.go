/*
Package kv defines the key-value store contract shared by the idempotency
coordinator, the distributed member lock and the balance cache.

PURPOSE:
  All three infrastructure components need the same small surface: set-if-
  absent with TTL, get, overwrite, delete, and delete-if-value-matches.
  Modeling it as an injected interface (rather than an ambient Redis client)
  lets every consumer run against the in-memory fake in tests.

IMPLEMENTATIONS:
  - Redis:  production implementation over redis/go-redis
  - Memory: in-process fake with TTL support for tests
*/
package kv

import (
	"context"
	"time"
)

// Store is a shared key-value store with per-key TTLs.
type Store interface {
	// SetNX stores value under key only if the key is absent.
	// Returns true when the value was stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key unconditionally.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes the key. Removing an absent key is not an error.
	Del(ctx context.Context, key string) error

	// CompareAndDelete removes the key only if its current value equals
	// value. Returns true when the key was removed. Used for owner-only
	// lock release.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}
