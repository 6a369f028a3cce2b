package cache

import (
	"context"
	"time"
)

// Cache is the key-value abstraction used by repositories.
// Missing keys are reported as empty values, never as errors.
type Cache interface {
	BasicOps
	ListOps
	SetOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" when the key does not exist
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value; ttl 0 means no expiration
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Incr increments an integer counter, creating it at 1
	Incr(ctx context.Context, key string) (int64, error)

	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// ListOps defines list operations
type ListOps interface {
	LPush(ctx context.Context, key string, values ...interface{}) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
}

// SetOps defines set operations
type SetOps interface {
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// LockOps defines simple distributed lock operations
type LockOps interface {
	// TryLock returns a token when the lock was acquired, "" otherwise
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Unlock releases the lock only if token still owns it
	Unlock(ctx context.Context, key, token string) error
}
