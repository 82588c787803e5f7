package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache provides a generic caching interface with TTL and atomic counters.
// The compliance gate leans on the counter operations being atomic on the
// store side; two near-simultaneous increments must observe distinct counts.
type Cache interface {
	// Get retrieves a value by key
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with optional TTL (0 means no expiry)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) (bool, error)

	// IncrementWithTTL atomically increments a counter, setting ttl in the
	// same store-side step when the increment creates the key. The counter
	// can never exist without an expiry.
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Decrement atomically decrements a counter, deleting the key when it
	// reaches zero so a released counter never goes negative.
	Decrement(ctx context.Context, key string) (int64, error)

	// GetJSON retrieves and unmarshals JSON data
	GetJSON(ctx context.Context, key string, dest interface{}) error

	// SetJSON marshals and stores JSON data
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Ping verifies connectivity to the backing store
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// ErrCacheKeyNotFound indicates a cache miss for the given key.
type ErrCacheKeyNotFound struct {
	Key string
}

func (e ErrCacheKeyNotFound) Error() string {
	return fmt.Sprintf("cache key not found: %s", e.Key)
}

// IsNotFound reports whether err is a cache miss.
func IsNotFound(err error) bool {
	_, ok := err.(ErrCacheKeyNotFound)
	return ok
}
