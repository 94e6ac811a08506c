// Package counter abstracts the shared counter store that backs rate
// limiting. The production implementation is Redis; an in-memory store with
// the same TTL semantics exists for tests and single-instance development.
package counter

import (
	"context"
	"fmt"
	"time"
)

// Store is the contract for a shared key-value store holding expiring
// integer counters.
//
// A transport or operation failure is always surfaced as a *StoreError; it is
// never reported as "counter absent". Callers that must distinguish a store
// outage from a missing key rely on this.
type Store interface {
	// Increment atomically increments the counter and returns the new value.
	Increment(ctx context.Context, key string) (int64, error)

	// Get returns the counter value and whether the key exists.
	Get(ctx context.Context, key string) (int64, bool, error)

	// SetWithTTL stores value under key with the given expiry.
	SetWithTTL(ctx context.Context, key string, value int64, ttl time.Duration) error

	// TTL reports the remaining lifetime of key. The result is negative when
	// the key is absent or carries no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Delete removes key, reporting whether a key was actually removed.
	Delete(ctx context.Context, key string) (bool, error)

	// Close releases the underlying connection, if any.
	Close() error
}

// StoreError wraps an infrastructure failure from the underlying store.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("counter store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
