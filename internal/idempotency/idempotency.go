// Package idempotency remembers the outcome of create requests that carry an
// Idempotency-Key so retries replay the first result instead of repeating it.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrInFlight is returned by Reserve while the first request holding the key
// has not completed yet.
var ErrInFlight = errors.New("idempotency key is in flight")

// Store reserves keys and records completed results.
//
// Reserve returns (nil, nil) when the caller now owns the key, the stored
// result when the key already completed, or ErrInFlight.
type Store interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) ([]byte, error)
	Complete(ctx context.Context, key string, result []byte, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// Key scopes a client-supplied key to the caller and list so two callers can
// never replay each other's results.
func Key(caller, listID, clientKey string) string {
	return strings.Join([]string{caller, listID, clientKey}, "|")
}

const maxClientKeyLength = 255

// ValidClientKey reports whether a header value is usable as a key.
func ValidClientKey(k string) bool {
	return k != "" && len(k) <= maxClientKeyLength && strings.TrimSpace(k) == k
}
