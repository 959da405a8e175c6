package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is a genuine miss: the key is absent from the tier.
	ErrNotFound = errors.New("cache entry not found")

	// ErrTierUnavailable classifies infrastructure failures of tier two.
	// The tiered cache degrades to tier-one-only operation and logs; it
	// never surfaces this to the read/write caller.
	ErrTierUnavailable = errors.New("cache tier unavailable")
)

// Store is the tier-two backend: shared across service instances, longer
// TTLs, and a prefix-deletion (scan) capability for pattern invalidation.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	PurgeExpired(ctx context.Context) error
}
