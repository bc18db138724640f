package ports

import (
	"context"
	"time"
)

// LeaseStore grants short-lived exclusive claims on invitation records so
// concurrent workers never apply two transitions to the same invitation at
// once. A lease that is not renewed expires on its own, which lets another
// worker pick up a crashed worker's invitation.
type LeaseStore interface {
	// Acquire returns a fencing token when the lease is free, or ok=false on
	// contention.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}
