// Package lock provides named, expiring run locks shared across processes.
//
// Two backends are available: DBLocker keeps a lease row in the application
// database and RedisLocker uses SET NX PX on a shared Redis. Both hand out a
// random owner token per acquisition so a holder can only release its own
// lease, and both let an expired lease be taken over.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrLocked is returned by Acquire when another owner holds a live lease.
var ErrLocked = errors.New("lock is held by another owner")

// ErrLeaseLost is returned by Extend when the lease expired and is no longer
// ours.
var ErrLeaseLost = errors.New("lease lost")

// Lease is a held lock. Release is safe to call more than once. Extend
// pushes the expiry to now+ttl while the lease is still held.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker acquires named leases valid for ttl.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}
