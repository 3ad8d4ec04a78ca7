// Package lock provides advisory named locks over shared broker-session
// resources. Holding the lock is cooperative: it serializes writers that
// honor it, nothing more.
package lock

import (
	"context"
	"time"
)

// Locker acquires and releases a named advisory lock.
type Locker interface {
	// Acquire takes the named lock for at most ttl. It returns
	// exception.ErrLockHeld without blocking when another owner holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (Handle, error)
}

// Handle releases a held lock.
type Handle interface {
	Release(ctx context.Context) error
}
