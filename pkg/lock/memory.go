package lock

import (
	"context"
	"sync"
	"time"

	"main/pkg/exception"
)

// MemoryLocker is a single-process Locker for paper mode and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewMemoryLocker creates an in-process lock table.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, name string, ttl time.Duration) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if expiry, ok := l.held[name]; ok && expiry.After(now) {
		return nil, exception.ErrLockHeld
	}
	l.held[name] = now.Add(ttl)
	return &memoryHandle{locker: l, name: name}, nil
}

type memoryHandle struct {
	locker *MemoryLocker
	name   string
}

func (h *memoryHandle) Release(_ context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	if _, ok := h.locker.held[h.name]; !ok {
		return exception.ErrLockNotHeld
	}
	delete(h.locker.held, h.name)
	return nil
}
