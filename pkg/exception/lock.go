package exception

import "errors"

var (
	ErrLockHeld        = errors.New("lock: resource held by another owner")
	ErrLockNotHeld     = errors.New("lock: release without ownership")
	ErrLockUnavailable = errors.New("lock: backend unavailable")
)
