package exception

import "errors"

var (
	ErrBridgeUnreachable    = errors.New("bridge: status file unreadable")
	ErrBridgeCommandExists  = errors.New("bridge: command already written")
	ErrBridgeNoResult       = errors.New("bridge: command result not present")
	ErrBridgeIntentMismatch = errors.New("bridge: intent file symbol set mismatch")
)
