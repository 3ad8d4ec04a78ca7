package exception

import "errors"

var (
	ErrRunNotFound       = errors.New("run: not found")
	ErrRunTerminal       = errors.New("run: already terminal")
	ErrRunBlocked        = errors.New("run: blocked before submission")
	ErrRunMissingWeights = errors.New("run: target weights and explicit orders both empty")
	ErrRunInvalidMode    = errors.New("run: invalid mode")
	ErrRunNotStalled     = errors.New("run: not stalled")
)
