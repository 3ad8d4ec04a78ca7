package exception

import "errors"

var (
	ErrNilStore  = errors.New("general: nil store")
	ErrNilBridge = errors.New("general: nil bridge")
)
