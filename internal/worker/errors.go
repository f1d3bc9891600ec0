package worker

import "errors"

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrRetryLater      = errors.New("retry later")
)
