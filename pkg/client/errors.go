package client

import "errors"

var (
	ErrInvalidConfig = errors.New("client: invalid config")
	ErrNotStarted    = errors.New("client: not started")
)
