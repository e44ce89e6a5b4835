package syncqueue

import "errors"

var (
	// ErrInvalidItem indicates an item missing its operation, task or task id.
	ErrInvalidItem = errors.New("invalid queue item")
)
