package conflict

import "errors"

var (
	// ErrInvalidChoice indicates a resolution choice other than local or remote.
	ErrInvalidChoice = errors.New("invalid conflict resolution choice")
	// ErrInvalidRecord indicates a record without id or resource.
	ErrInvalidRecord = errors.New("invalid conflict record")
)
