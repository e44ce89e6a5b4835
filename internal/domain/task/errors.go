package task

import "errors"

var (
	// ErrTaskNotFound indicates the task doesn't exist in the local store.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskExists indicates a create for an id the store already holds.
	ErrTaskExists = errors.New("task already exists")
	// ErrInvalidTask indicates a snapshot failed validation.
	ErrInvalidTask = errors.New("invalid task")
	// ErrInvalidMutation indicates an unknown or incomplete store mutation.
	ErrInvalidMutation = errors.New("invalid task mutation")
)
