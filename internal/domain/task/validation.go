package task

import (
	"fmt"
	"strings"
)

// Validate checks the snapshot fields a client is allowed to submit.
func (s Snapshot) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTask)
	}
	if s.Progress < 0 || s.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidTask, s.Progress)
	}
	if s.StartDate != nil && s.EndDate != nil && s.EndDate.Before(*s.StartDate) {
		return fmt.Errorf("%w: end date before start date", ErrInvalidTask)
	}
	switch s.Status {
	case "", StatusTodo, StatusInProgress, StatusDone, StatusBlocked:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, s.Status)
	}
	for _, dep := range s.Dependencies {
		if dep == s.ID {
			return fmt.Errorf("%w: task depends on itself", ErrInvalidTask)
		}
	}
	return nil
}
