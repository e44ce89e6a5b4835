package control

import (
	"errors"
	"fmt"

	"github.com/rpggio/tasksync/internal/conflict"
	"github.com/rpggio/tasksync/internal/domain/activity"
	"github.com/rpggio/tasksync/internal/domain/task"
	"github.com/rpggio/tasksync/internal/repository"
	"github.com/rpggio/tasksync/internal/syncqueue"
)

// APIError is the application error carried in a JSON-RPC error's data.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// errMethodNotFound marks a method the handler does not know.
var errMethodNotFound = errors.New("method not found")

// errInvalidParams marks params that could not be decoded or are incomplete.
var errInvalidParams = errors.New("invalid params")

// MapError maps domain errors to API error codes.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return &APIError{Code: "TASK_NOT_FOUND", Message: "task not found", RecoveryHint: "List tasks to check the id"}
	case errors.Is(err, task.ErrTaskExists):
		return &APIError{Code: "TASK_EXISTS", Message: "task already exists", RecoveryHint: "Edit the existing task instead"}
	case errors.Is(err, task.ErrInvalidTask):
		return &APIError{Code: "INVALID_TASK", Message: err.Error()}
	case errors.Is(err, syncqueue.ErrInvalidItem):
		return &APIError{Code: "INVALID_PRIORITY", Message: err.Error(), RecoveryHint: "Use low, medium or high"}
	case errors.Is(err, conflict.ErrInvalidChoice):
		return &APIError{Code: "INVALID_CHOICE", Message: err.Error(), RecoveryHint: "Use local or remote"}
	case errors.Is(err, activity.ErrInvalidInput), errors.Is(err, repository.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: err.Error()}
	default:
		return nil
	}
}

func mapError(err error) error {
	if apiErr := MapError(err); apiErr != nil {
		return apiErr
	}
	return err
}
