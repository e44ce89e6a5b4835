package syncqueue

import (
	"fmt"
	"time"

	"github.com/rpggio/tasksync/internal/domain/task"
	"github.com/rpggio/tasksync/internal/protocol"
)

// Operation is the kind of outbound write.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Priority orders pending items; higher priorities drain first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// ParsePriority converts s to a Priority. Empty means medium.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s), nil
	}
	return "", fmt.Errorf("%w: priority %q", ErrInvalidItem, s)
}

// Item is one unit of pending outbound work.
type Item struct {
	ID         string         `json:"id"`
	Operation  Operation      `json:"operation"`
	Task       *task.Snapshot `json:"taskSnapshot,omitempty"`
	TaskID     string         `json:"taskId"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
	Attempts   int            `json:"attempts"`
	Priority   Priority       `json:"priority"`
	// Seq breaks ties between items enqueued at the same instant.
	Seq int64 `json:"seq"`

	revision int
}

// Envelope builds the wire message for the item.
func (i Item) Envelope(actorID string, originTimestamp int64, scope *protocol.Scope) (protocol.Envelope, error) {
	if i.Task != nil && i.Task.ProjectID != "" {
		s := protocol.Scope{ProjectID: i.Task.ProjectID}
		if scope != nil {
			s.TeamID = scope.TeamID
		}
		scope = &s
	}
	switch i.Operation {
	case OpCreate:
		return protocol.New(protocol.KindTaskCreate, actorID, i.Task, originTimestamp, scope)
	case OpUpdate:
		return protocol.New(protocol.KindTaskUpdate, actorID, i.Task, originTimestamp, scope)
	case OpDelete:
		return protocol.New(protocol.KindTaskDelete, actorID, protocol.DeletePayload{TaskID: i.TaskID}, originTimestamp, scope)
	}
	return protocol.Envelope{}, fmt.Errorf("%w: operation %q", ErrInvalidItem, i.Operation)
}

func (i Item) clone() Item {
	if i.Task != nil {
		snap := i.Task.Clone()
		i.Task = &snap
	}
	return i
}

// DeliveryFailure records an item dropped after exhausting its retry budget.
type DeliveryFailure struct {
	ItemID    string    `json:"itemId"`
	Operation Operation `json:"operation"`
	TaskID    string    `json:"taskId"`
	Attempts  int       `json:"attempts"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failedAt"`
}

// DrainResult summarizes one drain call.
type DrainResult struct {
	// Skipped is set when another drain was already running.
	Skipped   bool `json:"skipped"`
	Sent      int  `json:"sent"`
	Failed    int  `json:"failed"`
	Dropped   int  `json:"dropped"`
	Remaining int  `json:"remaining"`
}
