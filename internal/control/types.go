package control

import (
	"time"

	"github.com/rpggio/tasksync/internal/coordinator"
	"github.com/rpggio/tasksync/internal/domain/task"
)

// Method names served on /rpc.
const (
	MethodStatus           = "status"
	MethodTasksList        = "tasks.list"
	MethodTasksGet         = "tasks.get"
	MethodTasksCreate      = "tasks.create"
	MethodTasksEdit        = "tasks.edit"
	MethodTasksDelete      = "tasks.delete"
	MethodSyncForce        = "sync.force"
	MethodSyncNow          = "sync.now"
	MethodSyncPending      = "sync.pending"
	MethodSyncClearErrors  = "sync.clear_errors"
	MethodConnect          = "connection.connect"
	MethodDisconnect       = "connection.disconnect"
	MethodConflictsList    = "conflicts.list"
	MethodConflictsResolve = "conflicts.resolve"
	MethodPresenceList     = "presence.list"
	MethodActivityList     = "activity.list"
)

type TaskIDParams struct {
	ID string `json:"id"`
}

type CreateTaskParams struct {
	Task     task.Snapshot `json:"task"`
	Priority string        `json:"priority,omitempty"`
}

// EditTaskParams patches the current local snapshot. Nil fields are kept.
type EditTaskParams struct {
	ID           string       `json:"id"`
	Title        *string      `json:"title,omitempty"`
	Description  *string      `json:"description,omitempty"`
	Status       *task.Status `json:"status,omitempty"`
	Progress     *int         `json:"progress,omitempty"`
	Assignee     *string      `json:"assignee,omitempty"`
	ProjectID    *string      `json:"projectId,omitempty"`
	StartDate    *time.Time   `json:"startDate,omitempty"`
	EndDate      *time.Time   `json:"endDate,omitempty"`
	Dependencies []string     `json:"dependencies,omitempty"`
	Priority     string       `json:"priority,omitempty"`
}

type DeleteTaskParams struct {
	ID       string `json:"id"`
	Priority string `json:"priority,omitempty"`
}

type ResolveConflictParams struct {
	ID     string `json:"id"`
	Choice string `json:"choice"`
}

type ListActivityParams struct {
	TaskID string `json:"taskId,omitempty"`
	Type   string `json:"type,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ConnectionStatus is the JSON form of the transport status.
type ConnectionStatus struct {
	State        string `json:"state"`
	AttemptCount int    `json:"attemptCount"`
	Terminal     bool   `json:"terminal"`
	LastError    string `json:"lastError,omitempty"`
}

type StatusResponse struct {
	ActorID     string                `json:"actorId"`
	Connection  ConnectionStatus      `json:"connection"`
	Sync        coordinator.SyncState `json:"sync"`
	OnlineUsers []string              `json:"onlineUsers"`
}

type ResolveConflictResponse struct {
	Found bool           `json:"found"`
	Task  *task.Snapshot `json:"task,omitempty"`
}
