// Package control exposes a running sync session over a local JSON-RPC API.
package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rpggio/tasksync/internal/conflict"
	"github.com/rpggio/tasksync/internal/coordinator"
	"github.com/rpggio/tasksync/internal/domain/activity"
	"github.com/rpggio/tasksync/internal/domain/task"
	"github.com/rpggio/tasksync/internal/syncqueue"
	"github.com/rpggio/tasksync/internal/transport"
)

// SyncService defines the session operations needed by the control API.
type SyncService interface {
	ActorID() string
	State() coordinator.SyncState
	Connection() transport.Status
	Connect()
	Disconnect()

	Tasks() []task.Snapshot
	Task(id string) (task.Snapshot, bool)
	SubmitCreate(ctx context.Context, snap task.Snapshot, priority syncqueue.Priority) (task.Snapshot, error)
	SubmitEdit(ctx context.Context, snap task.Snapshot, priority syncqueue.Priority) (task.Snapshot, error)
	SubmitDelete(ctx context.Context, taskID string, priority syncqueue.Priority) error

	ForceSync(ctx context.Context) (syncqueue.DrainResult, error)
	SyncNow(ctx context.Context) (syncqueue.DrainResult, error)
	PendingItems() []syncqueue.Item
	ClearSyncErrors()

	UnresolvedConflicts() []conflict.Record
	ResolveConflict(ctx context.Context, id string, choice conflict.Choice) (conflict.Resolution, error)
	OnlineUsers() []string
	RecentActivity(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error)
}

var _ SyncService = (*coordinator.Coordinator)(nil)

// Handler dispatches control API methods.
type Handler struct {
	svc SyncService
}

// NewHandler creates a new control handler.
func NewHandler(svc SyncService) *Handler {
	return &Handler{svc: svc}
}

// Handle runs method with params and returns the JSON-serializable result.
func (h *Handler) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case MethodStatus:
		return h.status(), nil
	case MethodTasksList:
		tasks := h.svc.Tasks()
		if tasks == nil {
			tasks = []task.Snapshot{}
		}
		return tasks, nil
	case MethodTasksGet:
		var req TaskIDParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if req.ID == "" {
			return nil, fmt.Errorf("%w: id is required", errInvalidParams)
		}
		snap, ok := h.svc.Task(req.ID)
		if !ok {
			return nil, mapError(fmt.Errorf("get %s: %w", req.ID, task.ErrTaskNotFound))
		}
		return snap, nil
	case MethodTasksCreate:
		var req CreateTaskParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		snap, err := h.svc.SubmitCreate(ctx, req.Task, syncqueue.Priority(req.Priority))
		if err != nil {
			return nil, mapError(err)
		}
		return snap, nil
	case MethodTasksEdit:
		var req EditTaskParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return h.editTask(ctx, req)
	case MethodTasksDelete:
		var req DeleteTaskParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if req.ID == "" {
			return nil, fmt.Errorf("%w: id is required", errInvalidParams)
		}
		if err := h.svc.SubmitDelete(ctx, req.ID, syncqueue.Priority(req.Priority)); err != nil {
			return nil, mapError(err)
		}
		return map[string]string{"id": req.ID}, nil
	case MethodSyncForce:
		return h.svc.ForceSync(ctx)
	case MethodSyncNow:
		return h.svc.SyncNow(ctx)
	case MethodSyncPending:
		items := h.svc.PendingItems()
		if items == nil {
			items = []syncqueue.Item{}
		}
		return items, nil
	case MethodSyncClearErrors:
		h.svc.ClearSyncErrors()
		return h.svc.State(), nil
	case MethodConnect:
		h.svc.Connect()
		return h.status(), nil
	case MethodDisconnect:
		h.svc.Disconnect()
		return h.status(), nil
	case MethodConflictsList:
		records := h.svc.UnresolvedConflicts()
		if records == nil {
			records = []conflict.Record{}
		}
		return records, nil
	case MethodConflictsResolve:
		var req ResolveConflictParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if req.ID == "" {
			return nil, fmt.Errorf("%w: id is required", errInvalidParams)
		}
		res, err := h.svc.ResolveConflict(ctx, req.ID, conflict.Choice(req.Choice))
		if err != nil {
			return nil, mapError(err)
		}
		resp := ResolveConflictResponse{Found: res.Found}
		if res.Found {
			if snap, ok := h.svc.Task(res.Record.ResourceID); ok {
				resp.Task = &snap
			}
		}
		return resp, nil
	case MethodPresenceList:
		users := h.svc.OnlineUsers()
		if users == nil {
			users = []string{}
		}
		return users, nil
	case MethodActivityList:
		var req ListActivityParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		opts := activity.ListActivityOptions{Limit: req.Limit, Offset: req.Offset}
		if req.TaskID != "" {
			opts.TaskID = &req.TaskID
		}
		if req.Type != "" {
			typ := activity.ActivityType(req.Type)
			opts.ActivityType = &typ
		}
		entries, err := h.svc.RecentActivity(ctx, opts)
		if err != nil {
			return nil, mapError(err)
		}
		if entries == nil {
			entries = []activity.ActivityEntry{}
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("%w: %s", errMethodNotFound, method)
	}
}

func (h *Handler) status() StatusResponse {
	conn := h.svc.Connection()
	status := ConnectionStatus{
		State:        string(conn.State),
		AttemptCount: conn.AttemptCount,
		Terminal:     conn.Terminal,
	}
	if conn.LastError != nil {
		status.LastError = conn.LastError.Error()
	}
	users := h.svc.OnlineUsers()
	if users == nil {
		users = []string{}
	}
	return StatusResponse{
		ActorID:     h.svc.ActorID(),
		Connection:  status,
		Sync:        h.svc.State(),
		OnlineUsers: users,
	}
}

func (h *Handler) editTask(ctx context.Context, req EditTaskParams) (task.Snapshot, error) {
	if req.ID == "" {
		return task.Snapshot{}, fmt.Errorf("%w: id is required", errInvalidParams)
	}
	snap, ok := h.svc.Task(req.ID)
	if !ok {
		return task.Snapshot{}, mapError(fmt.Errorf("edit %s: %w", req.ID, task.ErrTaskNotFound))
	}
	if req.Title != nil {
		snap.Title = *req.Title
	}
	if req.Description != nil {
		snap.Description = *req.Description
	}
	if req.Status != nil {
		snap.Status = *req.Status
	}
	if req.Progress != nil {
		snap.Progress = *req.Progress
	}
	if req.Assignee != nil {
		snap.Assignee = *req.Assignee
	}
	if req.ProjectID != nil {
		snap.ProjectID = *req.ProjectID
	}
	if req.StartDate != nil {
		snap.StartDate = req.StartDate
	}
	if req.EndDate != nil {
		snap.EndDate = req.EndDate
	}
	if req.Dependencies != nil {
		snap.Dependencies = req.Dependencies
	}
	updated, err := h.svc.SubmitEdit(ctx, snap, syncqueue.Priority(req.Priority))
	if err != nil {
		return task.Snapshot{}, mapError(err)
	}
	return updated, nil
}

func decodeParams(params json.RawMessage, out any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}
