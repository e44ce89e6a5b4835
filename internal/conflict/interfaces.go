package conflict

import (
	"context"

	"github.com/rpggio/tasksync/internal/domain/task"
)

// Repository persists unresolved conflicts per client.
type Repository interface {
	Save(ctx context.Context, clientID string, rec Record) error
	Delete(ctx context.Context, clientID, id string) error
	List(ctx context.Context, clientID string) ([]Record, error)
}

// Applier is the task store mutation entry point.
type Applier interface {
	Apply(m task.Mutation) (task.Change, error)
}
