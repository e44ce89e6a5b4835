package syncqueue

import (
	"context"

	"github.com/rpggio/tasksync/internal/protocol"
)

// Repository persists pending items per client.
type Repository interface {
	Save(ctx context.Context, clientID string, item Item) error
	Delete(ctx context.Context, clientID, id string) error
	List(ctx context.Context, clientID string) ([]Item, error)
}

// Sender delivers envelopes. Send must fail fast when not connected.
type Sender interface {
	IsConnected() bool
	Send(ctx context.Context, env protocol.Envelope) bool
}
