package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rpggio/tasksync/internal/domain/task"
	"github.com/rpggio/tasksync/internal/repository"
	"github.com/rpggio/tasksync/internal/syncqueue"
)

var _ repository.QueueRepository = (*QueueRepository)(nil)

// QueueRepository implements repository.QueueRepository.
type QueueRepository struct {
	db *DB
}

// NewQueueRepository creates a new QueueRepository
func NewQueueRepository(db *DB) *QueueRepository {
	return &QueueRepository{db: db}
}

type queueRow struct {
	ID         string         `db:"id"`
	Operation  string         `db:"operation"`
	TaskID     string         `db:"task_id"`
	Snapshot   sql.NullString `db:"task_snapshot"`
	Priority   string         `db:"priority"`
	Attempts   int            `db:"attempts"`
	Seq        int64          `db:"seq"`
	EnqueuedAt int64          `db:"enqueued_at"`
}

// Save inserts the item or replaces the stored copy.
func (r *QueueRepository) Save(ctx context.Context, clientID string, item syncqueue.Item) error {
	if err := requireClientID(clientID); err != nil {
		return err
	}
	if item.ID == "" {
		return fmt.Errorf("%w: queue item id is required", repository.ErrInvalidInput)
	}
	var snapshot sql.NullString
	if item.Task != nil {
		data, err := json.Marshal(item.Task)
		if err != nil {
			return fmt.Errorf("failed to encode task snapshot: %w", err)
		}
		snapshot = sql.NullString{String: string(data), Valid: true}
	}

	query := r.db.Rebind(`
		INSERT INTO queue_items (
			client_id, id, operation, task_id, task_snapshot,
			priority, attempts, seq, enqueued_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id, id) DO UPDATE SET
			operation = excluded.operation,
			task_id = excluded.task_id,
			task_snapshot = excluded.task_snapshot,
			priority = excluded.priority,
			attempts = excluded.attempts,
			seq = excluded.seq,
			enqueued_at = excluded.enqueued_at
	`)
	_, err := r.db.ExecContext(ctx, query,
		clientID,
		item.ID,
		string(item.Operation),
		item.TaskID,
		snapshot,
		string(item.Priority),
		item.Attempts,
		item.Seq,
		item.EnqueuedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save queue item: %w", err)
	}
	return nil
}

// Delete removes the item. Deleting a missing item is not an error.
func (r *QueueRepository) Delete(ctx context.Context, clientID, id string) error {
	query := r.db.Rebind(`DELETE FROM queue_items WHERE client_id = ? AND id = ?`)
	if _, err := r.db.ExecContext(ctx, query, clientID, id); err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}
	return nil
}

// List returns the client's items in enqueue order.
func (r *QueueRepository) List(ctx context.Context, clientID string) ([]syncqueue.Item, error) {
	if err := requireClientID(clientID); err != nil {
		return nil, err
	}
	query := r.db.Rebind(`
		SELECT id, operation, task_id, task_snapshot, priority, attempts, seq, enqueued_at
		FROM queue_items
		WHERE client_id = ?
		ORDER BY seq ASC
	`)
	var rows []queueRow
	if err := r.db.SelectContext(ctx, &rows, query, clientID); err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}

	items := make([]syncqueue.Item, 0, len(rows))
	for _, row := range rows {
		item := syncqueue.Item{
			ID:         row.ID,
			Operation:  syncqueue.Operation(row.Operation),
			TaskID:     row.TaskID,
			Priority:   syncqueue.Priority(row.Priority),
			Attempts:   row.Attempts,
			Seq:        row.Seq,
			EnqueuedAt: time.Unix(0, row.EnqueuedAt),
		}
		if row.Snapshot.Valid {
			var snap task.Snapshot
			if err := json.Unmarshal([]byte(row.Snapshot.String), &snap); err != nil {
				return nil, fmt.Errorf("failed to decode task snapshot for item %s: %w", row.ID, err)
			}
			item.Task = &snap
		}
		items = append(items, item)
	}
	return items, nil
}
