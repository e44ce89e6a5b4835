package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/tasksync/internal/domain/activity"
	"github.com/rpggio/tasksync/internal/repository"
)

var _ repository.ActivityRepository = (*ActivityRepository)(nil)

// ActivityRepository implements repository.ActivityRepository.
type ActivityRepository struct {
	db *DB
}

// NewActivityRepository creates a new ActivityRepository
func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

type activityRow struct {
	ID           string         `db:"id"`
	ClientID     string         `db:"client_id"`
	TaskID       sql.NullString `db:"task_id"`
	ActorID      string         `db:"actor_id"`
	ActivityType string         `db:"activity_type"`
	Summary      string         `db:"summary"`
	Details      string         `db:"details"`
	CreatedAt    int64          `db:"created_at"`
}

// Log inserts a new activity entry
func (r *ActivityRepository) Log(ctx context.Context, clientID string, entry *activity.ActivityEntry) error {
	if err := requireClientID(clientID); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	var taskID sql.NullString
	if entry.TaskID != nil {
		taskID = sql.NullString{String: *entry.TaskID, Valid: true}
	}

	query := r.db.Rebind(`
		INSERT INTO activity_log (
			id, client_id, task_id, actor_id,
			activity_type, summary, details, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		clientID,
		taskID,
		entry.ActorID,
		string(entry.ActivityType),
		entry.Summary,
		entry.Details,
		entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("activity %s: %w", entry.ID, repository.ErrConflict)
		}
		return fmt.Errorf("failed to log activity: %w", err)
	}

	entry.ClientID = clientID
	return nil
}

// List returns activity entries matching the given filters, newest first.
func (r *ActivityRepository) List(ctx context.Context, clientID string, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error) {
	if err := requireClientID(clientID); err != nil {
		return nil, err
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", repository.ErrInvalidInput)
	}
	query := `
		SELECT id, client_id, task_id, actor_id, activity_type, summary, details, created_at
		FROM activity_log
		WHERE client_id = ?
	`
	args := []any{clientID}
	var conditions []string

	if opts.TaskID != nil {
		conditions = append(conditions, "task_id = ?")
		args = append(args, *opts.TaskID)
	}
	if opts.ActivityType != nil {
		conditions = append(conditions, "activity_type = ?")
		args = append(args, string(*opts.ActivityType))
	}
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 && r.db.DriverName() == "sqlite" {
			// SQLite requires LIMIT before OFFSET.
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	var rows []activityRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}

	entries := make([]activity.ActivityEntry, 0, len(rows))
	for _, row := range rows {
		entry := activity.ActivityEntry{
			ID:           row.ID,
			ClientID:     row.ClientID,
			ActorID:      row.ActorID,
			ActivityType: activity.ActivityType(row.ActivityType),
			Summary:      row.Summary,
			Details:      row.Details,
			CreatedAt:    time.UnixMilli(row.CreatedAt),
		}
		if row.TaskID.Valid {
			id := row.TaskID.String
			entry.TaskID = &id
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
