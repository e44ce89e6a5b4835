package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rpggio/tasksync/internal/conflict"
	"github.com/rpggio/tasksync/internal/domain/task"
	"github.com/rpggio/tasksync/internal/repository"
)

var _ repository.ConflictRepository = (*ConflictRepository)(nil)

// ConflictRepository implements repository.ConflictRepository.
type ConflictRepository struct {
	db *DB
}

// NewConflictRepository creates a new ConflictRepository
func NewConflictRepository(db *DB) *ConflictRepository {
	return &ConflictRepository{db: db}
}

type conflictRow struct {
	ID                 string `db:"id"`
	Kind               string `db:"kind"`
	ResourceID         string `db:"resource_id"`
	ConflictingActorID string `db:"conflicting_actor_id"`
	Seq                int64  `db:"seq"`
	DetectedAt         int64  `db:"detected_at"`
	LocalVersion       string `db:"local_version"`
	RemoteVersion      string `db:"remote_version"`
}

// Save stores rec, replacing any stored record with the same id.
func (r *ConflictRepository) Save(ctx context.Context, clientID string, rec conflict.Record) error {
	if err := requireClientID(clientID); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: conflict id is required", repository.ErrInvalidInput)
	}
	local, err := json.Marshal(rec.LocalVersion)
	if err != nil {
		return fmt.Errorf("failed to encode local version: %w", err)
	}
	remote, err := json.Marshal(rec.RemoteVersion)
	if err != nil {
		return fmt.Errorf("failed to encode remote version: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO conflicts (
			client_id, id, kind, resource_id, conflicting_actor_id,
			seq, detected_at, local_version, remote_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id, id) DO UPDATE SET
			kind = excluded.kind,
			resource_id = excluded.resource_id,
			conflicting_actor_id = excluded.conflicting_actor_id,
			seq = excluded.seq,
			detected_at = excluded.detected_at,
			local_version = excluded.local_version,
			remote_version = excluded.remote_version
	`)
	_, err = r.db.ExecContext(ctx, query,
		clientID,
		rec.ID,
		string(rec.Kind),
		rec.ResourceID,
		rec.ConflictingActorID,
		rec.Seq,
		rec.DetectedAt.UnixNano(),
		string(local),
		string(remote),
	)
	if err != nil {
		return fmt.Errorf("failed to save conflict: %w", err)
	}
	return nil
}

// Delete removes a conflict. Deleting a missing conflict is not an error.
func (r *ConflictRepository) Delete(ctx context.Context, clientID, id string) error {
	query := r.db.Rebind(`DELETE FROM conflicts WHERE client_id = ? AND id = ?`)
	if _, err := r.db.ExecContext(ctx, query, clientID, id); err != nil {
		return fmt.Errorf("failed to delete conflict: %w", err)
	}
	return nil
}

// List returns the client's conflicts in the order they were added.
func (r *ConflictRepository) List(ctx context.Context, clientID string) ([]conflict.Record, error) {
	if err := requireClientID(clientID); err != nil {
		return nil, err
	}
	query := r.db.Rebind(`
		SELECT id, kind, resource_id, conflicting_actor_id, seq, detected_at, local_version, remote_version
		FROM conflicts
		WHERE client_id = ?
		ORDER BY seq ASC, detected_at ASC, id ASC
	`)
	var rows []conflictRow
	if err := r.db.SelectContext(ctx, &rows, query, clientID); err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}

	records := make([]conflict.Record, 0, len(rows))
	for _, row := range rows {
		rec := conflict.Record{
			ID:                 row.ID,
			Kind:               conflict.Kind(row.Kind),
			ResourceID:         row.ResourceID,
			ConflictingActorID: row.ConflictingActorID,
			Seq:                row.Seq,
			DetectedAt:         time.Unix(0, row.DetectedAt),
		}
		if err := decodeSnapshot(row.LocalVersion, &rec.LocalVersion); err != nil {
			return nil, fmt.Errorf("failed to decode local version for conflict %s: %w", row.ID, err)
		}
		if err := decodeSnapshot(row.RemoteVersion, &rec.RemoteVersion); err != nil {
			return nil, fmt.Errorf("failed to decode remote version for conflict %s: %w", row.ID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeSnapshot(data string, dst *task.Snapshot) error {
	return json.Unmarshal([]byte(data), dst)
}
