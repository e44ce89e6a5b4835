package conflict

import (
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/tasksync/internal/domain/task"
)

// Kind classifies what collided.
type Kind string

const (
	KindTaskEdit    Kind = "task_edit"
	KindTaskDelete  Kind = "task_delete"
	KindProjectEdit Kind = "project_edit"
)

// Choice is the side picked when resolving a conflict.
type Choice string

const (
	ChoiceLocal  Choice = "local"
	ChoiceRemote Choice = "remote"
)

// Valid reports whether c is a known choice.
func (c Choice) Valid() bool {
	return c == ChoiceLocal || c == ChoiceRemote
}

// Record describes one detected collision. Records are never edited after
// creation; resolving one removes it.
type Record struct {
	ID                 string    `json:"id"`
	Kind               Kind      `json:"kind"`
	ResourceID         string    `json:"resourceId"`
	ConflictingActorID string    `json:"conflictingActorId"`
	DetectedAt         time.Time `json:"detectedAt"`
	// Seq is assigned by Resolver.Add and keeps insertion order across
	// reloads, including records detected at the same instant.
	Seq           int64         `json:"seq"`
	LocalVersion  task.Snapshot `json:"localVersion"`
	RemoteVersion task.Snapshot `json:"remoteVersion"`
}

// NewRecord captures full copies of both versions.
func NewRecord(local, remote task.Snapshot, conflictingActorID string, detectedAt time.Time) Record {
	return Record{
		ID:                 uuid.NewString(),
		Kind:               Classify(local, remote),
		ResourceID:         remote.ID,
		ConflictingActorID: conflictingActorID,
		DetectedAt:         detectedAt,
		LocalVersion:       local.Clone(),
		RemoteVersion:      remote.Clone(),
	}
}

// Classify picks the conflict kind for a pair of versions.
func Classify(local, remote task.Snapshot) Kind {
	switch {
	case local.Deleted || remote.Deleted:
		return KindTaskDelete
	case local.ProjectID != remote.ProjectID:
		return KindProjectEdit
	default:
		return KindTaskEdit
	}
}

func (r Record) clone() Record {
	r.LocalVersion = r.LocalVersion.Clone()
	r.RemoteVersion = r.RemoteVersion.Clone()
	return r
}

// Resolution is the outcome of Resolver.Resolve.
type Resolution struct {
	Found  bool
	Choice Choice
	Record Record
	Change *task.Change
}
