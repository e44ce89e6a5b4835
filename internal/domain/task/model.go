package task

import (
	"slices"
	"time"
)

// Status is the workflow state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

// Snapshot is a complete task record as exchanged between clients.
type Snapshot struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"projectId,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       Status     `json:"status,omitempty"`
	Progress     int        `json:"progress"`
	Assignee     string     `json:"assignee,omitempty"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Deleted      bool       `json:"deleted,omitempty"`
	// ModifiedAt is the modification marker in unix milliseconds.
	ModifiedAt int64  `json:"modifiedAt"`
	ModifiedBy string `json:"modifiedBy,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.StartDate != nil {
		t := *s.StartDate
		out.StartDate = &t
	}
	if s.EndDate != nil {
		t := *s.EndDate
		out.EndDate = &t
	}
	out.Dependencies = slices.Clone(s.Dependencies)
	return out
}

// SameContent reports whether both snapshots carry the same task fields,
// ignoring the modification marker and author.
func (s Snapshot) SameContent(other Snapshot) bool {
	return s.ID == other.ID &&
		s.ProjectID == other.ProjectID &&
		s.Title == other.Title &&
		s.Description == other.Description &&
		s.Status == other.Status &&
		s.Progress == other.Progress &&
		s.Assignee == other.Assignee &&
		s.Deleted == other.Deleted &&
		timeEqual(s.StartDate, other.StartDate) &&
		timeEqual(s.EndDate, other.EndDate) &&
		slices.Equal(s.Dependencies, other.Dependencies)
}

// Equal reports whether both snapshots are identical, including the marker.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.SameContent(other) && s.ModifiedAt == other.ModifiedAt && s.ModifiedBy == other.ModifiedBy
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// MutationOp identifies a store mutation.
type MutationOp string

const (
	MutationPut    MutationOp = "put"
	MutationDelete MutationOp = "delete"
)

// Source identifies which path produced a store mutation.
type Source string

const (
	SourceLocal      Source = "local"
	SourceRemote     Source = "remote"
	SourceResolution Source = "resolution"
)

// Mutation is a single change applied to the Store.
type Mutation struct {
	Op     MutationOp
	Task   Snapshot
	TaskID string
	Source Source
}

// Change describes an applied mutation.
type Change struct {
	Op       MutationOp `json:"op"`
	TaskID   string     `json:"taskId"`
	Source   Source     `json:"source"`
	Previous *Snapshot  `json:"previous,omitempty"`
	Current  *Snapshot  `json:"current,omitempty"`
}
