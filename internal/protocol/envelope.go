package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/rpggio/tasksync/internal/domain/task"
)

// Kind identifies the envelope payload type.
type Kind string

const (
	KindTaskUpdate       Kind = "task_update"
	KindTaskCreate       Kind = "task_create"
	KindTaskDelete       Kind = "task_delete"
	KindMemberJoin       Kind = "member_join"
	KindMemberLeave      Kind = "member_leave"
	KindConflictDetected Kind = "conflict_detected"
	KindHeartbeat        Kind = "heartbeat"
)

// Known reports whether k is one of the kinds this client understands.
func (k Kind) Known() bool {
	switch k {
	case KindTaskUpdate, KindTaskCreate, KindTaskDelete,
		KindMemberJoin, KindMemberLeave, KindConflictDetected, KindHeartbeat:
		return true
	}
	return false
}

// Scope carries routing identifiers. It never affects ordering.
type Scope struct {
	TeamID    string `json:"teamId,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
}

// Envelope is the unit of wire exchange.
type Envelope struct {
	Kind            Kind            `json:"kind"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	OriginTimestamp int64           `json:"originTimestamp"`
	ActorID         string          `json:"actorId"`
	Scope           *Scope          `json:"scope,omitempty"`
}

// DeletePayload is the body of a task_delete envelope.
type DeletePayload struct {
	TaskID string `json:"taskId"`
}

// MemberPayload is the body of member_join and member_leave envelopes.
type MemberPayload struct {
	ActorID     string `json:"actorId"`
	DisplayName string `json:"displayName,omitempty"`
}

// ConflictPayload is the body of a server-originated conflict_detected envelope.
type ConflictPayload struct {
	ResourceID         string         `json:"resourceId"`
	ConflictingActorID string         `json:"conflictingActorId,omitempty"`
	RemoteVersion      *task.Snapshot `json:"remoteVersion,omitempty"`
}

// New builds an envelope with payload encoded as JSON.
func New(kind Kind, actorID string, payload any, originTimestamp int64, scope *Scope) (Envelope, error) {
	env := Envelope{
		Kind:            kind,
		OriginTimestamp: originTimestamp,
		ActorID:         actorID,
		Scope:           scope,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		env.Payload = data
	}
	return env, nil
}

// Heartbeat builds a liveness envelope.
func Heartbeat(actorID string, originTimestamp int64) Envelope {
	return Envelope{Kind: KindHeartbeat, ActorID: actorID, OriginTimestamp: originTimestamp}
}

// Task decodes a task_update or task_create payload.
func (e Envelope) Task() (task.Snapshot, error) {
	var snap task.Snapshot
	if err := e.decode(&snap); err != nil {
		return task.Snapshot{}, err
	}
	return snap, nil
}

// TaskID decodes a task_delete payload.
func (e Envelope) TaskID() (string, error) {
	var p DeletePayload
	if err := e.decode(&p); err != nil {
		return "", err
	}
	return p.TaskID, nil
}

// Member decodes a member_join or member_leave payload.
func (e Envelope) Member() (MemberPayload, error) {
	var p MemberPayload
	if err := e.decode(&p); err != nil {
		return MemberPayload{}, err
	}
	return p, nil
}

// Conflict decodes a conflict_detected payload.
func (e Envelope) Conflict() (ConflictPayload, error) {
	var p ConflictPayload
	if err := e.decode(&p); err != nil {
		return ConflictPayload{}, err
	}
	return p, nil
}

func (e Envelope) decode(v any) error {
	if len(e.Payload) == 0 {
		return &ParseError{Reason: fmt.Sprintf("%s envelope has no payload", e.Kind)}
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return &ParseError{Reason: fmt.Sprintf("decode %s payload", e.Kind), Err: err}
	}
	return nil
}
