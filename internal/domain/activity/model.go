package activity

import "time"

// ActivityType represents the type of sync event
type ActivityType string

const (
	TypeConnected          ActivityType = "connected"
	TypeDisconnected       ActivityType = "disconnected"
	TypeReconnectExhausted ActivityType = "reconnect_exhausted"
	TypeDeliveryFailed     ActivityType = "delivery_failed"
	TypeConflictDetected   ActivityType = "conflict_detected"
	TypeConflictResolved   ActivityType = "conflict_resolved"
	TypeRemoteApplied      ActivityType = "remote_applied"
)

// ActivityEntry represents an event in the sync activity log
type ActivityEntry struct {
	ID           string       `json:"id"`
	ClientID     string       `json:"client_id"`
	TaskID       *string      `json:"task_id,omitempty"`
	ActorID      string       `json:"actor_id,omitempty"`
	ActivityType ActivityType `json:"type"`
	Summary      string       `json:"summary"`
	Details      string       `json:"details,omitempty"` // JSON string
	CreatedAt    time.Time    `json:"created_at"`
}
