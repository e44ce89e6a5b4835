package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service handles activity log operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new activity service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// LogActivity logs an activity entry, filling in id and timestamp if missing.
func (s *Service) LogActivity(ctx context.Context, clientID string, entry *ActivityEntry) error {
	if entry == nil || entry.ActivityType == "" {
		return ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if err := s.repo.Log(ctx, clientID, entry); err != nil {
		return fmt.Errorf("logging activity: %w", err)
	}
	return nil
}

// Record logs an event with details encoded as JSON. Failures are logged
// and swallowed so the sync path never depends on the activity store.
func (s *Service) Record(ctx context.Context, clientID string, typ ActivityType, taskID, actorID, summary string, details any) {
	entry := &ActivityEntry{
		ActivityType: typ,
		ActorID:      actorID,
		Summary:      summary,
	}
	if taskID != "" {
		entry.TaskID = &taskID
	}
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			s.logger.Warn("failed to encode activity details", "type", typ, "error", err)
		} else {
			entry.Details = string(data)
		}
	}
	if err := s.LogActivity(ctx, clientID, entry); err != nil {
		s.logger.Warn("failed to record activity", "type", typ, "error", err)
	}
}

// GetRecentActivity lists activity entries with filtering, newest first.
func (s *Service) GetRecentActivity(ctx context.Context, clientID string, opts ListActivityOptions) ([]ActivityEntry, error) {
	return s.repo.List(ctx, clientID, opts)
}
