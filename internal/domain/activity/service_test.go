package activity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rpggio/tasksync/internal/domain/activity"
	"github.com/rpggio/tasksync/internal/repository/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestActivityService_LogAndList(t *testing.T) {
	ctx := context.Background()
	clientID := "client1"

	repo := &mocks.ActivityRepository{}
	entry := &activity.ActivityEntry{
		ActivityType: activity.TypeConflictDetected,
		Summary:      "conflict on T2",
	}

	repo.On("Log", ctx, clientID, entry).Return(nil)
	repo.On("List", ctx, clientID, activity.ListActivityOptions{Limit: 10}).Return([]activity.ActivityEntry{*entry}, nil)

	svc := activity.NewService(repo, nil)
	require.NoError(t, svc.LogActivity(ctx, clientID, entry))
	require.NotEmpty(t, entry.ID)
	require.False(t, entry.CreatedAt.IsZero())

	entries, err := svc.GetRecentActivity(ctx, clientID, activity.ListActivityOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestActivityService_LogRejectsEmptyEntry(t *testing.T) {
	svc := activity.NewService(&mocks.ActivityRepository{}, nil)
	require.ErrorIs(t, svc.LogActivity(context.Background(), "c", nil), activity.ErrInvalidInput)
	require.ErrorIs(t, svc.LogActivity(context.Background(), "c", &activity.ActivityEntry{}), activity.ErrInvalidInput)
}

func TestActivityService_RecordEncodesDetails(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ActivityRepository{}
	repo.On("Log", ctx, "client1", mock.MatchedBy(func(e *activity.ActivityEntry) bool {
		return e.ActivityType == activity.TypeDeliveryFailed &&
			e.TaskID != nil && *e.TaskID == "T1" &&
			e.Details == `{"attempts":5}`
	})).Return(nil)

	svc := activity.NewService(repo, nil)
	svc.Record(ctx, "client1", activity.TypeDeliveryFailed, "T1", "", "gave up", map[string]int{"attempts": 5})
	repo.AssertExpectations(t)
}

func TestActivityService_RecordSwallowsErrors(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ActivityRepository{}
	repo.On("Log", ctx, "client1", mock.Anything).Return(errors.New("locked"))

	svc := activity.NewService(repo, nil)
	require.NotPanics(t, func() {
		svc.Record(ctx, "client1", activity.TypeConnected, "", "", "connected", nil)
	})
}
