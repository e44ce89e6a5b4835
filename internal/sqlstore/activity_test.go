package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/rpggio/tasksync/internal/domain/activity"
	"github.com/rpggio/tasksync/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestActivityRepository_LogList(t *testing.T) {
	ctx := context.Background()
	repo := NewActivityRepository(NewTestDB(t))

	entry1 := &activity.ActivityEntry{
		ActivityType: activity.TypeConnected,
		Summary:      "Connected",
		CreatedAt:    time.UnixMilli(1000),
	}
	entry2 := &activity.ActivityEntry{
		ActivityType: activity.TypeDisconnected,
		Summary:      "Disconnected",
		Details:      `{"error":"EOF"}`,
		CreatedAt:    time.UnixMilli(2000),
	}
	require.NoError(t, repo.Log(ctx, "c1", entry1))
	require.NoError(t, repo.Log(ctx, "c1", entry2))
	require.NotEmpty(t, entry1.ID)
	require.Equal(t, "c1", entry1.ClientID)

	entries, err := repo.List(ctx, "c1", activity.ListActivityOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, activity.TypeDisconnected, entries[0].ActivityType, "newest first")
	require.Equal(t, `{"error":"EOF"}`, entries[0].Details)
	require.Equal(t, activity.TypeConnected, entries[1].ActivityType)

	entries, err = repo.List(ctx, "c1", activity.ListActivityOptions{Offset: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, activity.TypeConnected, entries[0].ActivityType)

	require.ErrorIs(t, repo.Log(ctx, "c1", entry1), repository.ErrConflict)
}

func TestActivityRepository_FiltersAndClientIsolation(t *testing.T) {
	ctx := context.Background()
	repo := NewActivityRepository(NewTestDB(t))

	taskID := "T1"
	require.NoError(t, repo.Log(ctx, "c1", &activity.ActivityEntry{
		TaskID:       &taskID,
		ActorID:      "bob",
		ActivityType: activity.TypeConflictDetected,
		Summary:      "Conflict on T1",
	}))
	require.NoError(t, repo.Log(ctx, "c1", &activity.ActivityEntry{
		ActivityType: activity.TypeConnected,
		Summary:      "Connected",
	}))
	require.NoError(t, repo.Log(ctx, "c2", &activity.ActivityEntry{
		TaskID:       &taskID,
		ActivityType: activity.TypeConflictDetected,
		Summary:      "Conflict on T1",
	}))

	conflictType := activity.TypeConflictDetected
	entries, err := repo.List(ctx, "c1", activity.ListActivityOptions{TaskID: &taskID, ActivityType: &conflictType})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].TaskID)
	require.Equal(t, "T1", *entries[0].TaskID)
	require.Equal(t, "bob", entries[0].ActorID)

	entries, err = repo.List(ctx, "c1", activity.ListActivityOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entries, err = repo.List(ctx, "c3", activity.ListActivityOptions{})
	require.NoError(t, err)
	require.Empty(t, entries)
}
