package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/rpggio/tasksync/internal/domain/task"
	"github.com/rpggio/tasksync/internal/syncqueue"
	"github.com/stretchr/testify/require"
)

func TestQueueRepository_SaveListDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(NewTestDB(t))

	enqueued := time.Unix(1_700_000_000, 987_654_321)
	update := syncqueue.Item{
		ID:         "q1",
		Operation:  syncqueue.OpUpdate,
		TaskID:     "T1",
		Task:       &task.Snapshot{ID: "T1", Title: "Design", Progress: 10, ModifiedAt: 1, ModifiedBy: "alice"},
		Priority:   syncqueue.PriorityMedium,
		Seq:        2,
		EnqueuedAt: enqueued,
	}
	del := syncqueue.Item{
		ID:         "q0",
		Operation:  syncqueue.OpDelete,
		TaskID:     "T2",
		Priority:   syncqueue.PriorityHigh,
		Seq:        1,
		EnqueuedAt: enqueued,
	}
	require.NoError(t, repo.Save(ctx, "client-a", update))
	require.NoError(t, repo.Save(ctx, "client-a", del))
	require.NoError(t, repo.Save(ctx, "client-b", update))

	items, err := repo.List(ctx, "client-a")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "q0", items[0].ID, "ordered by seq")
	require.Nil(t, items[0].Task)
	require.Equal(t, syncqueue.PriorityHigh, items[0].Priority)
	require.Equal(t, "q1", items[1].ID)
	require.NotNil(t, items[1].Task)
	require.True(t, update.Task.Equal(*items[1].Task))
	require.True(t, enqueued.Equal(items[1].EnqueuedAt), "enqueue time keeps nanosecond precision")

	update.Attempts = 3
	update.Task.Progress = 40
	require.NoError(t, repo.Save(ctx, "client-a", update))
	items, err = repo.List(ctx, "client-a")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, 3, items[1].Attempts)
	require.Equal(t, 40, items[1].Task.Progress)

	require.NoError(t, repo.Delete(ctx, "client-a", "q0"))
	require.NoError(t, repo.Delete(ctx, "client-a", "q0"), "delete is idempotent")
	items, err = repo.List(ctx, "client-a")
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, err = repo.List(ctx, "client-b")
	require.NoError(t, err)
	require.Len(t, items, 1, "clients are isolated")
}

func TestQueueRepository_RestoresIntoQueue(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(NewTestDB(t))

	first := syncqueue.New(nil, repo, syncqueue.Options{ClientID: "c1"})
	enqueue := func(id string, progress int, p syncqueue.Priority) {
		_, err := first.Enqueue(ctx, syncqueue.Item{
			Operation: syncqueue.OpUpdate,
			Task:      &task.Snapshot{ID: id, Progress: progress, ModifiedAt: int64(progress)},
			Priority:  p,
		})
		require.NoError(t, err)
	}
	enqueue("T1", 10, syncqueue.PriorityLow)
	enqueue("T2", 20, syncqueue.PriorityHigh)
	enqueue("T1", 40, syncqueue.PriorityLow)

	second := syncqueue.New(nil, repo, syncqueue.Options{ClientID: "c1"})
	require.NoError(t, second.Load(ctx))
	items := second.Items()
	require.Len(t, items, 2)
	require.Equal(t, "T2", items[0].TaskID)
	require.Equal(t, "T1", items[1].TaskID)
	require.Equal(t, 40, items[1].Task.Progress)
}
