package task_test

import (
	"testing"
	"time"

	"github.com/rpggio/tasksync/internal/domain/task"
	"github.com/stretchr/testify/require"
)

func TestStore_ApplyPutAndGet(t *testing.T) {
	store := task.NewStore()

	change, err := store.Apply(task.Mutation{
		Op:     task.MutationPut,
		Task:   task.Snapshot{ID: "t1", Title: "Draft", Progress: 10},
		Source: task.SourceLocal,
	})
	require.NoError(t, err)
	require.Nil(t, change.Previous)
	require.Equal(t, "Draft", change.Current.Title)

	change, err = store.Apply(task.Mutation{
		Op:     task.MutationPut,
		Task:   task.Snapshot{ID: "t1", Title: "Draft", Progress: 40},
		Source: task.SourceRemote,
	})
	require.NoError(t, err)
	require.Equal(t, 10, change.Previous.Progress)

	got, ok := store.Get("t1")
	require.True(t, ok)
	require.Equal(t, 40, got.Progress)
	require.Equal(t, 1, store.Len())
}

func TestStore_ApplyDelete(t *testing.T) {
	store := task.NewStore()
	_, err := store.Apply(task.Mutation{Op: task.MutationPut, Task: task.Snapshot{ID: "t1"}})
	require.NoError(t, err)

	change, err := store.Apply(task.Mutation{Op: task.MutationDelete, TaskID: "t1", Source: task.SourceRemote})
	require.NoError(t, err)
	require.Equal(t, "t1", change.Previous.ID)

	_, ok := store.Get("t1")
	require.False(t, ok)

	_, err = store.Apply(task.Mutation{Op: task.MutationDelete, TaskID: "t1"})
	require.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestStore_ApplyRejectsInvalidMutation(t *testing.T) {
	store := task.NewStore()

	_, err := store.Apply(task.Mutation{Op: task.MutationPut})
	require.ErrorIs(t, err, task.ErrInvalidMutation)

	_, err = store.Apply(task.Mutation{Op: "rename", TaskID: "t1"})
	require.ErrorIs(t, err, task.ErrInvalidMutation)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	store := task.NewStore()
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	_, err := store.Apply(task.Mutation{Op: task.MutationPut, Task: task.Snapshot{
		ID:           "t1",
		StartDate:    &start,
		Dependencies: []string{"t0"},
	}})
	require.NoError(t, err)

	got, _ := store.Get("t1")
	got.Dependencies[0] = "changed"
	*got.StartDate = start.Add(time.Hour)

	again, _ := store.Get("t1")
	require.Equal(t, []string{"t0"}, again.Dependencies)
	require.True(t, again.StartDate.Equal(start))
}

func TestStore_SubscribeAndUnsubscribe(t *testing.T) {
	store := task.NewStore()
	var changes []task.Change
	unsubscribe := store.Subscribe(func(c task.Change) { changes = append(changes, c) })

	_, err := store.Apply(task.Mutation{Op: task.MutationPut, Task: task.Snapshot{ID: "t1"}, Source: task.SourceLocal})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, task.SourceLocal, changes[0].Source)

	unsubscribe()
	_, err = store.Apply(task.Mutation{Op: task.MutationPut, Task: task.Snapshot{ID: "t2"}})
	require.NoError(t, err)
	require.Len(t, changes, 1)
}

func TestStore_ListOrderedByID(t *testing.T) {
	store := task.NewStore()
	for _, id := range []string{"c", "a", "b"} {
		_, err := store.Apply(task.Mutation{Op: task.MutationPut, Task: task.Snapshot{ID: id}})
		require.NoError(t, err)
	}

	list := store.List()
	require.Len(t, list, 3)
	require.Equal(t, "a", list[0].ID)
	require.Equal(t, "c", list[2].ID)
}
