package sqlstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rpggio/tasksync/internal/conflict"
	"github.com/rpggio/tasksync/internal/domain/task"
	"github.com/stretchr/testify/require"
)

func TestConflictRepository_SaveListDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewConflictRepository(NewTestDB(t))

	local := task.Snapshot{ID: "T2", Title: "Build", Progress: 30, ModifiedAt: 1000, ModifiedBy: "alice"}
	remote := task.Snapshot{ID: "T2", Title: "Build", Progress: 60, ModifiedAt: 2000, ModifiedBy: "bob"}
	older := conflict.NewRecord(local, remote, "bob", time.UnixMilli(5000))
	newer := conflict.NewRecord(local, task.Snapshot{ID: "T2", Deleted: true, ModifiedAt: 2500, ModifiedBy: "carol"}, "carol", time.UnixMilli(9000))

	require.NoError(t, repo.Save(ctx, "c1", newer))
	require.NoError(t, repo.Save(ctx, "c1", older))
	require.NoError(t, repo.Save(ctx, "c1", older), "save is an upsert")

	records, err := repo.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, older.ID, records[0].ID, "oldest first")
	require.Equal(t, conflict.KindTaskEdit, records[0].Kind)
	require.Equal(t, "bob", records[0].ConflictingActorID)
	require.True(t, records[0].LocalVersion.Equal(local))
	require.True(t, records[0].RemoteVersion.Equal(remote))
	require.True(t, time.UnixMilli(5000).Equal(records[0].DetectedAt))
	require.Equal(t, conflict.KindTaskDelete, records[1].Kind)
	require.True(t, records[1].RemoteVersion.Deleted)

	require.NoError(t, repo.Delete(ctx, "c1", older.ID))
	require.NoError(t, repo.Delete(ctx, "c1", "missing"))
	records, err = repo.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	records, err = repo.List(ctx, "other")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestConflictRepository_ResolverReloads(t *testing.T) {
	ctx := context.Background()
	repo := NewConflictRepository(NewTestDB(t))
	store := task.NewStore()

	local := task.Snapshot{ID: "T1", Progress: 10, ModifiedAt: 1000, ModifiedBy: "alice"}
	remote := task.Snapshot{ID: "T1", Progress: 90, ModifiedAt: 1500, ModifiedBy: "bob"}
	first := conflict.NewResolver(store, repo, "c1", nil)
	rec := conflict.NewRecord(local, remote, "bob", time.Now())
	require.NoError(t, first.Add(ctx, rec))

	second := conflict.NewResolver(store, repo, "c1", nil)
	require.NoError(t, second.Load(ctx))
	require.Equal(t, 1, second.Count())

	res, err := second.Resolve(ctx, rec.ID, conflict.ChoiceLocal)
	require.NoError(t, err)
	require.True(t, res.Found)

	records, err := repo.List(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, records, "resolution removes the stored record")
}

func TestConflictRepository_ResolverReloadsInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewConflictRepository(NewTestDB(t))
	store := task.NewStore()

	detected := time.Unix(1_700_000_000, 123_456_789)
	first := conflict.NewResolver(store, repo, "c1", nil)
	var want []string
	for i := range 20 {
		id := fmt.Sprintf("T%02d", i)
		rec := conflict.NewRecord(
			task.Snapshot{ID: id, Progress: 10, ModifiedAt: 1000, ModifiedBy: "alice"},
			task.Snapshot{ID: id, Progress: 90, ModifiedAt: 1500, ModifiedBy: "bob"},
			"bob", detected)
		require.NoError(t, first.Add(ctx, rec))
		want = append(want, rec.ID)
	}

	second := conflict.NewResolver(store, repo, "c1", nil)
	require.NoError(t, second.Load(ctx))
	var got []string
	for _, rec := range second.Unresolved() {
		got = append(got, rec.ID)
		require.True(t, detected.Equal(rec.DetectedAt), "detection time keeps sub-millisecond precision")
	}
	require.Equal(t, want, got)

	late := conflict.NewRecord(task.Snapshot{ID: "T99", Progress: 1}, task.Snapshot{ID: "T99", Progress: 2}, "bob", detected)
	require.NoError(t, second.Add(ctx, late))

	third := conflict.NewResolver(store, repo, "c1", nil)
	require.NoError(t, third.Load(ctx))
	unresolved := third.Unresolved()
	require.Len(t, unresolved, 21)
	require.Equal(t, late.ID, unresolved[20].ID, "records added after a reload stay behind the restored ones")
}
