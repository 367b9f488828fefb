package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atomrun/kernel/internal/domain/asset"
	"github.com/atomrun/kernel/internal/domain/module"
	"github.com/atomrun/kernel/internal/domain/task"
	"github.com/atomrun/kernel/internal/storage"
)

func TestModuleLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	m, err := s.CreateModule(ctx, module.Module{ID: "echo", Status: module.StatusDetected})
	require.NoError(t, err)
	require.False(t, m.CreatedAt.IsZero())

	require.NoError(t, s.AppendInstallLog(ctx, "echo", "line one"))
	require.NoError(t, s.AppendInstallLog(ctx, "echo", "line two"))

	got, err := s.GetModule(ctx, "echo")
	require.NoError(t, err)
	require.Equal(t, []string{"line one", "line two"}, got.InstallationLogs)

	_, err = s.GetModule(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClaimNextQueuedIsFIFOAndExclusive(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.CreateTask(ctx, task.Task{ID: "t1", Status: task.StatusQueued})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, task.Task{ID: "t2", Status: task.StatusQueued})
	require.NoError(t, err)

	claimed, err := s.ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, claimed.ID)
	require.Equal(t, task.StatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	second, err := s.ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.Equal(t, "t2", second.ID)

	_, err = s.ClaimNextQueued(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFindBlockedTasksByAsset(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.CreateTask(ctx, task.Task{ID: "blocked", Status: task.StatusBlocked, BlockingAssets: []string{"a1"}})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, task.Task{ID: "queued", Status: task.StatusQueued})
	require.NoError(t, err)

	tasks, err := s.FindBlockedTasksByAsset(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "blocked", tasks[0].ID)
}

func TestAssetCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()

	a, err := s.CreateAsset(ctx, asset.Asset{Label: "output", Kind: asset.KindValue, Status: asset.StatusPending, CreatedByTask: "t1"})
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)

	a.Status = asset.StatusAvailable
	a.ValueContent = "done"
	updated, err := s.UpdateAsset(ctx, a)
	require.NoError(t, err)
	require.Equal(t, asset.StatusAvailable, updated.Status)

	got, err := s.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "done", got.ValueContent)
}
