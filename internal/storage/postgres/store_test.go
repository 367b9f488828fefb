package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/atomrun/kernel/internal/domain/asset"
	"github.com/atomrun/kernel/internal/domain/module"
	"github.com/atomrun/kernel/internal/domain/task"
	"github.com/atomrun/kernel/internal/storage"
)

// TestStoreIntegration exercises the Store against a live Postgres instance.
// It is skipped unless TEST_POSTGRES_DSN is set.
func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	resetTables(t, db)
	store := New(db)
	ctx := context.Background()

	m := module.Module{
		ID:     "test-module-v1",
		Status: module.StatusDetected,
		Path:   "/modules/test-module-v1",
		Config: module.Manifest{Name: "test-module-v1", Version: "1.0.0", EntryPoint: "main.py"},
	}
	created, err := store.CreateModule(ctx, m)
	require.NoError(t, err)
	require.Equal(t, module.StatusDetected, created.Status)

	fetched, err := store.GetModule(ctx, "test-module-v1")
	require.NoError(t, err)
	require.Equal(t, "test-module-v1", fetched.ID)

	require.NoError(t, store.AppendInstallLog(ctx, "test-module-v1", "[Setup] created venv"))
	fetched, err = store.GetModule(ctx, "test-module-v1")
	require.NoError(t, err)
	require.Equal(t, []string{"[Setup] created venv"}, fetched.InstallationLogs)

	a, err := store.CreateAsset(ctx, asset.Asset{ID: "asset-1", Kind: asset.KindValue, Status: asset.StatusPending, CreatedByTask: "task-1"})
	require.NoError(t, err)
	require.Equal(t, asset.StatusPending, a.Status)

	tk, err := store.CreateTask(ctx, task.Task{
		ID:             "task-1",
		ModuleID:       "test-module-v1",
		Status:         task.StatusBlocked,
		BlockingAssets: []string{"asset-1"},
	})
	require.NoError(t, err)

	blocked, err := store.FindBlockedTasksByAsset(ctx, "asset-1")
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	require.Equal(t, tk.ID, blocked[0].ID)

	tk.Status = task.StatusQueued
	tk.BlockingAssets = nil
	_, err = store.UpdateTask(ctx, tk)
	require.NoError(t, err)

	claimed, err := store.ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.Equal(t, task.StatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	_, err = store.ClaimNextQueued(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func resetTables(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, table := range []string{"tasks", "assets", "modules"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
}
