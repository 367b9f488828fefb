package execution

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atomrun/kernel/internal/assets"
	"github.com/atomrun/kernel/internal/domain/asset"
	"github.com/atomrun/kernel/internal/domain/module"
	"github.com/atomrun/kernel/internal/domain/task"
	"github.com/atomrun/kernel/internal/registry"
	"github.com/atomrun/kernel/internal/storage/memory"
)

type countingUnblocker struct {
	calls []string
}

func (c *countingUnblocker) OnAssetAvailable(_ context.Context, assetID string) error {
	c.calls = append(c.calls, assetID)
	return nil
}

func writeEchoModule(t *testing.T, body string) (moduleDir string) {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "main.py")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+body), 0o755))
	return dir
}

func newHarness(t *testing.T, body string) (*Engine, *memory.Store, *assets.Manager, *countingUnblocker, string) {
	t.Helper()
	store := memory.New()
	assetM, err := assets.New(t.TempDir(), store)
	require.NoError(t, err)

	dir := writeEchoModule(t, body)
	mod := module.Module{
		ID:              "echo",
		Status:          module.StatusAvailable,
		Path:            dir,
		InterpreterPath: "/bin/sh",
		Config: module.Manifest{
			EntryPoint: "main.py",
			Inputs: []module.InputContract{
				{Key: "msg", ContractType: module.ContractValue},
			},
			Outputs: []module.OutputContract{
				{Key: "response", ContractType: module.ContractValue},
			},
		},
	}
	_, err = store.CreateModule(context.Background(), mod)
	require.NoError(t, err)

	unblocker := &countingUnblocker{}
	engine := New(store, store, assetM, registry.NewRunner(), unblocker, nil, WithTempRoot(t.TempDir()), WithTimeout(5*time.Second))
	return engine, store, assetM, unblocker, dir
}

func TestRunOnceHappyPathCompletesTaskAndCascades(t *testing.T) {
	engine, store, assetM, unblocker, _ := newHarness(t, `echo '{"status":"success","outputs":{"response":"Echo: hi"}}'`)
	ctx := context.Background()

	msgAsset, err := assetM.CreateValue(ctx, "msg", "hi", "text/plain")
	require.NoError(t, err)

	outAsset, err := assetM.CreatePending(ctx, "placeholder", "response", "text/plain", asset.KindValue)
	require.NoError(t, err)

	tsk := task.Task{
		ID:        "t1",
		ModuleID:  "echo",
		Status:    task.StatusQueued,
		InputMap:  map[string]string{"msg": msgAsset.ID},
		OutputMap: map[string]string{"response": outAsset.ID},
		CreatedAt: time.Now().UTC(),
	}
	_, err = store.CreateTask(ctx, tsk)
	require.NoError(t, err)

	processed, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)

	outGot, err := store.GetAsset(ctx, outAsset.ID)
	require.NoError(t, err)
	require.Equal(t, asset.StatusAvailable, outGot.Status)
	require.Equal(t, "Echo: hi", outGot.ValueContent)

	require.Equal(t, []string{outAsset.ID}, unblocker.calls)
}

func TestRunOnceReturnsFalseWhenQueueEmpty(t *testing.T) {
	engine, _, _, _, _ := newHarness(t, `echo '{"status":"success"}'`)
	processed, err := engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, processed)
}

func TestRunOnceFailureCascadesToEveryOutput(t *testing.T) {
	engine, store, assetM, unblocker, _ := newHarness(t, `exit 1`)
	ctx := context.Background()

	msgAsset, err := assetM.CreateValue(ctx, "msg", "hi", "text/plain")
	require.NoError(t, err)
	outAsset, err := assetM.CreatePending(ctx, "placeholder", "response", "text/plain", asset.KindValue)
	require.NoError(t, err)

	tsk := task.Task{
		ID:        "t2",
		ModuleID:  "echo",
		Status:    task.StatusQueued,
		InputMap:  map[string]string{"msg": msgAsset.ID},
		OutputMap: map[string]string{"response": outAsset.ID},
		CreatedAt: time.Now().UTC(),
	}
	_, err = store.CreateTask(ctx, tsk)
	require.NoError(t, err)

	processed, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	got, err := store.GetTask(ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, got.Status)
	require.Equal(t, "Process exited with code 1", got.ErrorLog)

	outGot, err := store.GetAsset(ctx, outAsset.ID)
	require.NoError(t, err)
	require.Equal(t, asset.StatusFailed, outGot.Status)
	require.Contains(t, outGot.Error, "t2")
	require.Empty(t, unblocker.calls)
}

func TestRunOnceFailsWhenModuleNotAvailable(t *testing.T) {
	engine, store, assetM, _, _ := newHarness(t, `echo '{"status":"success"}'`)
	ctx := context.Background()

	mod, err := store.GetModule(ctx, "echo")
	require.NoError(t, err)
	mod.Status = module.StatusError
	_, err = store.UpdateModule(ctx, mod)
	require.NoError(t, err)

	msgAsset, err := assetM.CreateValue(ctx, "msg", "hi", "text/plain")
	require.NoError(t, err)
	outAsset, err := assetM.CreatePending(ctx, "placeholder", "response", "text/plain", asset.KindValue)
	require.NoError(t, err)

	tsk := task.Task{
		ID:        "t3",
		ModuleID:  "echo",
		Status:    task.StatusQueued,
		InputMap:  map[string]string{"msg": msgAsset.ID},
		OutputMap: map[string]string{"response": outAsset.ID},
		CreatedAt: time.Now().UTC(),
	}
	_, err = store.CreateTask(ctx, tsk)
	require.NoError(t, err)

	_, err = engine.RunOnce(ctx)
	require.NoError(t, err)

	got, err := store.GetTask(ctx, "t3")
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, got.Status)
	require.Equal(t, "module not available", got.ErrorLog)
}
