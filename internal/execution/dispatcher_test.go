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

func TestDispatcherProcessesQueuedTaskThenIdles(t *testing.T) {
	store := memory.New()
	assetM, err := assets.New(t.TempDir(), store)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("#!/bin/sh\necho '{\"status\":\"success\",\"outputs\":{\"response\":\"ok\"}}'\n"), 0o755))

	mod := module.Module{
		ID:              "echo",
		Status:          module.StatusAvailable,
		Path:            dir,
		InterpreterPath: "/bin/sh",
		Config: module.Manifest{
			EntryPoint: "main.py",
			Inputs:     []module.InputContract{{Key: "msg", ContractType: module.ContractValue}},
			Outputs:    []module.OutputContract{{Key: "response", ContractType: module.ContractValue}},
		},
	}
	ctx := context.Background()
	_, err = store.CreateModule(ctx, mod)
	require.NoError(t, err)

	msgAsset, err := assetM.CreateValue(ctx, "msg", "hi", "text/plain")
	require.NoError(t, err)
	outAsset, err := assetM.CreatePending(ctx, "t1", "response", "text/plain", asset.KindValue)
	require.NoError(t, err)

	_, err = store.CreateTask(ctx, task.Task{
		ID:        "t1",
		ModuleID:  "echo",
		Status:    task.StatusQueued,
		InputMap:  map[string]string{"msg": msgAsset.ID},
		OutputMap: map[string]string{"response": outAsset.ID},
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	engine := New(store, store, assetM, registry.NewRunner(), &countingUnblocker{}, nil, WithTempRoot(t.TempDir()))
	dispatcher := NewDispatcher(engine, 2)

	require.NoError(t, dispatcher.Start(ctx))
	require.Eventually(t, func() bool {
		got, err := store.GetTask(ctx, "t1")
		return err == nil && got.Status == task.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, dispatcher.Stop(stopCtx))
}
