package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atomrun/kernel/internal/config"
	"github.com/atomrun/kernel/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ModulesRoot:     t.TempDir(),
		StorageRoot:     t.TempDir(),
		RescanCron:      "@every 1h",
		Workers:         1,
		DefaultTimeout:  5 * time.Second,
		DispatchRateHz:  10,
		DiagnosticsAddr: ":0",
	}
}

func TestNewWiresEveryComponent(t *testing.T) {
	a, err := New(testConfig(t), storage.Stores{}, nil)
	require.NoError(t, err)

	require.NotNil(t, a.Scanner)
	require.NotNil(t, a.Environment)
	require.NotNil(t, a.Runner)
	require.NotNil(t, a.Registry)
	require.NotNil(t, a.Assets)
	require.NotNil(t, a.Tasks)
	require.NotNil(t, a.Engine)
	require.NotNil(t, a.Dispatcher)
	require.NotNil(t, a.Metrics)
	require.Len(t, a.Descriptors(), 2)
}

func TestStartStopRunsAndDrainsBackgroundServices(t *testing.T) {
	a, err := New(testConfig(t), storage.Stores{}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx))
}
