package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("MODULES_ROOT", "/var/lib/taskrun/modules")
	t.Setenv("EXECUTION_WORKERS", "4")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/var/lib/taskrun/modules", cfg.ModulesRoot)
	require.Equal(t, "storage", cfg.StorageRoot)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, "@every 30s", cfg.RescanCron)
}

func TestLoadRequiresModulesRoot(t *testing.T) {
	t.Setenv("MODULES_ROOT", "")
	_, err := Load("")
	require.Error(t, err)
}
