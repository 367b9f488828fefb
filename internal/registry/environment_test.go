package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvPathAndInterpreterPath(t *testing.T) {
	mgr := NewEnvironmentManager(DefaultEnvConfig(), nil)
	dir := "/modules/echo"
	require.Equal(t, filepath.Join(dir, "venv"), mgr.EnvPath(dir))
	require.Contains(t, mgr.InterpreterPath(dir), mgr.EnvPath(dir))
}

func TestInstallDepsSkipsWhenNoRequirementsFile(t *testing.T) {
	dir := t.TempDir()
	mgr := NewEnvironmentManager(DefaultEnvConfig(), nil)

	var lines []string
	ok := mgr.InstallDeps(context.Background(), dir, func(line string) {
		lines = append(lines, line)
	})

	require.True(t, ok)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "Skipping pip install")
}

func TestInstallDepsFailsWithoutInterpreter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, requirementsFile), []byte("requests==2.0\n"), 0o644))

	mgr := NewEnvironmentManager(EnvConfig{InterpreterCmd: "python3"}, nil)
	ok := mgr.InstallDeps(context.Background(), dir, func(string) {})

	require.False(t, ok)
}
