package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestRunExtractsLastJSONObjectOnSuccess(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "main.sh", `#!/bin/sh
echo "starting up"
echo "not json at all"
echo '{"status":"success","outputs":{"result":"done"}}'
exit 0
`)
	manifest := writeScript(t, dir, "manifest.json", `{"mode":"run","task_id":"t1","inputs":{}}`)

	r := NewRunner()
	res := r.Run(context.Background(), "/bin/sh", script, manifest, 5*time.Second)

	require.True(t, res.Success)
	require.NotNil(t, res.Result)
	require.Equal(t, "success", res.Result["status"])
	require.Contains(t, res.Logs, "starting up")
}

func TestRunReportsNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "main.sh", `#!/bin/sh
echo "boom"
exit 3
`)
	manifest := writeScript(t, dir, "manifest.json", `{}`)

	r := NewRunner()
	res := r.Run(context.Background(), "/bin/sh", script, manifest, 5*time.Second)

	require.False(t, res.Success)
	require.Equal(t, "Process exited with code 3", res.Error)
}

func TestRunTimesOut(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "main.sh", `#!/bin/sh
exec sleep 5
`)
	manifest := writeScript(t, dir, "manifest.json", `{}`)

	r := NewRunner()
	res := r.Run(context.Background(), "/bin/sh", script, manifest, 50*time.Millisecond)

	require.False(t, res.Success)
	require.Equal(t, "Process timed out", res.Error)
}

func TestRunNoParsableResultLeavesResultNil(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "main.sh", `#!/bin/sh
echo "just text"
exit 0
`)
	manifest := writeScript(t, dir, "manifest.json", `{}`)

	r := NewRunner()
	res := r.Run(context.Background(), "/bin/sh", script, manifest, 5*time.Second)

	require.True(t, res.Success)
	require.Nil(t, res.Result)
}
