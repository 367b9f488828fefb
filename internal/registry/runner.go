package registry

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/tidwall/gjson"
)

// RunResult is the outcome of a single module subprocess invocation.
type RunResult struct {
	Success bool
	Logs    []string
	Result  map[string]any
	Error   string
}

// Runner invokes a module's entry script as a subprocess, feeding it a
// manifest file path and capturing its merged stdout/stderr.
type Runner struct{}

// NewRunner constructs a Runner. It carries no state.
func NewRunner() *Runner { return &Runner{} }

// Run executes <interpreter> <script> --manifest <manifestPath>, merging
// standard error into standard output, and enforces timeout by terminating
// the subprocess. Result extraction scans the captured log lines in reverse
// order for the first line that parses as a JSON object.
func (r *Runner) Run(ctx context.Context, interpreter, script, manifestPath string, timeout time.Duration) RunResult {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, interpreter, script, "--manifest", manifestPath)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return RunResult{Success: false, Error: fmt.Sprintf("failed to start process: %v", err)}
	}
	cmd.Stderr = cmd.Stdout

	var logs []string
	if err := cmd.Start(); err != nil {
		return RunResult{Success: false, Error: fmt.Sprintf("failed to start process: %v", err)}
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		logs = append(logs, scanner.Text())
	}

	waitErr := cmd.Wait()

	if runCtx.Err() == context.DeadlineExceeded {
		return RunResult{Success: false, Logs: logs, Error: "Process timed out"}
	}

	result := extractResult(logs)

	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if ok {
			return RunResult{
				Success: false,
				Logs:    logs,
				Result:  result,
				Error:   fmt.Sprintf("Process exited with code %d", exitErr.ExitCode()),
			}
		}
		return RunResult{Success: false, Logs: logs, Error: waitErr.Error()}
	}

	return RunResult{Success: true, Logs: logs, Result: result}
}

// extractResult scans lines in reverse order for the first one that parses
// as a JSON object, ignoring lines that don't.
func extractResult(logs []string) map[string]any {
	for i := len(logs) - 1; i >= 0; i-- {
		line := logs[i]
		if !gjson.Valid(line) {
			continue
		}
		parsed := gjson.Parse(line)
		if !parsed.IsObject() {
			continue
		}
		m, ok := parsed.Value().(map[string]any)
		if !ok {
			continue
		}
		return m
	}
	return nil
}
