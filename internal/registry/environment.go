package registry

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/atomrun/kernel/pkg/logger"
)

// EnvConfig carries the host-side commands used to provision and use a
// module's isolated interpreter environment. Defaults target a Python
// venv-style environment (the shape every example module in this system
// uses). The base interpreter is configurable; environments are always
// created with that interpreter's "-m venv".
type EnvConfig struct {
	// InterpreterCmd is the base interpreter used to create new
	// environments (e.g. "python3").
	InterpreterCmd string
}

// DefaultEnvConfig returns the conventional python3/venv configuration.
func DefaultEnvConfig() EnvConfig {
	return EnvConfig{InterpreterCmd: "python3"}
}

// EnvironmentManager provisions and locates a module's isolated interpreter
// environment.
type EnvironmentManager struct {
	cfg EnvConfig
	log *logger.Logger
}

// NewEnvironmentManager constructs an EnvironmentManager.
func NewEnvironmentManager(cfg EnvConfig, log *logger.Logger) *EnvironmentManager {
	return &EnvironmentManager{cfg: cfg, log: log}
}

// EnvPath returns the isolated environment directory for a module.
func (e *EnvironmentManager) EnvPath(moduleDir string) string {
	return filepath.Join(moduleDir, "venv")
}

// InterpreterPath returns the path to the environment's interpreter binary.
func (e *EnvironmentManager) InterpreterPath(moduleDir string) string {
	envPath := e.EnvPath(moduleDir)
	if runtime.GOOS == "windows" {
		return filepath.Join(envPath, "Scripts", "python.exe")
	}
	return filepath.Join(envPath, "bin", "python")
}

// CreateEnv creates an isolated interpreter environment at EnvPath(dir). The
// Registry Orchestrator calls it on every install pass, after moving the
// module to INSTALLING; on a re-install from ERROR or INSTALLING the target
// may already exist.
func (e *EnvironmentManager) CreateEnv(ctx context.Context, dir string) (ok bool, message string) {
	envPath := e.EnvPath(dir)
	cmd := exec.CommandContext(ctx, e.cfg.InterpreterCmd, "-m", "venv", envPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Sprintf("failed to create venv: %v: %s", err, string(out))
	}
	return true, fmt.Sprintf("created venv at %s", envPath)
}

// InstallDeps invokes the module's interpreter to install the declared
// dependencies with dir as the working directory. If requirements.txt is
// absent, it returns success without side effect. Every line emitted by the
// installer is forwarded to logSink before returning, and the host's memory
// usage is snapshotted afterward for operational visibility.
func (e *EnvironmentManager) InstallDeps(ctx context.Context, dir string, logSink func(line string)) bool {
	reqPath := filepath.Join(dir, requirementsFile)
	if _, err := os.Stat(reqPath); os.IsNotExist(err) {
		if logSink != nil {
			logSink("No requirements.txt found. Skipping pip install.")
		}
		return true
	}

	interpreter := e.InterpreterPath(dir)
	cmd := exec.CommandContext(ctx, interpreter, "-m", "pip", "install", "-r", requirementsFile)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		if logSink != nil {
			logSink(fmt.Sprintf("pip install crashed: %v", err))
		}
		return false
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		if logSink != nil {
			logSink(fmt.Sprintf("pip install crashed: %v", err))
		}
		return false
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if logSink != nil {
			logSink(scanner.Text())
		}
	}

	err = cmd.Wait()
	e.logHostMemory(dir)
	return err == nil
}

func (e *EnvironmentManager) logHostMemory(dir string) {
	if e.log == nil {
		return
	}
	stat, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	e.log.WithFields(map[string]any{
		"module_dir":        dir,
		"host_mem_used_pct": stat.UsedPercent,
	}).Debug("environment provisioning snapshot")
}
