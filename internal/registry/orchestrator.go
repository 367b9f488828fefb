package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	core "github.com/atomrun/kernel/internal/app/core/service"
	"github.com/atomrun/kernel/internal/domain/module"
	"github.com/atomrun/kernel/internal/storage"
	"github.com/atomrun/kernel/pkg/logger"
)

// installPolicy governs retries of the create-env/install-deps steps. Module
// dependency installs occasionally fail on a transient network blip; one
// retry with a short backoff absorbs that without masking a genuine failure.
var installPolicy = core.RetryPolicy{
	Attempts:       2,
	InitialBackoff: 2 * time.Second,
	Multiplier:     1,
}

// Orchestrator drives the module lifecycle state machine: discovery,
// installation, self-test and promotion to AVAILABLE.
type Orchestrator struct {
	root    string
	scanner *Scanner
	env     *EnvironmentManager
	runner  *Runner
	modules storage.ModuleStore
	log     *logger.Logger
	hooks   core.ObservationHooks
	cron    string

	schedule cron.Schedule
	stop     chan struct{}
	done     chan struct{}
}

// NewOrchestrator constructs an Orchestrator. cronExpr is a robfig/cron
// expression (including the "@every" shorthand) governing the background
// rescan cadence.
func NewOrchestrator(root string, scanner *Scanner, env *EnvironmentManager, runner *Runner, modules storage.ModuleStore, log *logger.Logger, cronExpr string) (*Orchestrator, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse rescan schedule: %w", err)
	}
	return &Orchestrator{
		root:     root,
		scanner:  scanner,
		env:      env,
		runner:   runner,
		modules:  modules,
		log:      log,
		hooks:    core.NoopObservationHooks,
		cron:     cronExpr,
		schedule: sched,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// WithObservationHooks attaches hooks for install/self-test instrumentation.
func (o *Orchestrator) WithObservationHooks(hooks core.ObservationHooks) *Orchestrator {
	o.hooks = hooks
	return o
}

// Name identifies this service to the system manager.
func (o *Orchestrator) Name() string { return "registry-orchestrator" }

// Descriptor advertises this service's placement for diagnostics.
func (o *Orchestrator) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   o.Name(),
		Domain: "registry",
		Layer:  core.LayerAdapter,
	}.WithCapabilities("scan", "install", "self-test")
}

// Start runs an immediate discovery pass, then loops on the configured cron
// schedule until Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	go o.loop(ctx)
	return nil
}

// Stop signals the background loop to exit and waits for it to finish.
func (o *Orchestrator) Stop(ctx context.Context) error {
	close(o.stop)
	select {
	case <-o.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)

	if err := o.DiscoverAndRegister(ctx); err != nil && o.log != nil {
		o.log.WithError(err).Warn("initial module discovery failed")
	}

	next := o.schedule.Next(time.Now())
	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-o.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := o.DiscoverAndRegister(ctx); err != nil && o.log != nil {
				o.log.WithError(err).Warn("module discovery pass failed")
			}
			next = o.schedule.Next(time.Now())
		}
	}
}

// DiscoverAndRegister scans the modules root once and applies the registry
// lifecycle rules to every candidate directory found.
func (o *Orchestrator) DiscoverAndRegister(ctx context.Context) error {
	done := core.StartObservation(ctx, o.hooks, map[string]string{"op": "discover_and_register"})
	candidates, err := o.scanner.Scan(o.root)
	if err != nil {
		done(err)
		return err
	}

	for name, dir := range candidates {
		if err := o.processCandidate(ctx, name, dir); err != nil && o.log != nil {
			o.log.WithFields(map[string]any{"module": name, "error": err}).Warn("module processing failed")
		}
	}
	done(nil)
	return nil
}

func (o *Orchestrator) processCandidate(ctx context.Context, name, dir string) error {
	manifest, ok := o.scanner.Validate(dir)
	if !ok {
		return nil
	}

	hash, err := o.scanner.Hash(dir)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	existing, err := o.modules.GetModule(ctx, name)
	switch {
	case err == storage.ErrNotFound:
		m := module.Module{
			ID:          name,
			Status:      module.StatusDetected,
			Path:        dir,
			VersionHash: hash,
			Config:      manifest,
			Capabilities: module.Capabilities{
				Inputs:  manifest.Inputs,
				Outputs: manifest.Outputs,
			},
			InstallationLogs: []string{},
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if _, err := o.modules.CreateModule(ctx, m); err != nil {
			return err
		}
		return o.install(ctx, name)

	case err != nil:
		return err

	case existing.VersionHash != hash:
		existing.Status = module.StatusDetected
		existing.Path = dir
		existing.VersionHash = hash
		existing.Config = manifest
		existing.Capabilities = module.Capabilities{Inputs: manifest.Inputs, Outputs: manifest.Outputs}
		existing.InstallationLogs = []string{}
		existing.UpdatedAt = now
		if _, err := o.modules.UpdateModule(ctx, existing); err != nil {
			return err
		}
		return o.install(ctx, name)

	case existing.Status == module.StatusError || existing.Status == module.StatusDetected || existing.Status == module.StatusInstalling:
		return o.install(ctx, name)

	default:
		return nil
	}
}

func (o *Orchestrator) install(ctx context.Context, name string) error {
	m, err := o.modules.GetModule(ctx, name)
	if err != nil {
		return err
	}

	m.Status = module.StatusInstalling
	m.UpdatedAt = time.Now().UTC()
	if m, err = o.modules.UpdateModule(ctx, m); err != nil {
		return err
	}

	appendLog := func(line string) {
		_ = o.modules.AppendInstallLog(ctx, name, line)
	}

	envErr := core.Retry(ctx, installPolicy, func() error {
		ok, message := o.env.CreateEnv(ctx, m.Path)
		appendLog(message)
		if !ok {
			return fmt.Errorf("create_env: %s", message)
		}
		return nil
	})
	if envErr != nil {
		return o.fail(ctx, name)
	}

	installErr := core.Retry(ctx, installPolicy, func() error {
		if !o.env.InstallDeps(ctx, m.Path, appendLog) {
			return fmt.Errorf("install_deps failed")
		}
		return nil
	})
	if installErr != nil {
		return o.fail(ctx, name)
	}

	m, err = o.modules.GetModule(ctx, name)
	if err != nil {
		return err
	}
	m.Status = module.StatusTesting
	m.UpdatedAt = time.Now().UTC()
	if m, err = o.modules.UpdateModule(ctx, m); err != nil {
		return err
	}

	return o.selfTest(ctx, m)
}

func (o *Orchestrator) fail(ctx context.Context, name string) error {
	m, err := o.modules.GetModule(ctx, name)
	if err != nil {
		return err
	}
	m.Status = module.StatusError
	m.UpdatedAt = time.Now().UTC()
	_, err = o.modules.UpdateModule(ctx, m)
	return err
}

// selfTest reads the module's test_data.json, wraps it as a test-mode
// manifest and invokes the Module Runner. A missing test fixture or any
// non-success outcome moves the module to ERROR.
func (o *Orchestrator) selfTest(ctx context.Context, m module.Module) error {
	entryDir := m.Path
	entryScript := filepath.Join(entryDir, entryScriptName)
	testDataPath := filepath.Join(entryDir, testDataFileName)

	raw, err := os.ReadFile(testDataPath)
	if err != nil {
		return o.fail(ctx, m.ID)
	}

	var inputs any
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return o.fail(ctx, m.ID)
	}

	manifest := map[string]any{
		"mode":    "test",
		"task_id": "TEST_RUN",
		"inputs":  inputs,
		"config":  map[string]any{},
	}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return o.fail(ctx, m.ID)
	}

	tmpFile, err := os.CreateTemp("", "selftest-*.json")
	if err != nil {
		return o.fail(ctx, m.ID)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)
	if _, err := tmpFile.Write(manifestBytes); err != nil {
		tmpFile.Close()
		return o.fail(ctx, m.ID)
	}
	tmpFile.Close()

	interpreter := o.env.InterpreterPath(entryDir)
	res := o.runner.Run(ctx, interpreter, entryScript, tmpPath, 60*time.Second)

	passed := res.Success && res.Result != nil && res.Result["status"] == "success"
	if !passed {
		return o.fail(ctx, m.ID)
	}

	m.InterpreterPath = interpreter
	m.EnvPath = o.env.EnvPath(entryDir)
	m.Status = module.StatusAvailable
	m.UpdatedAt = time.Now().UTC()
	_, err = o.modules.UpdateModule(ctx, m)
	return err
}
