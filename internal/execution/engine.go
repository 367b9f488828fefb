// Package execution implements the Execution Engine: the stateless
// poll-loop consumer that resolves a runnable task's inputs, invokes its
// module, and fulfils or fails its output promises.
package execution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/time/rate"

	core "github.com/atomrun/kernel/internal/app/core/service"
	"github.com/atomrun/kernel/internal/domain/asset"
	"github.com/atomrun/kernel/internal/domain/module"
	"github.com/atomrun/kernel/internal/domain/task"
	"github.com/atomrun/kernel/internal/registry"
	"github.com/atomrun/kernel/internal/storage"
	"github.com/atomrun/kernel/pkg/logger"
)

// AssetManager is the narrow slice of the Asset Manager the engine needs:
// resolving inputs to paths and finalizing output promises. Satisfied by
// *assets.Manager.
type AssetManager interface {
	ResolveToPath(ctx context.Context, assetID, tempDir string) (path string, ok bool, err error)
	Fulfil(ctx context.Context, assetID string, payload any) (asset.Asset, error)
	Fail(ctx context.Context, assetID, reason string) (asset.Asset, error)
}

// Unblocker is the Task Orchestrator's narrow event interface; depending on
// it rather than a back-pointer breaks the Orchestrator<->Engine cycle.
// Satisfied by *tasks.Orchestrator.
type Unblocker interface {
	OnAssetAvailable(ctx context.Context, assetID string) error
}

// DefaultTimeout is the per-task subprocess timeout used when the engine is
// not configured with a positive one.
const DefaultTimeout = 600 * time.Second

// Engine is the stateless poll-loop consumer for QUEUED tasks.
type Engine struct {
	modules storage.ModuleStore
	tasksS  storage.TaskStore
	assetM  AssetManager
	runner  *registry.Runner
	unblock Unblocker
	log     *logger.Logger
	hooks   core.ObservationHooks

	tempRoot string
	timeout  time.Duration
	limiter  *rate.Limiter
	redis    *goredis.Client
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithTempRoot overrides the base directory for per-task temp directories
// (default os.TempDir()).
func WithTempRoot(dir string) Option { return func(e *Engine) { e.tempRoot = dir } }

// WithTimeout overrides the default per-task subprocess timeout.
func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

// WithDispatchRate bounds the rate of subprocess invocations the engine
// starts, independent of worker count.
func WithDispatchRate(hz float64) Option {
	return func(e *Engine) {
		if hz <= 0 {
			return
		}
		e.limiter = rate.NewLimiter(rate.Limit(hz), 1)
	}
}

// WithClaimLock attaches an optional Redis client used to narrow the claim
// race window across independent processes. The store's atomic
// ClaimNextQueued remains the source of truth; this is an optimization
// layered in front of it.
func WithClaimLock(client *goredis.Client) Option { return func(e *Engine) { e.redis = client } }

// WithObservationHooks attaches start/complete instrumentation hooks.
func WithObservationHooks(hooks core.ObservationHooks) Option {
	return func(e *Engine) { e.hooks = hooks }
}

// New constructs an Engine.
func New(modules storage.ModuleStore, tasksStore storage.TaskStore, assetM AssetManager, runner *registry.Runner, unblock Unblocker, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		modules:  modules,
		tasksS:   tasksStore,
		assetM:   assetM,
		runner:   runner,
		unblock:  unblock,
		log:      log,
		hooks:    core.NoopObservationHooks,
		tempRoot: os.TempDir(),
		timeout:  DefaultTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Name identifies this service to the system manager.
func (e *Engine) Name() string { return "execution-engine" }

// Descriptor advertises this service's placement for diagnostics.
func (e *Engine) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   e.Name(),
		Domain: "execution",
		Layer:  core.LayerEngine,
	}.WithCapabilities("dispatch", "resolve-inputs", "fulfil-outputs")
}

// RunOnce performs a single poll iteration: claims the oldest QUEUED task,
// if any, runs it to a terminal state, and cascades asset-available events.
// Returns true iff a task was processed.
func (e *Engine) RunOnce(ctx context.Context) (bool, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	release := e.acquireClaimLock(ctx)
	t, err := e.tasksS.ClaimNextQueued(ctx)
	release()
	if err == storage.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	done := core.StartObservation(ctx, e.hooks, map[string]string{"op": "run_once", "task_id": t.ID, "module_id": t.ModuleID})
	runErr := e.process(ctx, t)
	done(runErr)
	return true, runErr
}

// acquireClaimLock best-effort acquires a short-lived Redis lock so that
// multiple processes don't all race the store's compare-and-set at once. If
// no Redis client is configured, or the lock cannot be acquired, it falls
// through to the store-level CAS unconditionally — correctness never
// depends on this succeeding.
func (e *Engine) acquireClaimLock(ctx context.Context) func() {
	if e.redis == nil {
		return func() {}
	}
	const key = "taskrun:claim-lock"
	ok, err := e.redis.SetNX(ctx, key, "1", 2*time.Second).Result()
	if err != nil || !ok {
		return func() {}
	}
	return func() { e.redis.Del(ctx, key) }
}

func (e *Engine) process(ctx context.Context, t task.Task) error {
	mod, err := e.modules.GetModule(ctx, t.ModuleID)
	if err != nil || mod.Status != module.StatusAvailable {
		return e.finalizeFailure(ctx, t, "module not available")
	}

	tempDir, err := os.MkdirTemp(e.tempRoot, "task-"+t.ID+"-")
	if err != nil {
		return e.finalizeFailure(ctx, t, fmt.Sprintf("cannot create temp dir: %v", err))
	}
	defer os.RemoveAll(tempDir)

	inputs := make(map[string]string, len(mod.Config.Inputs))
	for _, in := range mod.Config.Inputs {
		assetID := t.InputMap[in.Key]
		path, ok, err := e.assetM.ResolveToPath(ctx, assetID, tempDir)
		if err != nil || !ok {
			return e.finalizeFailure(ctx, t, fmt.Sprintf("cannot resolve input %q", in.Key))
		}
		inputs[in.Key] = path
	}

	manifest := Manifest{Mode: ModeRun, TaskID: t.ID, Inputs: inputs, Config: t.Config}
	manifestPath, err := manifest.WriteTemp(tempDir)
	if err != nil {
		return e.finalizeFailure(ctx, t, fmt.Sprintf("cannot write manifest: %v", err))
	}
	defer os.Remove(manifestPath)

	entryScript := filepath.Join(mod.Path, mod.Config.EntryPoint)
	timeout := e.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	result := e.runner.Run(ctx, mod.InterpreterPath, entryScript, manifestPath, timeout)
	e.logHostCPU(t.ID)

	if !result.Success {
		return e.finalizeFailure(ctx, t, result.Error, result.Logs...)
	}
	return e.finalizeSuccess(ctx, t, mod, result)
}

func (e *Engine) finalizeSuccess(ctx context.Context, t task.Task, mod module.Module, result registry.RunResult) error {
	outputs, _ := result.Result["outputs"].(map[string]any)

	var fulfilled []string
	for _, out := range mod.Config.Outputs {
		assetID := t.OutputMap[out.Key]
		value, found := outputValue(result.Result, outputs, out.Key)
		if !found {
			if _, err := e.assetM.Fail(ctx, assetID, fmt.Sprintf("module omitted output %q for task %s", out.Key, t.ID)); err != nil {
				return err
			}
			continue
		}

		if out.ContractType == module.ContractAsset {
			path, ok := value.(string)
			if !ok {
				if _, err := e.assetM.Fail(ctx, assetID, fmt.Sprintf("output %q is not a path for task %s", out.Key, t.ID)); err != nil {
					return err
				}
				continue
			}
			if _, err := e.assetM.Fulfil(ctx, assetID, path); err != nil {
				return err
			}
		} else {
			if _, err := e.assetM.Fulfil(ctx, assetID, value); err != nil {
				return err
			}
		}
		fulfilled = append(fulfilled, assetID)
	}

	now := time.Now().UTC()
	t.Status = task.StatusCompleted
	t.FinishedAt = &now
	t.Logs = result.Logs
	if _, err := e.tasksS.UpdateTask(ctx, t); err != nil {
		return err
	}

	return e.cascade(ctx, fulfilled)
}

func (e *Engine) finalizeFailure(ctx context.Context, t task.Task, reason string, logs ...string) error {
	for _, assetID := range t.OutputMap {
		if _, err := e.assetM.Fail(ctx, assetID, fmt.Sprintf("%s (task %s)", reason, t.ID)); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	t.Status = task.StatusFailed
	t.FinishedAt = &now
	t.ErrorLog = reason
	t.Logs = logs
	_, err := e.tasksS.UpdateTask(ctx, t)
	return err
}

func (e *Engine) cascade(ctx context.Context, assetIDs []string) error {
	for _, id := range assetIDs {
		if err := e.unblock.OnAssetAvailable(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) logHostCPU(taskID string) {
	if e.log == nil {
		return
	}
	pct, err := cpu.Percent(0, false)
	if err != nil || len(pct) == 0 {
		return
	}
	e.log.WithFields(map[string]any{
		"task_id":      taskID,
		"host_cpu_pct": pct[0],
	}).Debug("execution snapshot")
}

// outputValue takes the declared output key from result.outputs when that
// top-level object is present, else falls back to the top-level result map
// directly.
func outputValue(result map[string]any, outputs map[string]any, key string) (any, bool) {
	if outputs != nil {
		v, ok := outputs[key]
		return v, ok
	}
	v, ok := result[key]
	return v, ok
}
