// Package tasks implements the Task Orchestrator: contract validation,
// output-promise creation, and blocked->queued promotion on upstream asset
// fulfilment.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	core "github.com/atomrun/kernel/internal/app/core/service"
	"github.com/atomrun/kernel/internal/domain/asset"
	"github.com/atomrun/kernel/internal/domain/module"
	"github.com/atomrun/kernel/internal/domain/task"
	"github.com/atomrun/kernel/internal/storage"
)

// ValidationError is a synchronous submission rejection: the caller made a
// mistake (missing input, unknown or failed asset, media-type constraint
// violation). No persistent side effect precedes this error.
type ValidationError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s", e.Key, e.Message)
	}
	return e.Message
}

// AssetMutator is the narrow slice of the Asset Manager the orchestrator
// needs: creating output promises. Depending on this interface rather than
// *assets.Manager keeps the two packages decoupled.
type AssetMutator interface {
	CreatePending(ctx context.Context, taskID, label, mediaType string, kind asset.Kind) (asset.Asset, error)
}

// Orchestrator validates task submissions against a module's contract,
// creates output promises, and promotes BLOCKED tasks to QUEUED as their
// blocking assets become available.
type Orchestrator struct {
	modules storage.ModuleStore
	assetsS storage.AssetStore
	tasksS  storage.TaskStore
	assetM  AssetMutator
	hooks   core.ObservationHooks
}

// New constructs an Orchestrator.
func New(modules storage.ModuleStore, assetsStore storage.AssetStore, tasksStore storage.TaskStore, assetMutator AssetMutator) *Orchestrator {
	return &Orchestrator{
		modules: modules,
		assetsS: assetsStore,
		tasksS:  tasksStore,
		assetM:  assetMutator,
		hooks:   core.NoopObservationHooks,
	}
}

// WithObservationHooks attaches hooks for submit/unblock instrumentation.
func (o *Orchestrator) WithObservationHooks(hooks core.ObservationHooks) *Orchestrator {
	o.hooks = hooks
	return o
}

// SubmitResult is the outcome of a successful Submit call.
type SubmitResult struct {
	TaskID    string
	Status    task.Status
	OutputMap map[string]string
}

// Submit validates module_id + input_map against the module's declared
// contract, creates output promises and persists the task as QUEUED (no
// input PENDING) or BLOCKED (one or more PENDING inputs). All rejections in
// steps 1-2 occur before any side effect — no orphan promises are ever
// created on a validation failure.
//
// Availability of the module is deliberately not checked here: a task
// against a non-AVAILABLE module still queues and fails later, at dispatch.
func (o *Orchestrator) Submit(ctx context.Context, moduleID string, inputMap map[string]string, cfg map[string]any) (SubmitResult, error) {
	done := core.StartObservation(ctx, o.hooks, map[string]string{"op": "submit", "module_id": moduleID})
	res, err := o.submit(ctx, moduleID, inputMap, cfg)
	done(err)
	return res, err
}

func (o *Orchestrator) submit(ctx context.Context, moduleID string, inputMap map[string]string, cfg map[string]any) (SubmitResult, error) {
	mod, err := o.modules.GetModule(ctx, moduleID)
	if err == storage.ErrNotFound {
		return SubmitResult{}, &ValidationError{Message: fmt.Sprintf("unknown module %q", moduleID)}
	}
	if err != nil {
		return SubmitResult{}, err
	}

	var blocking []string
	for _, in := range mod.Config.Inputs {
		assetID, present := inputMap[in.Key]
		if !present {
			return SubmitResult{}, &ValidationError{Key: in.Key, Message: "missing input"}
		}

		a, err := o.assetsS.GetAsset(ctx, assetID)
		if err == storage.ErrNotFound {
			return SubmitResult{}, &ValidationError{Key: in.Key, Message: fmt.Sprintf("unknown asset %q", assetID)}
		}
		if err != nil {
			return SubmitResult{}, err
		}
		if a.Status == asset.StatusFailed {
			return SubmitResult{}, &ValidationError{Key: in.Key, Message: fmt.Sprintf("asset %q is FAILED", assetID)}
		}

		if in.ContractType == module.ContractAsset {
			if allowed := in.MediaTypes(); len(allowed) > 0 && !contains(allowed, a.MediaType) {
				return SubmitResult{}, &ValidationError{Key: in.Key, Message: fmt.Sprintf("media type %q not permitted", a.MediaType)}
			}
		}

		if a.Status == asset.StatusPending {
			blocking = append(blocking, assetID)
		}
	}

	taskID := uuid.NewString()
	outputMap := make(map[string]string, len(mod.Config.Outputs))
	for _, out := range mod.Config.Outputs {
		kind := asset.KindValue
		if out.ContractType == module.ContractAsset {
			kind = asset.KindFile
		}
		label := out.Label
		if label == "" {
			label = out.Key + "_output"
		}
		mediaType := out.MediaType
		if mediaType == "" {
			mediaType = "application/octet-stream"
		}
		a, err := o.assetM.CreatePending(ctx, taskID, label, mediaType, kind)
		if err != nil {
			return SubmitResult{}, err
		}
		outputMap[out.Key] = a.ID
	}

	status := task.StatusQueued
	if len(blocking) > 0 {
		status = task.StatusBlocked
	}

	t := task.Task{
		ID:             taskID,
		ModuleID:       moduleID,
		Status:         status,
		InputMap:       inputMap,
		OutputMap:      outputMap,
		Config:         cfg,
		BlockingAssets: blocking,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := o.tasksS.CreateTask(ctx, t); err != nil {
		return SubmitResult{}, err
	}

	return SubmitResult{TaskID: taskID, Status: status, OutputMap: outputMap}, nil
}

// OnAssetAvailable removes assetID from every BLOCKED task's blocking set
// and promotes any task whose set becomes empty to QUEUED. Idempotent:
// delivering the same event twice after the first promotion is a no-op
// (FindBlockedTasksByAsset no longer returns the promoted task, since it is
// no longer BLOCKED).
func (o *Orchestrator) OnAssetAvailable(ctx context.Context, assetID string) error {
	done := core.StartObservation(ctx, o.hooks, map[string]string{"op": "on_asset_available", "asset_id": assetID})
	err := o.onAssetAvailable(ctx, assetID)
	done(err)
	return err
}

func (o *Orchestrator) onAssetAvailable(ctx context.Context, assetID string) error {
	blocked, err := o.tasksS.FindBlockedTasksByAsset(ctx, assetID)
	if err != nil {
		return err
	}

	for _, t := range blocked {
		t.BlockingAssets = task.RemoveBlocker(t.BlockingAssets, assetID)
		if len(t.BlockingAssets) == 0 {
			t.Status = task.StatusQueued
		}
		if _, err := o.tasksS.UpdateTask(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
