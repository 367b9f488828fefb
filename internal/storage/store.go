// Package storage defines the typed document-store contract the coordination
// kernel persists against: three collections (modules, assets, tasks), each
// keyed by an opaque string id.
package storage

import (
	"context"
	"errors"

	"github.com/atomrun/kernel/internal/domain/asset"
	"github.com/atomrun/kernel/internal/domain/module"
	"github.com/atomrun/kernel/internal/domain/task"
)

// ErrNotFound is returned by Get-style lookups when no record exists.
var ErrNotFound = errors.New("storage: record not found")

// ErrNoMatch reports a compare-and-set precondition that did not hold (the
// record moved under the caller). The stores in this module do not return
// it; an empty claim is reported as ErrNotFound.
var ErrNoMatch = errors.New("storage: compare-and-set precondition failed")

// ModuleStore persists module registry records.
type ModuleStore interface {
	GetModule(ctx context.Context, id string) (module.Module, error)
	CreateModule(ctx context.Context, m module.Module) (module.Module, error)
	UpdateModule(ctx context.Context, m module.Module) (module.Module, error)
	AppendInstallLog(ctx context.Context, id, line string) error
	ListModules(ctx context.Context, status module.Status) ([]module.Module, error)
}

// AssetStore persists asset records.
type AssetStore interface {
	GetAsset(ctx context.Context, id string) (asset.Asset, error)
	CreateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error)
	UpdateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error)
	ListAssets(ctx context.Context) ([]asset.Asset, error)
}

// TaskStore persists task records.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (task.Task, error)
	CreateTask(ctx context.Context, t task.Task) (task.Task, error)
	UpdateTask(ctx context.Context, t task.Task) (task.Task, error)
	FindBlockedTasksByAsset(ctx context.Context, assetID string) ([]task.Task, error)

	// ClaimNextQueued atomically selects the oldest QUEUED task (FIFO by
	// created_at), transitions it to RUNNING and stamps startedAt as one
	// atomic step (one transaction or one lock). Returns storage.ErrNotFound
	// if no task is QUEUED. Concurrent workers never claim the same task
	// twice.
	ClaimNextQueued(ctx context.Context) (task.Task, error)
}

// Stores bundles the three collection adapters a single backend must supply
// together, so callers can depend on one handle.
type Stores struct {
	Modules ModuleStore
	Assets  AssetStore
	Tasks   TaskStore
}
