// Package memory is a thread-safe, in-process implementation of the
// coordination kernel's storage contract. It is the default backend and the
// backend used by every package's unit tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atomrun/kernel/internal/domain/asset"
	"github.com/atomrun/kernel/internal/domain/module"
	"github.com/atomrun/kernel/internal/domain/task"
	"github.com/atomrun/kernel/internal/storage"
)

// Store is an in-memory implementation of storage.ModuleStore,
// storage.AssetStore and storage.TaskStore over three maps guarded by one
// mutex. Deliberately simple: intended for single-process deployments and
// tests, not for durability across restarts.
type Store struct {
	mu      sync.RWMutex
	modules map[string]module.Module
	assets  map[string]asset.Asset
	tasks   map[string]task.Task
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		modules: make(map[string]module.Module),
		assets:  make(map[string]asset.Asset),
		tasks:   make(map[string]task.Task),
	}
}

// Module records ---------------------------------------------------------

func (s *Store) GetModule(_ context.Context, id string) (module.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[id]
	if !ok {
		return module.Module{}, storage.ErrNotFound
	}
	return m, nil
}

func (s *Store) CreateModule(_ context.Context, m module.Module) (module.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.InstallationLogs == nil {
		m.InstallationLogs = []string{}
	}
	s.modules[m.ID] = m
	return m, nil
}

func (s *Store) UpdateModule(_ context.Context, m module.Module) (module.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.modules[m.ID]
	if !ok {
		return module.Module{}, storage.ErrNotFound
	}
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = time.Now().UTC()
	s.modules[m.ID] = m
	return m, nil
}

func (s *Store) AppendInstallLog(_ context.Context, id, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.InstallationLogs = append(m.InstallationLogs, line)
	m.UpdatedAt = time.Now().UTC()
	s.modules[id] = m
	return nil
}

func (s *Store) ListModules(_ context.Context, status module.Status) ([]module.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]module.Module, 0, len(s.modules))
	for _, m := range s.modules {
		if status == "" || m.Status == status {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Asset records ------------------------------------------------------------

func (s *Store) GetAsset(_ context.Context, id string) (asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return asset.Asset{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *Store) CreateAsset(_ context.Context, a asset.Asset) (asset.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	s.assets[a.ID] = a
	return a, nil
}

func (s *Store) UpdateAsset(_ context.Context, a asset.Asset) (asset.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.assets[a.ID]
	if !ok {
		return asset.Asset{}, storage.ErrNotFound
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	s.assets[a.ID] = a
	return a, nil
}

func (s *Store) ListAssets(_ context.Context) ([]asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]asset.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Task records ---------------------------------------------------------

func (s *Store) GetTask(_ context.Context, id string) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) CreateTask(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	s.tasks[t.ID] = t
	return t, nil
}

func (s *Store) UpdateTask(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tasks[t.ID]
	if !ok {
		return task.Task{}, storage.ErrNotFound
	}
	t.CreatedAt = existing.CreatedAt
	s.tasks[t.ID] = t
	return t, nil
}

func (s *Store) FindBlockedTasksByAsset(_ context.Context, assetID string) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.Status != task.StatusBlocked {
			continue
		}
		for _, b := range t.BlockingAssets {
			if b == assetID {
				out = append(out, t)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ClaimNextQueued holds the write lock for the whole read-then-update
// sequence, making the QUEUED -> RUNNING transition atomic with respect to
// every other in-process worker. The store is the only coordination channel
// between workers.
func (s *Store) ClaimNextQueued(_ context.Context) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *task.Task
	for id := range s.tasks {
		t := s.tasks[id]
		if t.Status != task.StatusQueued {
			continue
		}
		if oldest == nil || t.CreatedAt.Before(oldest.CreatedAt) {
			tc := t
			oldest = &tc
		}
	}
	if oldest == nil {
		return task.Task{}, storage.ErrNotFound
	}

	now := time.Now().UTC()
	oldest.Status = task.StatusRunning
	oldest.StartedAt = &now
	s.tasks[oldest.ID] = *oldest
	return *oldest, nil
}
