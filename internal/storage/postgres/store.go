// Package postgres implements the coordination kernel's storage contract as
// a document store over PostgreSQL: each collection (modules, assets, tasks)
// is one table with a JSONB document column plus the handful of scalar
// columns the engine filters or sorts by.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/atomrun/kernel/internal/domain/asset"
	"github.com/atomrun/kernel/internal/domain/module"
	"github.com/atomrun/kernel/internal/domain/task"
	"github.com/atomrun/kernel/internal/storage"
)

// Store implements storage.ModuleStore, storage.AssetStore and
// storage.TaskStore against a PostgreSQL handle.
type Store struct {
	db *sqlx.DB
}

var (
	_ storage.ModuleStore = (*Store)(nil)
	_ storage.AssetStore  = (*Store)(nil)
	_ storage.TaskStore   = (*Store)(nil)
)

// New wraps an existing *sql.DB (as opened by internal/platform/database) in
// a sqlx handle for named-query document access.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

type moduleRow struct {
	ID        string    `db:"id"`
	Status    string    `db:"status"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r moduleRow) toDomain() (module.Module, error) {
	var m module.Module
	if err := json.Unmarshal(r.Data, &m); err != nil {
		return module.Module{}, err
	}
	m.CreatedAt, m.UpdatedAt = r.CreatedAt, r.UpdatedAt
	return m, nil
}

func (s *Store) GetModule(ctx context.Context, id string) (module.Module, error) {
	var row moduleRow
	err := s.db.GetContext(ctx, &row, `SELECT id, status, data, created_at, updated_at FROM modules WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return module.Module{}, storage.ErrNotFound
	}
	if err != nil {
		return module.Module{}, err
	}
	return row.toDomain()
}

func (s *Store) CreateModule(ctx context.Context, m module.Module) (module.Module, error) {
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	if m.InstallationLogs == nil {
		m.InstallationLogs = []string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return module.Module{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO modules (id, status, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, string(m.Status), data, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return module.Module{}, err
	}
	return m, nil
}

func (s *Store) UpdateModule(ctx context.Context, m module.Module) (module.Module, error) {
	existing, err := s.GetModule(ctx, m.ID)
	if err != nil {
		return module.Module{}, err
	}
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(m)
	if err != nil {
		return module.Module{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE modules SET status = $2, data = $3, updated_at = $4 WHERE id = $1`,
		m.ID, string(m.Status), data, m.UpdatedAt)
	if err != nil {
		return module.Module{}, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return module.Module{}, storage.ErrNotFound
	}
	return m, nil
}

// AppendInstallLog appends to the JSONB installation_logs array with a
// single round-trip jsonb_set expression rather than a read-modify-write,
// avoiding a lost-update race between concurrent installers logging to the
// same module (which cannot happen today, since only the Registry
// Orchestrator ever installs one module, but keeps the operation correct if
// that changes).
func (s *Store) AppendInstallLog(ctx context.Context, id, line string) error {
	lineJSON, err := json.Marshal(line)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE modules
		SET data = jsonb_set(
				data,
				'{installation_logs}',
				COALESCE(data->'installation_logs', '[]'::jsonb) || $2::jsonb
			),
			updated_at = $3
		WHERE id = $1`,
		id, string(lineJSON), time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListModules(ctx context.Context, status module.Status) ([]module.Module, error) {
	var rows []moduleRow
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT id, status, data, created_at, updated_at FROM modules ORDER BY id`)
	} else {
		err = s.db.SelectContext(ctx, &rows, `SELECT id, status, data, created_at, updated_at FROM modules WHERE status = $1 ORDER BY id`, string(status))
	}
	if err != nil {
		return nil, err
	}
	out := make([]module.Module, 0, len(rows))
	for _, r := range rows {
		m, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// --- assets -----------------------------------------------------------

type assetRow struct {
	ID        string    `db:"id"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r assetRow) toDomain() (asset.Asset, error) {
	var a asset.Asset
	if err := json.Unmarshal(r.Data, &a); err != nil {
		return asset.Asset{}, err
	}
	a.CreatedAt, a.UpdatedAt = r.CreatedAt, r.UpdatedAt
	return a, nil
}

func (s *Store) GetAsset(ctx context.Context, id string) (asset.Asset, error) {
	var row assetRow
	err := s.db.GetContext(ctx, &row, `SELECT id, data, created_at, updated_at FROM assets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return asset.Asset{}, storage.ErrNotFound
	}
	if err != nil {
		return asset.Asset{}, err
	}
	return row.toDomain()
}

func (s *Store) CreateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error) {
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	data, err := json.Marshal(a)
	if err != nil {
		return asset.Asset{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assets (id, status, created_by_task, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, string(a.Status), nullableString(a.CreatedByTask), data, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return asset.Asset{}, err
	}
	return a, nil
}

func (s *Store) UpdateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error) {
	existing, err := s.GetAsset(ctx, a.ID)
	if err != nil {
		return asset.Asset{}, err
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(a)
	if err != nil {
		return asset.Asset{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE assets SET status = $2, created_by_task = $3, data = $4, updated_at = $5 WHERE id = $1`,
		a.ID, string(a.Status), nullableString(a.CreatedByTask), data, a.UpdatedAt)
	if err != nil {
		return asset.Asset{}, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return asset.Asset{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListAssets(ctx context.Context) ([]asset.Asset, error) {
	var rows []assetRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, data, created_at, updated_at FROM assets ORDER BY created_at`); err != nil {
		return nil, err
	}
	out := make([]asset.Asset, 0, len(rows))
	for _, r := range rows {
		a, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// --- tasks -----------------------------------------------------------

type taskRow struct {
	ID        string    `db:"id"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
}

func (r taskRow) toDomain() (task.Task, error) {
	var t task.Task
	if err := json.Unmarshal(r.Data, &t); err != nil {
		return task.Task{}, err
	}
	t.CreatedAt = r.CreatedAt
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (task.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT id, data, created_at FROM tasks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return task.Task{}, err
	}
	return row.toDomain()
}

func (s *Store) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	t.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(t)
	if err != nil {
		return task.Task{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, status, module_id, blocking_assets, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, string(t.Status), t.ModuleID, blockingAssetsJSON(t.BlockingAssets), data, t.CreatedAt)
	if err != nil {
		return task.Task{}, err
	}
	return t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t task.Task) (task.Task, error) {
	existing, err := s.GetTask(ctx, t.ID)
	if err != nil {
		return task.Task{}, err
	}
	t.CreatedAt = existing.CreatedAt
	data, err := json.Marshal(t)
	if err != nil {
		return task.Task{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $2, blocking_assets = $3, data = $4 WHERE id = $1`,
		t.ID, string(t.Status), blockingAssetsJSON(t.BlockingAssets), data)
	if err != nil {
		return task.Task{}, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return task.Task{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) FindBlockedTasksByAsset(ctx context.Context, assetID string) ([]task.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, data, created_at FROM tasks
		WHERE status = 'BLOCKED' AND blocking_assets ? $1
		ORDER BY created_at`, assetID)
	if err != nil {
		return nil, err
	}
	out := make([]task.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ClaimNextQueued uses SELECT ... FOR UPDATE SKIP LOCKED to pick the oldest
// QUEUED task and atomically promote it to RUNNING in the same transaction,
// so two workers racing this query never both win the same row.
func (s *Store) ClaimNextQueued(ctx context.Context) (task.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return task.Task{}, err
	}
	defer tx.Rollback()

	var row taskRow
	err = tx.GetContext(ctx, &row, `
		SELECT id, data, created_at FROM tasks
		WHERE status = 'QUEUED'
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return task.Task{}, err
	}

	t, err := row.toDomain()
	if err != nil {
		return task.Task{}, err
	}
	now := time.Now().UTC()
	t.Status = task.StatusRunning
	t.StartedAt = &now

	data, err := json.Marshal(t)
	if err != nil {
		return task.Task{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = $2, data = $3 WHERE id = $1`, t.ID, string(t.Status), data); err != nil {
		return task.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func blockingAssetsJSON(ids []string) []byte {
	if ids == nil {
		ids = []string{}
	}
	b, _ := json.Marshal(ids)
	return b
}
