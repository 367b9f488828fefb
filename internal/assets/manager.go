// Package assets implements the Asset Manager: creation, fulfilment and
// failure of assets, and the on-disk storage layout backing FILE-kind
// assets.
package assets

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/atomrun/kernel/internal/domain/asset"
	"github.com/atomrun/kernel/internal/storage"
)

// Manager owns asset records and two storage subtrees:
// uploads/YYYY-MM-DD/<id>_<name> for ingested files, generated/<task_id>/
// <name> for task outputs.
type Manager struct {
	root   string
	assets storage.AssetStore
}

// New constructs a Manager rooted at root, ensuring the uploads/ and
// generated/ subtrees exist.
func New(root string, store storage.AssetStore) (*Manager, error) {
	for _, sub := range []string{"uploads", "generated"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("ensure %s dir: %w", sub, err)
		}
	}
	return &Manager{root: root, assets: store}, nil
}

// Ingest copies sourcePath into today's uploads subtree and records an
// AVAILABLE FILE asset. Fails if the source is absent.
func (m *Manager) Ingest(ctx context.Context, sourcePath, label, mediaType string) (asset.Asset, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		return asset.Asset{}, fmt.Errorf("ingest source: %w", err)
	}

	id := uuid.NewString()
	day := time.Now().UTC().Format("2006-01-02")
	destDir := filepath.Join(m.root, "uploads", day)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return asset.Asset{}, fmt.Errorf("ensure uploads dir: %w", err)
	}
	destPath := filepath.Join(destDir, id+"_"+filepath.Base(sourcePath))

	if err := copyFile(sourcePath, destPath); err != nil {
		return asset.Asset{}, fmt.Errorf("copy ingested file: %w", err)
	}

	a := asset.Asset{
		ID:          id,
		Label:       label,
		Kind:        asset.KindFile,
		Status:      asset.StatusAvailable,
		MediaType:   mediaType,
		StoragePath: destPath,
		Tags:        []string{"upload"},
	}
	return m.assets.CreateAsset(ctx, a)
}

// CreatePending records a PENDING asset of the given kind back-referenced to
// taskID, with no storage path or value assigned yet. kind determines how
// Fulfil later interprets its payload: FILE promises move a path into
// generated/<task_id>/, VALUE promises store the payload inline.
func (m *Manager) CreatePending(ctx context.Context, taskID, label, mediaType string, kind asset.Kind) (asset.Asset, error) {
	a := asset.Asset{
		ID:            uuid.NewString(),
		Label:         label,
		Kind:          kind,
		Status:        asset.StatusPending,
		MediaType:     mediaType,
		CreatedByTask: taskID,
		Tags:          []string{"task-output"},
	}
	return m.assets.CreateAsset(ctx, a)
}

// CreateValue records an AVAILABLE VALUE asset with the given inline
// content.
func (m *Manager) CreateValue(ctx context.Context, label string, value any, mediaType string) (asset.Asset, error) {
	a := asset.Asset{
		ID:           uuid.NewString(),
		Label:        label,
		Kind:         asset.KindValue,
		Status:       asset.StatusAvailable,
		MediaType:    mediaType,
		ValueContent: value,
	}
	return m.assets.CreateAsset(ctx, a)
}

// Fulfil transitions a PENDING asset to AVAILABLE. For a FILE promise,
// payload is interpreted as a path and the file is moved (not copied) into
// generated/<task_id>/ — the caller retains no handle on the source
// afterward. For a VALUE promise, payload is stored directly as
// value_content.
func (m *Manager) Fulfil(ctx context.Context, assetID string, payload any) (asset.Asset, error) {
	a, err := m.assets.GetAsset(ctx, assetID)
	if err != nil {
		return asset.Asset{}, err
	}
	if a.IsTerminal() {
		panic(fmt.Sprintf("assets: fulfil called on terminal asset %s", assetID))
	}

	switch a.Kind {
	case asset.KindFile:
		srcPath, ok := payload.(string)
		if !ok {
			return asset.Asset{}, fmt.Errorf("fulfil file asset %s: payload is not a path", assetID)
		}
		destDir := filepath.Join(m.root, "generated", a.CreatedByTask)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return asset.Asset{}, fmt.Errorf("ensure generated dir: %w", err)
		}
		destPath := filepath.Join(destDir, filepath.Base(srcPath))
		if err := moveFile(srcPath, destPath); err != nil {
			return asset.Asset{}, fmt.Errorf("move generated file: %w", err)
		}
		a.StoragePath = destPath
	case asset.KindValue:
		a.ValueContent = payload
	default:
		return asset.Asset{}, fmt.Errorf("fulfil asset %s: unknown kind %q", assetID, a.Kind)
	}

	a.Status = asset.StatusAvailable
	return m.assets.UpdateAsset(ctx, a)
}

// Fail transitions a PENDING asset to FAILED(reason). Calling Fail on a
// terminal asset is a programmer error.
func (m *Manager) Fail(ctx context.Context, assetID, reason string) (asset.Asset, error) {
	a, err := m.assets.GetAsset(ctx, assetID)
	if err != nil {
		return asset.Asset{}, err
	}
	if a.IsTerminal() {
		panic(fmt.Sprintf("assets: fail called on terminal asset %s", assetID))
	}
	a.Status = asset.StatusFailed
	a.Error = reason
	return m.assets.UpdateAsset(ctx, a)
}

// ResolveToPath returns a filesystem path for an AVAILABLE asset: the
// storage path directly for FILE, or a freshly written temporary file for
// VALUE (suffixed by media type so the module's interpreter can guess the
// format). Returns ok=false if the asset is not AVAILABLE.
func (m *Manager) ResolveToPath(ctx context.Context, assetID, tempDir string) (path string, ok bool, err error) {
	a, err := m.assets.GetAsset(ctx, assetID)
	if err != nil {
		return "", false, err
	}
	if a.Status != asset.StatusAvailable {
		return "", false, nil
	}

	switch a.Kind {
	case asset.KindFile:
		return a.StoragePath, true, nil
	case asset.KindValue:
		path, err := writeValueFile(tempDir, assetID, a.MediaType, a.ValueContent)
		if err != nil {
			return "", false, err
		}
		return path, true, nil
	default:
		return "", false, fmt.Errorf("resolve asset %s: unknown kind %q", assetID, a.Kind)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// moveFile renames when possible (same filesystem, the common case for
// generated/<task_id>/ siblings of the module's own temp dir) and falls back
// to copy-then-remove across filesystem boundaries.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func writeValueFile(tempDir, assetID, mediaType string, value any) (string, error) {
	suffix := ".txt"
	if mediaType == "application/json" {
		suffix = ".json"
	}
	f, err := os.CreateTemp(tempDir, assetID+"-*"+suffix)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := writeValueContent(f, mediaType, value); err != nil {
		return "", err
	}
	return f.Name(), nil
}
