// Package asset holds the Asset entity: a datum tracked through a
// PENDING -> AVAILABLE | FAILED lifecycle.
package asset

import "time"

// Kind distinguishes a file-backed asset from an inline value asset.
type Kind string

const (
	KindFile  Kind = "FILE"
	KindValue Kind = "VALUE"
)

// Status is an asset's lifecycle state. PENDING is the only non-terminal
// state; AVAILABLE and FAILED are terminal and never mutated afterward.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAvailable Status = "AVAILABLE"
	StatusFailed    Status = "FAILED"
)

// Asset is the persisted record for one datum, produced or ingested.
type Asset struct {
	ID            string    `json:"id"`
	Label         string    `json:"label"`
	Kind          Kind      `json:"kind"`
	Status        Status    `json:"status"`
	MediaType     string    `json:"media_type"`
	StoragePath   string    `json:"storage_path,omitempty"`
	ValueContent  any       `json:"value_content,omitempty"`
	CreatedByTask string    `json:"created_by_task,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsTerminal reports whether the asset can no longer change state.
func (a Asset) IsTerminal() bool {
	return a.Status == StatusAvailable || a.Status == StatusFailed
}
