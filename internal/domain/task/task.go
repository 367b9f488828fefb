// Package task holds the Task entity: one planned invocation of one module.
package task

import "time"

// Status is a task's lifecycle state.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusBlocked   Status = "BLOCKED"
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Task is the persisted record for one invocation of one module.
type Task struct {
	ID             string            `json:"id"`
	ModuleID       string            `json:"module_id"`
	Status         Status            `json:"status"`
	InputMap       map[string]string `json:"input_map"`
	OutputMap      map[string]string `json:"output_map"`
	Config         map[string]any    `json:"config"`
	BlockingAssets []string          `json:"blocking_assets"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	ErrorLog       string            `json:"error_log,omitempty"`
	Logs           []string          `json:"logs,omitempty"`
}

// IsTerminal reports whether the task has reached COMPLETED or FAILED.
func (t Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// RemoveBlocker returns a copy of BlockingAssets with assetID removed.
func RemoveBlocker(blockers []string, assetID string) []string {
	out := make([]string, 0, len(blockers))
	for _, b := range blockers {
		if b != assetID {
			out = append(out, b)
		}
	}
	return out
}
