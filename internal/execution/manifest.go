package execution

import (
	"encoding/json"
	"os"
)

// Mode is the execution manifest's top-level discriminator.
type Mode string

const (
	ModeRun  Mode = "run"
	ModeTest Mode = "test"
)

// Manifest is the typed execution-manifest builder: mode, task_id and
// config are closed/typed, inputs stays an open string-to-string mapping of
// contract key to filesystem path.
type Manifest struct {
	Mode   Mode              `json:"mode"`
	TaskID string            `json:"task_id"`
	Inputs map[string]string `json:"inputs"`
	Config map[string]any    `json:"config"`
}

// WriteTemp marshals the manifest and writes it to a fresh temporary file
// under dir, returning its path.
func (m Manifest) WriteTemp(dir string) (string, error) {
	if m.Config == nil {
		m.Config = map[string]any{}
	}
	if m.Inputs == nil {
		m.Inputs = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "manifest-*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	return f.Name(), nil
}
