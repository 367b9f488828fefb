package registry

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/atomrun/kernel/internal/domain/module"
)

const (
	manifestFileName = "module.json"
	entryScriptName  = "main.py"
	requirementsFile = "requirements.txt"
	testDataFileName = "test_data.json"
)

// Scanner walks a modules root directory, validates candidate module
// directories against the manifest contract, and computes a stable content
// hash used to detect changes between rescans.
type Scanner struct{}

// NewScanner constructs a Scanner. It carries no state.
func NewScanner() *Scanner { return &Scanner{} }

// Scan returns a mapping of immediate subdirectory name to absolute path for
// every candidate module directory under root, excluding names beginning
// with "." or "__".
func (s *Scanner) Scan(root string) (map[string]string, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "__") {
			continue
		}
		out[name] = filepath.Join(root, name)
	}
	return out, nil
}

// Validate parses and checks <dir>/module.json plus the presence of the
// entry script. Any deviation from the manifest contract returns
// (Manifest{}, false); there is no partial acceptance.
func (s *Scanner) Validate(dir string) (module.Manifest, bool) {
	manifestPath := filepath.Join(dir, manifestFileName)
	entryPath := filepath.Join(dir, entryScriptName)

	if _, err := os.Stat(manifestPath); err != nil {
		return module.Manifest{}, false
	}
	if _, err := os.Stat(entryPath); err != nil {
		return module.Manifest{}, false
	}

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return module.Manifest{}, false
	}

	var m module.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return module.Manifest{}, false
	}
	if m.Name == "" || m.Version == "" || m.EntryPoint == "" {
		return module.Manifest{}, false
	}
	if m.Inputs == nil || m.Outputs == nil {
		return module.Manifest{}, false
	}

	for _, in := range m.Inputs {
		if in.Key == "" {
			return module.Manifest{}, false
		}
		if in.ContractType != module.ContractAsset && in.ContractType != module.ContractValue {
			return module.Manifest{}, false
		}
	}

	return m, true
}

// Hash computes a stable content hash over module.json, the entry script,
// and requirements.txt, concatenated in a fixed order. Missing files
// contribute nothing. The only requirement on the digest is stability
// across runs.
func (s *Scanner) Hash(dir string) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	for _, name := range []string{manifestFileName, entryScriptName, requirementsFile} {
		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		h.Write(content)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum), nil
}
