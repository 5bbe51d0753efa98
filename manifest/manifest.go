// Package manifest handles svm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents an svm.toml project configuration. Command-line flags
// override anything set here.
type Manifest struct {
	Machine MachineConfig `toml:"machine"`
	Store   StoreConfig   `toml:"store"`

	// Dir is the directory containing the svm.toml file (set at load time).
	Dir string `toml:"-"`
}

// MachineConfig configures execution defaults. StackLimit caps operand
// stack depth; zero keeps the machine's built-in default.
type MachineConfig struct {
	Password   string `toml:"password"`
	Verbose    bool   `toml:"verbose"`
	StackLimit int    `toml:"stack-limit"`
}

// StoreConfig configures the program store.
type StoreConfig struct {
	Path string `toml:"path"`
}

// Load parses an svm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "svm.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find an svm.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "svm.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// StorePath returns the absolute path of the configured program store, or
// "" when no store is configured.
func (m *Manifest) StorePath() string {
	if m.Store.Path == "" {
		return ""
	}
	if filepath.IsAbs(m.Store.Path) {
		return m.Store.Path
	}
	return filepath.Join(m.Dir, m.Store.Path)
}
