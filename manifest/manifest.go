// Package manifest handles vela.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/vela/vm"
)

// FileName is the name of the project configuration file.
const FileName = "vela.toml"

// Manifest represents a vela.toml project configuration.
type Manifest struct {
	Project Project      `toml:"project"`
	Run     RunConfig    `toml:"run"`
	Limits  LimitsConfig `toml:"limits"`
	Log     LogConfig    `toml:"log"`
	Store   StoreConfig  `toml:"store"`

	// Dir is the directory containing the vela.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// RunConfig selects what the runner executes.
type RunConfig struct {
	Image       string   `toml:"image"`
	Entry       string   `toml:"entry"` // code object name; empty means the image's own entry
	SearchPaths []string `toml:"search-paths"`
}

// LimitsConfig mirrors vm.Limits. Zero means the VM default.
type LimitsConfig struct {
	MaxCallDepth int   `toml:"max-call-depth"`
	MaxStackSize int   `toml:"max-stack-size"`
	MaxSteps     int64 `toml:"max-steps"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// StoreConfig locates the image store database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// Load parses a vela.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates vela.toml content. Dir is left empty.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	// Defaults
	if len(m.Run.SearchPaths) == 0 {
		m.Run.SearchPaths = []string{"src", "modules", "lib"}
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a vela.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
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

// VMLimits converts the [limits] section.
func (m *Manifest) VMLimits() vm.Limits {
	return vm.Limits{
		MaxCallDepth: m.Limits.MaxCallDepth,
		MaxStackSize: m.Limits.MaxStackSize,
		MaxSteps:     m.Limits.MaxSteps,
	}
}

// ImagePath returns the absolute path of the configured image, or "".
func (m *Manifest) ImagePath() string {
	if m.Run.Image == "" {
		return ""
	}
	return m.resolve(m.Run.Image)
}

// SearchPathDirs returns absolute paths for the module search roots.
func (m *Manifest) SearchPathDirs() []string {
	var paths []string
	for _, d := range m.Run.SearchPaths {
		paths = append(paths, m.resolve(d))
	}
	return paths
}

// LogFile returns the absolute log file path, or nil to log to stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	p := m.resolve(m.Log.File)
	return &p
}

// StorePath returns the absolute image store path, or "".
func (m *Manifest) StorePath() string {
	if m.Store.Path == "" {
		return ""
	}
	return m.resolve(m.Store.Path)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
