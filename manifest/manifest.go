// Package manifest handles atom.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/atom/vm"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "atom.toml"

// Manifest represents an atom.toml project configuration.
type Manifest struct {
	Project Project  `toml:"project"`
	VM      VMConfig `toml:"vm"`
	Build   Build    `toml:"build"`
	Cache   Cache    `toml:"cache"`

	// Dir is the directory containing the atom.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Entry   string `toml:"entry"` // artifact run when none is given
}

// VMConfig overrides vm.Options. Unset keys keep the defaults.
type VMConfig struct {
	GCEnabled        *bool    `toml:"gc-enabled"`
	GCThreshold      *int     `toml:"gc-threshold"`
	GCMinThreshold   *int     `toml:"gc-min-threshold"`
	GCRatio          *float64 `toml:"gc-ratio"`
	MaxCCalls        *int     `toml:"max-ccalls"`
	MaxBlock         *int     `toml:"max-block"`
	MaxRecursion     *int     `toml:"max-recursion"`
	NullSilent       *bool    `toml:"null-silent"`
	ReportNullErrors bool     `toml:"report-null-errors"`
}

// Build configures `atom build` output.
type Build struct {
	Output string `toml:"output"`
}

// Cache configures the decoded-artifact cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// Load parses an atom.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
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

	// Defaults
	if m.Build.Output == "" {
		m.Build.Output = "build/main.atomi"
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find an atom.toml file,
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

func (m *Manifest) validate() error {
	for name, v := range map[string]*int{
		"gc-threshold":     m.VM.GCThreshold,
		"gc-min-threshold": m.VM.GCMinThreshold,
		"max-ccalls":       m.VM.MaxCCalls,
		"max-block":        m.VM.MaxBlock,
		"max-recursion":    m.VM.MaxRecursion,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("vm.%s must not be negative, got %d", name, *v)
		}
	}
	if m.VM.GCRatio != nil && *m.VM.GCRatio < 0 {
		return fmt.Errorf("vm.gc-ratio must not be negative, got %g", *m.VM.GCRatio)
	}
	return nil
}

// Options overlays the [vm] table on vm.DefaultOptions. A nil manifest
// yields the defaults.
func (m *Manifest) Options() vm.Options {
	opts := vm.DefaultOptions()
	if m == nil {
		return opts
	}
	c := m.VM
	if c.GCEnabled != nil {
		opts.GCEnabled = *c.GCEnabled
	}
	if c.GCThreshold != nil {
		opts.GCThreshold = *c.GCThreshold
	}
	if c.GCMinThreshold != nil {
		opts.GCMinThreshold = *c.GCMinThreshold
	}
	if c.GCRatio != nil {
		opts.GCRatio = *c.GCRatio
	}
	if c.MaxCCalls != nil {
		opts.MaxCCalls = *c.MaxCCalls
	}
	if c.MaxBlock != nil {
		opts.MaxBlock = *c.MaxBlock
	}
	if c.MaxRecursion != nil {
		opts.MaxRecursion = *c.MaxRecursion
	}
	if c.NullSilent != nil {
		opts.NullSilent = *c.NullSilent
	}
	if c.ReportNullErrors {
		opts.Delegate = &vm.Delegate{ReportNullErrors: true}
	}
	return opts
}

// EntryPath returns the absolute path of the project entry artifact, or
// "" when none is configured.
func (m *Manifest) EntryPath() string {
	if m == nil || m.Project.Entry == "" {
		return ""
	}
	return m.resolve(m.Project.Entry)
}

// BuildOutputPath returns the absolute path `atom build` writes to.
func (m *Manifest) BuildOutputPath() string {
	return m.resolve(m.Build.Output)
}

// CacheDir returns the cache directory, "" selecting the user cache. It
// reports false when caching is off.
func (m *Manifest) CacheDir() (string, bool) {
	if m == nil || !m.Cache.Enabled {
		return "", false
	}
	if m.Cache.Dir == "" {
		return "", true
	}
	return m.resolve(m.Cache.Dir), true
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
