package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/atom/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "test-app"
version = "0.1.0"
entry = "build/main.json"

[vm]
gc-enabled = false
gc-threshold = 2048
gc-ratio = 0.25
max-recursion = 64
null-silent = false
report-null-errors = true

[build]
output = "out/app.atomi"

[cache]
enabled = true
dir = ".atom-cache"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "test-app" {
		t.Errorf("project name = %q, want test-app", m.Project.Name)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}
	if got, want := m.EntryPath(), filepath.Join(m.Dir, "build", "main.json"); got != want {
		t.Errorf("entry path = %q, want %q", got, want)
	}
	if got, want := m.BuildOutputPath(), filepath.Join(m.Dir, "out", "app.atomi"); got != want {
		t.Errorf("build output = %q, want %q", got, want)
	}
	cacheDir, ok := m.CacheDir()
	if !ok || cacheDir != filepath.Join(m.Dir, ".atom-cache") {
		t.Errorf("cache dir = %q, %v", cacheDir, ok)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Build.Output != "build/main.atomi" {
		t.Errorf("default build output = %q, want build/main.atomi", m.Build.Output)
	}
	if m.EntryPath() != "" {
		t.Errorf("entry path = %q, want empty", m.EntryPath())
	}
	if _, ok := m.CacheDir(); ok {
		t.Error("cache enabled by default, want disabled")
	}
}

func TestLoadManifestRejectsNegative(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[vm]
max-ccalls = -1
`)
	if _, err := Load(dir); err == nil {
		t.Fatal("expected an error for a negative max-ccalls")
	}
}

func TestLoadManifestParseError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[vm\n")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected a parse error")
	}
}

// ---------------------------------------------------------------------------
// Options overlay
// ---------------------------------------------------------------------------

func TestOptionsOverlay(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[vm]
gc-enabled = false
gc-threshold = 2048
gc-ratio = 0.25
max-recursion = 64
null-silent = false
report-null-errors = true
`)
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	opts := m.Options()
	def := vm.DefaultOptions()

	if opts.GCEnabled {
		t.Error("GCEnabled = true, want false")
	}
	if opts.GCThreshold != 2048 {
		t.Errorf("GCThreshold = %d, want 2048", opts.GCThreshold)
	}
	if opts.GCRatio != 0.25 {
		t.Errorf("GCRatio = %g, want 0.25", opts.GCRatio)
	}
	if opts.MaxRecursion != 64 {
		t.Errorf("MaxRecursion = %d, want 64", opts.MaxRecursion)
	}
	if opts.NullSilent {
		t.Error("NullSilent = true, want false")
	}
	if opts.Delegate == nil || !opts.Delegate.ReportNullErrors {
		t.Error("ReportNullErrors not carried into the delegate")
	}

	// untouched keys keep their defaults
	if opts.GCMinThreshold != def.GCMinThreshold {
		t.Errorf("GCMinThreshold = %d, want %d", opts.GCMinThreshold, def.GCMinThreshold)
	}
	if opts.MaxCCalls != def.MaxCCalls {
		t.Errorf("MaxCCalls = %d, want %d", opts.MaxCCalls, def.MaxCCalls)
	}
	if opts.MaxBlock != def.MaxBlock {
		t.Errorf("MaxBlock = %d, want %d", opts.MaxBlock, def.MaxBlock)
	}
}

func TestNilManifestOptions(t *testing.T) {
	var m *Manifest
	opts := m.Options()
	if opts != vm.DefaultOptions() {
		t.Errorf("nil manifest options = %+v, want defaults", opts)
	}
}

// ---------------------------------------------------------------------------
// Discovery
// ---------------------------------------------------------------------------

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `[project]
name = "found-project"
`)

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no atom.toml exists")
	}
}
