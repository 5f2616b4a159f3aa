package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestConfigRoot_EnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(EnvConfigDir, tmpDir)

	root, err := ConfigRoot()
	if err != nil {
		t.Fatalf("ConfigRoot failed: %v", err)
	}
	if root != tmpDir {
		t.Errorf("ConfigRoot() = %q, want %q", root, tmpDir)
	}
}

func TestConfigRoot_XDG(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("XDG resolution does not apply on Windows")
	}

	tmpDir := t.TempDir()
	t.Setenv(EnvConfigDir, "")
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	root, err := ConfigRoot()
	if err != nil {
		t.Fatalf("ConfigRoot failed: %v", err)
	}
	want := filepath.Join(tmpDir, ConfigDirName)
	if root != want {
		t.Errorf("ConfigRoot() = %q, want %q", root, want)
	}
}

func TestConfigRoot_HomeFallback(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("home fallback differs on Windows")
	}

	tmpDir := t.TempDir()
	t.Setenv(EnvConfigDir, "")
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", tmpDir)

	root, err := ConfigRoot()
	if err != nil {
		t.Fatalf("ConfigRoot failed: %v", err)
	}
	want := filepath.Join(tmpDir, ".config", ConfigDirName)
	if root != want {
		t.Errorf("ConfigRoot() = %q, want %q", root, want)
	}
}

func TestStateDBPath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(EnvConfigDir, tmpDir)

	path, err := StateDBPath()
	if err != nil {
		t.Fatalf("StateDBPath failed: %v", err)
	}
	want := filepath.Join(tmpDir, StateDBName)
	if path != want {
		t.Errorf("StateDBPath() = %q, want %q", path, want)
	}
}

func TestLegacyPaths(t *testing.T) {
	root := "/some/root"

	if got := LegacyWorkspacesPath(root); got != filepath.Join(root, "workspaces.json") {
		t.Errorf("LegacyWorkspacesPath() = %q", got)
	}
	if got := LegacyRepositoriesDir(root); got != filepath.Join(root, "repositories") {
		t.Errorf("LegacyRepositoriesDir() = %q", got)
	}
}

func TestEnsureConfigRoot(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "nested", "rmplan")
	t.Setenv(EnvConfigDir, target)

	root, err := EnsureConfigRoot()
	if err != nil {
		t.Fatalf("EnsureConfigRoot failed: %v", err)
	}
	if root != target {
		t.Errorf("EnsureConfigRoot() = %q, want %q", root, target)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("config root was not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("config root is not a directory")
	}
}
