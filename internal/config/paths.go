// Package config resolves rmplan's per-user configuration paths and loads
// the optional storage settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	// EnvConfigDir overrides the config root when set.
	EnvConfigDir = "RMPLAN_CONFIG_DIR"
	// ConfigDirName is the directory name under the platform config root.
	ConfigDirName = "rmplan"
	// StateDBName is the state database file name.
	StateDBName = "rmplan.db"
	// SettingsFileName is the optional storage settings file name.
	SettingsFileName = "state.yml"
	// LegacyWorkspacesFile is the legacy global workspace tracking file.
	LegacyWorkspacesFile = "workspaces.json"
	// LegacyRepositoriesDirName holds the legacy per-repository files.
	LegacyRepositoriesDirName = "repositories"
)

// ConfigRoot returns the rmplan configuration directory.
// Resolution order: $RMPLAN_CONFIG_DIR, then $XDG_CONFIG_HOME/rmplan,
// then ~/.config/rmplan (or %APPDATA%\rmplan on Windows).
func ConfigRoot() (string, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir, nil
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, ConfigDirName), nil
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, ConfigDirName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", ConfigDirName), nil
}

// StateDBPath returns the state database file path.
// Path: <config root>/rmplan.db
func StateDBPath() (string, error) {
	root, err := ConfigRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, StateDBName), nil
}

// SettingsPath returns the storage settings file path.
// Path: <config root>/state.yml
func SettingsPath() (string, error) {
	root, err := ConfigRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, SettingsFileName), nil
}

// LegacyWorkspacesPath returns the legacy global workspace file under root.
func LegacyWorkspacesPath(root string) string {
	return filepath.Join(root, LegacyWorkspacesFile)
}

// LegacyRepositoriesDir returns the legacy per-repository directory under root.
func LegacyRepositoriesDir(root string) string {
	return filepath.Join(root, LegacyRepositoriesDirName)
}

// EnsureConfigRoot creates the config root if it does not exist and
// returns its path.
func EnsureConfigRoot() (string, error) {
	root, err := ConfigRoot()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return root, nil
}
