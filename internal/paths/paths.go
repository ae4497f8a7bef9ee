// Package paths provides centralized path resolution for autobuy.
// This package has NO internal imports (only stdlib) to avoid import cycles.
// All functions return errors to allow callers to log appropriately.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the default config file looked up by ConfigPath.
const ConfigFileName = "sites.toml"

// SecretsFileName is the default secrets file, kept alongside the config.
const SecretsFileName = "secrets.toml"

// dataDirOverride replaces ~/.autobuy when set (via --data-dir).
var dataDirOverride string

// SetBaseDir overrides the data directory. Empty restores the default.
func SetBaseDir(dir string) {
	dataDirOverride = dir
}

// BaseDir returns the autobuy base directory (~/.autobuy).
func BaseDir() (string, error) {
	if dataDirOverride != "" {
		return ExpandTilde(dataDirOverride)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".autobuy"), nil
}

// DataPath returns a path within the autobuy data directory (~/.autobuy/<subpath>).
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// ConfigPath returns the active sites.toml path.
// Priority: ./sites.toml (current dir) > ~/.autobuy/sites.toml
// Returns ("", nil) if no config exists.
func ConfigPath() (string, error) {
	if _, err := os.Stat(ConfigFileName); err == nil {
		absPath, err := filepath.Abs(ConfigFileName)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		return absPath, nil
	}

	globalPath, err := DataPath(ConfigFileName)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", nil
}

// SecretsPath returns the secrets file next to configPath.
// If configPath is empty, returns the default location.
func SecretsPath(configPath string) (string, error) {
	if configPath == "" {
		return DataPath(SecretsFileName)
	}
	return filepath.Join(filepath.Dir(configPath), SecretsFileName), nil
}

// BrowserDir returns the default browser data directory (~/.autobuy/browser).
func BrowserDir() (string, error) {
	return DataPath("browser")
}

// EnsureDir creates a directory if it doesn't exist.
// Uses 0750 permissions (owner: rwx, group: rx, other: none).
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// EnsureParentDir creates the parent directory of a file path if it doesn't exist.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// ExpandTilde expands a path that starts with ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}
