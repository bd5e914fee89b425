package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"biblfs/internal/config"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - BIBLFS_CONFIG_PATH: config file location (default: ~/.config/biblfs.toml)
//   - BIBLFS_HOME: base directory for biblfs data (default: ~/.local/share/biblfs)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking BIBLFS_CONFIG_PATH env var first,
// then falling back to the default ~/.config/biblfs.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("BIBLFS_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "biblfs.toml"), nil
}

// getBaseDir returns the base directory for biblfs data, checking BIBLFS_HOME env var first,
// then falling back to the XDG default ~/.local/share/biblfs.
func getBaseDir() (string, error) {
	if path := os.Getenv("BIBLFS_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "biblfs"), nil
}

// LoadConfig reads the config file at path. A missing file yields the
// defaults for dbPath so a mount can be driven by flags alone.
func LoadConfig(path, dbPath string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.NewConfig(dbPath), nil
	}
	return config.ReadFromFile(path)
}
