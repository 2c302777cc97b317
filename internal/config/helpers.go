package config

import (
	"os"
	"path/filepath"
)

// ConfigHelpers provides convenient access to resolved configuration values
type ConfigHelpers struct {
	config *Config
}

// NewConfigHelpers creates a new config helpers instance
func NewConfigHelpers(config *Config) *ConfigHelpers {
	if config == nil {
		config = DefaultConfig()
	}
	return &ConfigHelpers{config: config}
}

// RegistryDir returns the absolute path to the install registry
func (c *ConfigHelpers) RegistryDir() (string, error) {
	return filepath.Abs(expandHome(c.config.RegistryDir))
}

// OutputDir returns the absolute path where create writes artifacts
func (c *ConfigHelpers) OutputDir() (string, error) {
	dir := c.config.OutputDir
	if dir == "" {
		dir = "."
	}
	return filepath.Abs(expandHome(dir))
}

// TempDir returns the temporary directory path
func (c *ConfigHelpers) TempDir() string {
	if c.config.TempDir == "" {
		return os.TempDir()
	}
	return expandHome(c.config.TempDir)
}

// IsDebugMode returns true if debug logging is enabled
func (c *ConfigHelpers) IsDebugMode() bool {
	return c.config.Logging.Level == "debug"
}

func expandHome(path string) string {
	if path == "~" || len(path) > 1 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
