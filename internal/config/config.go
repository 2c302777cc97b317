package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/open-edge-platform/retros/internal/config/validate"
	"github.com/open-edge-platform/retros/internal/utils/general/slice"
	"github.com/open-edge-platform/retros/internal/utils/logger"
)

const (
	// AppName names the config and data directories.
	AppName = "retros"
	// ConfigFileName is the config file looked up in the config directory
	// and in the working directory.
	ConfigFileName = "retros.yml"
	// EnvPrefix prefixes environment overrides, e.g. RETROS_REGISTRY_DIR.
	EnvPrefix = "RETROS"
)

// Dependency manager names accepted in dependencies.manager.
const (
	DependencyManagerPlaceholder = "placeholder"
	DependencyManagerHost        = "host"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var compressions = []string{"", "gzip", "lz4", "lzo", "xz", "zstd"}

// Config is the resolved retros configuration.
type Config struct {
	RegistryDir  string             `mapstructure:"registry_dir" yaml:"registry_dir"`
	TempDir      string             `mapstructure:"temp_dir" yaml:"temp_dir"`
	OutputDir    string             `mapstructure:"output_dir" yaml:"output_dir"`
	Compression  string             `mapstructure:"compression" yaml:"compression"`
	Progress     bool               `mapstructure:"progress" yaml:"progress"`
	Tools        ToolsConfig        `mapstructure:"tools" yaml:"tools"`
	Launcher     LauncherConfig     `mapstructure:"launcher" yaml:"launcher"`
	Dependencies DependenciesConfig `mapstructure:"dependencies" yaml:"dependencies"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// ToolsConfig names the external binaries. Each may be a bare name resolved
// through PATH or an absolute path.
type ToolsConfig struct {
	Compressor string `mapstructure:"compressor" yaml:"compressor"`
	Mount      string `mapstructure:"mount" yaml:"mount"`
	Unmount    string `mapstructure:"unmount" yaml:"unmount"`
	Inspect    string `mapstructure:"inspect" yaml:"inspect"`
	Launcher   string `mapstructure:"launcher" yaml:"launcher"`
}

type LauncherConfig struct {
	URIPrefix string `mapstructure:"uri_prefix" yaml:"uri_prefix"`
}

type DependenciesConfig struct {
	Manager string `mapstructure:"manager" yaml:"manager"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// LoadOptions controls where Load looks for the config file.
type LoadOptions struct {
	// ConfigFile is used exclusively when set; it must exist.
	ConfigFile string
	// ConfigDir replaces $XDG_CONFIG_HOME/retros when set.
	ConfigDir string
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		RegistryDir: filepath.Join(xdg.DataHome, AppName, "installed"),
		TempDir:     "",
		OutputDir:   ".",
		Compression: "",
		Progress:    true,
		Tools: ToolsConfig{
			Compressor: "mksquashfs",
			Mount:      "squashfuse",
			Unmount:    "fusermount",
			Inspect:    "file",
			Launcher:   "lutris",
		},
		Launcher:     LauncherConfig{URIPrefix: "lutris://rungame/"},
		Dependencies: DependenciesConfig{Manager: DependencyManagerPlaceholder},
		Logging:      LoggingConfig{Level: "info"},
	}
}

// DefaultConfigDir returns $XDG_CONFIG_HOME/retros.
func DefaultConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Load resolves the configuration from, in order: opts.ConfigFile, the
// config directory, ./retros.yml, built-in defaults. RETROS_* environment
// variables override file values. It returns the file that was read, or ""
// when only defaults apply.
func Load(opts LoadOptions) (*Config, string, error) {
	log := logger.Logger()
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("registry_dir", defaults.RegistryDir)
	v.SetDefault("temp_dir", defaults.TempDir)
	v.SetDefault("output_dir", defaults.OutputDir)
	v.SetDefault("compression", defaults.Compression)
	v.SetDefault("progress", defaults.Progress)
	v.SetDefault("tools.compressor", defaults.Tools.Compressor)
	v.SetDefault("tools.mount", defaults.Tools.Mount)
	v.SetDefault("tools.unmount", defaults.Tools.Unmount)
	v.SetDefault("tools.inspect", defaults.Tools.Inspect)
	v.SetDefault("tools.launcher", defaults.Tools.Launcher)
	v.SetDefault("launcher.uri_prefix", defaults.Launcher.URIPrefix)
	v.SetDefault("dependencies.manager", defaults.Dependencies.Manager)
	v.SetDefault("logging.level", defaults.Logging.Level)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolved, err := resolveConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if resolved != "" {
		raw, err := os.ReadFile(resolved)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read config %s: %w", resolved, err)
		}
		if err := validate.ValidateConfigYAML(raw); err != nil {
			return nil, "", fmt.Errorf("%s: %w: %v", resolved, ErrInvalidConfig, err)
		}
		v.SetConfigFile(resolved)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("failed to read config %s: %w", resolved, err)
		}
		log.Debugf("Loaded configuration from %s", resolved)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		if resolved != "" {
			return nil, "", fmt.Errorf("%s: %w", resolved, err)
		}
		return nil, "", err
	}

	return &cfg, resolved, nil
}

func resolveConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFile != "" {
		if !fileExists(opts.ConfigFile) {
			return "", fmt.Errorf("config file not found: %s", opts.ConfigFile)
		}
		return opts.ConfigFile, nil
	}

	dir := opts.ConfigDir
	if dir == "" {
		dir = DefaultConfigDir()
	}
	if p := filepath.Join(dir, ConfigFileName); fileExists(p) {
		return p, nil
	}
	if fileExists(ConfigFileName) {
		return ConfigFileName, nil
	}
	return "", nil
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RegistryDir) == "" {
		return fmt.Errorf("%w: registry_dir must not be empty", ErrInvalidConfig)
	}
	if !slice.Contains(compressions, c.Compression) {
		return fmt.Errorf("%w: unsupported compression %q (expected one of %s)",
			ErrInvalidConfig, c.Compression, strings.Join(compressions[1:], ", "))
	}
	switch c.Dependencies.Manager {
	case DependencyManagerPlaceholder, DependencyManagerHost:
	default:
		return fmt.Errorf("%w: unknown dependencies.manager %q", ErrInvalidConfig, c.Dependencies.Manager)
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %v", ErrInvalidConfig, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

var (
	globalMu  sync.RWMutex
	globalCfg *Config
)

// Global returns the configuration installed with SetGlobal, or the
// defaults when none was installed.
func Global() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalCfg == nil {
		return DefaultConfig()
	}
	return globalCfg
}

// SetGlobal installs cfg as the process-wide configuration.
func SetGlobal(cfg *Config) {
	globalMu.Lock()
	globalCfg = cfg
	globalMu.Unlock()
}
