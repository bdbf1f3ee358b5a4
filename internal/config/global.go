// Package config handles the global vstore configuration file and its
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// GlobalConfig represents configuration stored in ~/.config/vstore/config.yml.
type GlobalConfig struct {
	BasePath           string      `yaml:"base_path,omitempty" json:"base_path,omitempty"`
	Namespace          string      `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	PageSize           int         `yaml:"page_size,omitempty" json:"page_size,omitempty"`
	MaxVersions        int         `yaml:"max_versions,omitempty" json:"max_versions,omitempty"`
	Mode               string      `yaml:"mode,omitempty" json:"mode,omitempty"` // auto, versioned, flat
	DisableMetadata    bool        `yaml:"disable_metadata,omitempty" json:"disable_metadata,omitempty"`
	FreeSpaceThreshold int64       `yaml:"free_space_threshold,omitempty" json:"free_space_threshold,omitempty"`
	LogLevel           string      `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	LogFormat          string      `yaml:"log_format,omitempty" json:"log_format,omitempty"`
	Fetch              FetchConfig `yaml:"fetch,omitempty" json:"fetch,omitempty"`
}

// FetchConfig configures remote ingestion.
type FetchConfig struct {
	RateLimit  float64 `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`   // requests per second
	MaxRetries int     `yaml:"max_retries,omitempty" json:"max_retries,omitempty"` // per request
	TimeoutSec int     `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty"`
}

const (
	// GlobalConfigDir is the directory name under XDG_CONFIG_HOME.
	GlobalConfigDir = "vstore"
	// GlobalConfigFile is the config file name.
	GlobalConfigFile = "config.yml"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "VSTORE_"
)

// globalConfigCache caches the loaded global config.
var globalConfigCache *GlobalConfig

// GlobalConfigPath returns the path to the global config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/vstore/config.yml.
func GlobalConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, GlobalConfigDir, GlobalConfigFile)
}

// LoadGlobalConfig loads the global configuration file and applies
// environment overrides. Returns an empty config (not an error) if the file
// doesn't exist.
func LoadGlobalConfig() (*GlobalConfig, error) {
	if globalConfigCache != nil {
		return globalConfigCache, nil
	}

	cfg, err := LoadFile(GlobalConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	globalConfigCache = cfg
	return cfg, nil
}

// LoadFile parses one YAML config file. A missing file yields an empty config.
func LoadFile(path string) (*GlobalConfig, error) {
	if path == "" {
		return &GlobalConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GlobalConfig{}, nil
		}
		return nil, fmt.Errorf("reading global config: %w", err)
	}

	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing global config: %w", err)
	}
	if cfg.BasePath != "" {
		cfg.BasePath = ExpandPath(cfg.BasePath)
	}
	return &cfg, nil
}

// Save writes the config as YAML to path, creating its directory.
func (c *GlobalConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from VSTORE_* variables looked up with getenv.
func (c *GlobalConfig) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvPrefix + "BASE_PATH"); v != "" {
		c.BasePath = ExpandPath(v)
	}
	if v := getenv(EnvPrefix + "NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := getenv(EnvPrefix + "MODE"); v != "" {
		c.Mode = v
	}
	if v := getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PAGE_SIZE", &c.PageSize},
		{"MAX_VERSIONS", &c.MaxVersions},
	}
	for _, it := range ints {
		v := getenv(EnvPrefix + it.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, it.key, v, err)
		}
		*it.dst = n
	}

	if v := getenv(EnvPrefix + "FREE_SPACE_THRESHOLD"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sFREE_SPACE_THRESHOLD %q: %w", EnvPrefix, v, err)
		}
		c.FreeSpaceThreshold = n
	}
	if v := getenv(EnvPrefix + "DISABLE_METADATA"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sDISABLE_METADATA %q: %w", EnvPrefix, v, err)
		}
		c.DisableMetadata = b
	}
	return nil
}

// ResetGlobalConfigCache clears the cached global config.
// Useful for testing.
func ResetGlobalConfigCache() {
	globalConfigCache = nil
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// HelpfulConfigMessage returns a helpful message when base_path is not configured.
func HelpfulConfigMessage() string {
	configPath := GlobalConfigPath()
	return fmt.Sprintf(`No base path configured.

Pass --base-path, set %sBASE_PATH, or create %s:
  mkdir -p %s
  echo 'base_path: /path/to/data' > %s`,
		EnvPrefix,
		configPath,
		filepath.Dir(configPath),
		configPath)
}
