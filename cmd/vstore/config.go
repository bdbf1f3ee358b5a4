package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/matsen/vstore/internal/config"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Get or set configuration values",
	Long: `Get or set values in the global config file.

Usage:
  vstore config                        # Show effective config
  vstore config base-path              # Get specific value
  vstore config base-path ~/data       # Set value
  vstore config path                   # Show the config file location

Keys:
  base-path      Root directory for all tables
  namespace      Default namespace directory
  page-size      Records per chunk file (default 5000)
  max-versions   Versions kept per table (default 5, negative keeps all)
  mode           auto, versioned or flat
  log-level      debug, info, warn or error
  log-format     console or json

Environment variables VSTORE_BASE_PATH, VSTORE_NAMESPACE, VSTORE_PAGE_SIZE,
VSTORE_MAX_VERSIONS, VSTORE_MODE, VSTORE_LOG_LEVEL and VSTORE_LOG_FORMAT
override the file.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	if len(args) == 1 && args[0] == "path" {
		path := configTarget()
		if humanOutput {
			fmt.Println(path)
		} else {
			outputJSON(map[string]string{"path": path})
		}
		return nil
	}

	// No args: show the effective config
	if len(args) == 0 {
		cfg := mustLoadConfig()
		if humanOutput {
			for _, key := range configKeys {
				v, _ := getConfigValue(cfg, key)
				fmt.Printf("%-13s %s\n", key+":", v)
			}
		} else {
			outputJSON(cfg)
		}
		return nil
	}

	key := normalizeKey(args[0])

	// One arg: get specific value
	if len(args) == 1 {
		v, err := getConfigValue(mustLoadConfig(), key)
		if err != nil {
			exitWithError(ExitConfigError, "%v", err)
		}
		if humanOutput {
			fmt.Println(v)
		} else {
			outputJSON(map[string]string{key: v})
		}
		return nil
	}

	// Two args: set in the config file itself, without env overrides
	path := configTarget()
	cfg, err := config.LoadFile(path)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	if err := setConfigValue(cfg, key, args[1]); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	if err := cfg.Save(path); err != nil {
		exitWithError(ExitError, "%v", err)
	}
	config.ResetGlobalConfigCache()

	if humanOutput {
		fmt.Printf("Set %s = %s\n", key, args[1])
	} else {
		outputJSON(map[string]string{"status": "updated", "key": key, "value": args[1]})
	}
	return nil
}

var configKeys = []string{"base-path", "namespace", "page-size", "max-versions", "mode", "log-level", "log-format"}

func configTarget() string {
	if configFile != "" {
		return config.ExpandPath(configFile)
	}
	return config.GlobalConfigPath()
}

// normalizeKey converts key variations to canonical form.
func normalizeKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", "-"))
}

func getConfigValue(cfg *config.GlobalConfig, key string) (string, error) {
	switch key {
	case "base-path":
		return cfg.BasePath, nil
	case "namespace":
		return cfg.Namespace, nil
	case "page-size":
		return strconv.Itoa(cfg.PageSize), nil
	case "max-versions":
		return strconv.Itoa(cfg.MaxVersions), nil
	case "mode":
		return cfg.Mode, nil
	case "log-level":
		return cfg.LogLevel, nil
	case "log-format":
		return cfg.LogFormat, nil
	}
	return "", fmt.Errorf("unknown config key: %s (valid: %s)", key, strings.Join(configKeys, ", "))
}

func setConfigValue(cfg *config.GlobalConfig, key, value string) error {
	switch key {
	case "base-path":
		cfg.BasePath = config.ExpandPath(value)
	case "namespace":
		cfg.Namespace = value
	case "page-size", "max-versions":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %q is not an integer", key, value)
		}
		if key == "page-size" {
			if n < 0 {
				return fmt.Errorf("invalid page-size: %d", n)
			}
			cfg.PageSize = n
		} else {
			cfg.MaxVersions = n
		}
	case "mode":
		if _, err := config.ParseMode(value); err != nil {
			return err
		}
		cfg.Mode = value
	case "log-level":
		cfg.LogLevel = value
	case "log-format":
		cfg.LogFormat = value
	default:
		return fmt.Errorf("unknown config key: %s (valid: %s)", key, strings.Join(configKeys, ", "))
	}
	return nil
}
