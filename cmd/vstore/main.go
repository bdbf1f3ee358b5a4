// Package main provides the vstore CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/matsen/vstore/internal/config"
	"github.com/matsen/vstore/internal/filedb"
	"github.com/matsen/vstore/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set at build time via ldflags
var Version = "dev"

// Global flags.
var (
	humanOutput   bool
	configFile    string
	basePathFlag  string
	namespaceFlag string
	modeFlag      string
	logLevelFlag  string
)

// logger is set up in PersistentPreRunE.
var logger = zap.NewNop().Sugar()

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vstore",
	Short: "Versioned, chunked file-backed data store",
	Long: `vstore keeps tables of JSON, text and XML data on the local filesystem.

Each table is stored as numbered chunk files with a metadata.json summary.
Versioned tables keep one timestamped directory per version and prune old
versions automatically; flat tables keep a single data set.

All commands output JSON by default for agent consumption.
Use --human flag for human-readable output.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	// Load .env file if present (for VSTORE_* settings)
	_ = godotenv.Load()

	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	pf.StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/vstore/config.yml)")
	pf.StringVar(&basePathFlag, "base-path", "", "Root directory for all tables")
	pf.StringVar(&namespaceFlag, "namespace", "", "Namespace directory under the base path")
	pf.StringVar(&modeFlag, "mode", "", "Storage mode: auto, versioned or flat")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Version = Version
}

func setup(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	level := cfg.LogLevel
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	if level == "" {
		level = "warn"
	}
	logger = logging.New(level, logging.ParseFormat(cfg.LogFormat)).Sugar()
	return nil
}

// mustLoadConfig loads the global config and applies command-line overrides.
func mustLoadConfig() *config.GlobalConfig {
	var (
		cfg *config.GlobalConfig
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(config.ExpandPath(configFile))
		if err == nil {
			err = cfg.ApplyEnv(os.Getenv)
		}
	} else {
		cfg, err = config.LoadGlobalConfig()
	}
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}

	if basePathFlag != "" {
		cfg.BasePath = config.ExpandPath(basePathFlag)
	}
	if namespaceFlag != "" {
		cfg.Namespace = namespaceFlag
	}
	if modeFlag != "" {
		cfg.Mode = modeFlag
	}
	return cfg
}

// mustOpenStore opens the store for a table, exits on error.
func mustOpenStore(table string) *filedb.Store {
	cfg := mustLoadConfig()
	storeCfg, err := cfg.StoreConfig(table, logger)
	if err != nil {
		if cfg.BasePath == "" {
			fmt.Fprintln(os.Stderr, config.HelpfulConfigMessage())
		}
		exitWithError(ExitConfigError, "%v", err)
	}
	st, err := filedb.Open(storeCfg)
	if err != nil {
		exitWithError(exitCodeFor(err), "opening table %q: %v", table, err)
	}
	return st
}
