package main

import (
	"fmt"
	"os"

	"extract-main-content/internal/config"
	"extract-main-content/internal/logging"
	"extract-main-content/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Persistent flag variables.
var (
	flagConfig  string
	flagStore   string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "extract",
	Short: "Pull the main content out of web pages",
	Long: `extract runs the content extraction pipeline on a live URL or a saved HTML
file: site-specific extractors first, then readability and the heuristic scorer,
waiting for client-rendered pages to settle.

Usage:
  extract url <url> [flags]
  extract file <path> --url <original-url> [flags]
  extract stats --store history.db`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file (overrides EXTRACT_* environment)")
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "SQLite file for extraction history and analytics")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log pipeline progress to stderr")
}

// runtime is what every command needs: configuration, a logger and the optional store
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

func setup() (*runtime, error) {
	cfg := config.LoadOrDefault()
	if flagConfig != "" {
		loaded, err := config.LoadFile(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flagStore != "" {
		cfg.Store.Path = flagStore
	}

	logCfg := logging.Config{Level: "error", OutputPaths: []string{"stderr"}}
	if flagVerbose {
		logCfg = logging.DevelopmentConfig()
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger}
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		rt.store = st
	}
	return rt, nil
}

func (rt *runtime) close() {
	if rt.store != nil {
		_ = rt.store.Close()
	}
	_ = rt.logger.Sync()
}
