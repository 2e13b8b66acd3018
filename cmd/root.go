package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidschrooten/searchsync/config"
	"github.com/davidschrooten/searchsync/internal/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "searchsync",
	Short: "Mirror MongoDB collections into a search index",
	Long: `searchsync keeps MongoDB collections mirrored into a search index.

It compiles each collection's declared schema into an index mapping, bulk
synchronizes existing records in ordered batches and pushes single record
changes from the collection's change stream as they happen.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.yaml)")
}

// loadRuntime loads the configuration and builds the logger it selects
func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}
