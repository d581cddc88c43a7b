// Command trypipe checks, inspects and runs error-handling pipelines.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dcshock/trypipe/config"
	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/httpfuncs"
)

var (
	// Global flags
	verbose    bool
	configPath string

	logger   *zap.Logger
	settings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "trypipe",
	Short: "trypipe - error-handling pipelines",
	Long: `trypipe checks, inspects and runs pipelines written in the try/catch
pipeline language (.pipe) or its YAML form (.yaml, .yml).

Settings are read from trypipe.toml in the working directory, or the file
named by --config. A missing settings file is not an error.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		settings, err = config.LoadSettings(configPath)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "trypipe.toml", "settings file")

	rootCmd.AddCommand(checkCmd, parseCmd, runCmd, runsCmd)

	// failures from the bundled http functions classify wherever they surface
	httpfuncs.RegisterTypes(failure.Default)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
