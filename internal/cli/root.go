package cli

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to monitor config YAML (default ~/.riskwatch/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

var rootCmd = &cobra.Command{
	Use:   "riskwatch",
	Short: "Command risk monitor for agent runtimes",
	Long: "Classifies commands before execution, correlates them per session to\n" +
		"detect multi-step attack patterns, blocks the dangerous ones, and keeps\n" +
		"a queryable, hash-chained risk journal.",
	SilenceUsage: true,
}

// newLogger returns the process logger honoring --verbose.
func newLogger() *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		Prefix:          "riskwatch",
		ReportTimestamp: true,
	})
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
