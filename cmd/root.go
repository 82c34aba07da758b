package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"provision-host/internal/logger"
)

// debug toggles verbose logging; set via the global --debug flag.
var debug bool

// registryPath points at a custom tool catalog YAML. Empty means the catalog
// embedded in the binary.
var registryPath string

// rootCmd is the base command for the provision-host CLI.
var rootCmd = &cobra.Command{
	Use:   "provision-host",
	Short: "Host setup automation: detect the system, resolve its package manager, install a curated tool catalog",

	// Initialize logging before any subcommand runs.
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(debug)
	},
}

// Execute registers global flags and subcommands and runs the CLI. Fatal
// errors exit with a non-zero status after being logged by the subcommand.
func Execute() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "", "Path to a custom tool catalog (default: embedded catalog)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
