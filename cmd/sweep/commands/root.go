package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Sweep - Distributed hyperparameter search coordinator",
	Long: `Sweep coordinates hyperparameter-search trials across any number of
worker processes sharing a Redis trial store.

A producer enqueues suggested configurations, workers claim queued trials
with an atomic check-and-set so each trial runs at most once, and completed
results flow back to the optimizer incrementally with exactly-once delivery.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "sweep.yml", "Path to the sweep configuration file")
}
