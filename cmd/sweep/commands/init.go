package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tunelab/sweep/internal/scaffold"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new sweep project",
	Long: `Initialize a new sweep project with a starting configuration and example trial.

Creates:
  • sweep.yml - Experiment configuration with an example search space
  • trial.sh  - Example trial script showing the stdin/stdout contract

Use --force to reinitialize an existing project (WARNING: overwrites existing configuration).`,
	RunE: runInitCmd,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Force reinitialization (removes existing sweep.yml and trial.sh)")
	rootCmd.AddCommand(initCmd)
}

func runInitCmd(cmd *cobra.Command, args []string) error {
	// Check for existing files (unless --force)
	if !forceInit {
		if err := scaffold.CheckExisting(); err != nil {
			return err
		}
	}

	if err := scaffold.Initialize(forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess()

	return nil
}
