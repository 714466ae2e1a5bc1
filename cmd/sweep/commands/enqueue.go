package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tunelab/sweep/internal/printer"
	"github.com/tunelab/sweep/pkg/trialstore"
)

var (
	enqueueCount   int
	enqueueCommand string
	enqueueConfig  string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue suggested trials for workers",
	Long: `Enqueue trials in the shared queue for 'sweep work' processes to claim.

Each queued trial carries a configuration suggested by the optimizer (after
folding in any newly completed results), the trial command, and this
process's experiment identity for compatibility checking on the worker side.

Use --config to enqueue one explicit configuration as a JSON object instead
of asking the optimizer.`,
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().IntVarP(&enqueueCount, "count", "n", 1, "Number of trials to enqueue")
	enqueueCmd.Flags().StringVar(&enqueueCommand, "command", "", "Override the configured trial command")
	enqueueCmd.Flags().StringVar(&enqueueConfig, "config", "", "Explicit configuration as a JSON object")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	if enqueueCount < 1 {
		return printer.Error(
			"Invalid count",
			fmt.Sprintf("--count must be at least 1, got %d.", enqueueCount),
			nil,
		)
	}

	ctx := context.Background()

	e, err := buildSession(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if enqueueConfig != "" {
		var config trialstore.Config
		if err := json.Unmarshal([]byte(enqueueConfig), &config); err != nil {
			return printer.Error(
				"Invalid --config",
				fmt.Sprintf("Could not parse as a JSON object: %v", err),
				[]string{`Example: --config '{"learning_rate": 0.01}'`},
			)
		}
		id, err := e.session.EnqueueConfig(ctx, config, enqueueCommand)
		if err != nil {
			return err
		}
		printer.Success("Enqueued trial %s\n", id)
		return nil
	}

	for i := 0; i < enqueueCount; i++ {
		id, err := e.session.EnqueueSuggestion(ctx, enqueueCommand)
		if err != nil {
			return err
		}
		printer.Success("Enqueued trial %s\n", id)
	}

	return nil
}
