package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tunelab/sweep/internal/assistant"
	"github.com/tunelab/sweep/internal/printer"
)

var (
	bestJSON bool
)

var bestCmd = &cobra.Command{
	Use:   "best",
	Short: "Show the best completed trial",
	Long: `Show the best configuration found so far for this experiment's search
space, per policy.direction in sweep.yml (minimize by default).

Use --json for machine-readable output.`,
	RunE: runBest,
}

func init() {
	bestCmd.Flags().BoolVar(&bestJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(bestCmd)
}

func runBest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildSession(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	config, score, err := e.session.CurrentBest(ctx)
	if errors.Is(err, assistant.ErrNoCompletedTrials) {
		return printer.Error(
			"No completed trials",
			"Nothing has finished for this search space yet.",
			[]string{"Run trials with 'sweep run', or 'sweep enqueue' + 'sweep work'"},
		)
	}
	if err != nil {
		return err
	}

	if bestJSON {
		data, err := json.MarshalIndent(map[string]any{
			"score":  score,
			"config": config,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	printer.Success("Best score (%s): %g\n", e.cfg.Policy.Direction, score)
	printer.Println()
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	printer.Println(string(data))

	return nil
}
