package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tunelab/sweep/internal/printer"
	"github.com/tunelab/sweep/pkg/trialstore"
)

var (
	runRandom  bool
	runDefault bool
	runTrials  int
	runCommand string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run trials in this process",
	Long: `Run one or more trials in this process, suggested by the optimizer.

Each trial executes the configured command with the chosen configuration on
stdin and records the result in the trial store. Before each suggestion the
optimizer is updated with any results completed elsewhere in the meantime.

Use --random to sample configurations uniformly instead of asking the
optimizer, or --default to run the search space's declared defaults once.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runRandom, "random", false, "Sample configurations uniformly instead of using the optimizer")
	runCmd.Flags().BoolVar(&runDefault, "default", false, "Run the search space's default configuration")
	runCmd.Flags().IntVarP(&runTrials, "trials", "n", 1, "Number of trials to run")
	runCmd.Flags().StringVar(&runCommand, "command", "", "Override the configured trial command")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if runRandom && runDefault {
		return printer.Error(
			"Conflicting flags",
			"--random and --default cannot be combined.",
			nil,
		)
	}
	if runTrials < 1 {
		return printer.Error(
			"Invalid trial count",
			fmt.Sprintf("--trials must be at least 1, got %d.", runTrials),
			nil,
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := buildSession(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	for i := 0; i < runTrials; i++ {
		printer.Step("Trial %d of %d\n", i+1, runTrials)

		var job *trialstore.Job
		switch {
		case runDefault:
			job, err = e.session.RunDefault(ctx, runCommand)
		case runRandom:
			job, err = e.session.RunRandom(ctx, runCommand)
		default:
			job, err = e.session.RunSuggested(ctx, runCommand)
		}
		if err != nil {
			if ctx.Err() != nil {
				printer.Warning("Interrupted, stopping after %d trial(s)\n", i)
				return nil
			}
			return printer.ErrorWithContext(
				"Trial failed",
				err.Error(),
				trialContext(job),
				nil,
			)
		}

		printer.Success("Trial %s completed: %v\n", job.ID, job.Result)
	}

	return nil
}

func trialContext(job *trialstore.Job) map[string]string {
	if job == nil {
		return nil
	}
	return map[string]string{"Job": job.ID}
}
