package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tunelab/sweep/internal/assistant"
	"github.com/tunelab/sweep/internal/claimer"
	"github.com/tunelab/sweep/internal/printer"
)

var (
	workMaxWait      time.Duration
	workPollInterval time.Duration
	workOnce         bool
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Claim and execute queued trials",
	Long: `Claim queued trials from the shared store and execute them until the
queue stays empty for the waiting budget.

Claiming uses an atomic check-and-set, so any number of 'sweep work'
processes can share one queue and each trial still runs at most once.
Trials enqueued by a process with different source files or dependency
versions are put back in the queue (or left for inspection, per
policy.on_incompatible in sweep.yml); a worker that keeps drawing only
trials it already skipped exits cleanly.

An exhausted waiting budget is a clean exit, not a failure. Press Ctrl-C
to stop earlier; the trial in flight is marked FAILED by its claimant.`,
	RunE: runWork,
}

func init() {
	workCmd.Flags().DurationVar(&workMaxWait, "max-wait", 0, "Budget for waiting on an empty queue (default from sweep.yml)")
	workCmd.Flags().DurationVar(&workPollInterval, "poll-interval", 0, "Delay between queue polls (default from sweep.yml)")
	workCmd.Flags().BoolVar(&workOnce, "once", false, "Execute a single trial and exit")
	rootCmd.AddCommand(workCmd)
}

func runWork(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := buildSession(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	maxWait := workMaxWait
	if maxWait <= 0 {
		maxWait = e.cfg.Worker.MaxWait.Std()
	}
	pollInterval := workPollInterval
	if pollInterval <= 0 {
		pollInterval = e.cfg.Worker.PollInterval.Std()
	}

	printer.Info("Waiting for trials (experiment %q, namespace %q)\n", e.cfg.Experiment.Name, e.cfg.Namespace)

	return workLoop(ctx, e.session, maxWait, pollInterval, workOnce)
}

// workLoop claims and executes trials until the queue stays empty for
// maxWait, ctx is cancelled, or every remaining queued trial is one this
// worker already skipped as incompatible.
func workLoop(ctx context.Context, session *assistant.Session, maxWait, pollInterval time.Duration, once bool) error {
	executed := 0
	// Requeued incompatible jobs go to the back of the queue, so drawing
	// one we already skipped means no compatible work is left for us.
	skipped := make(map[string]bool)

	for {
		job, err := session.RunFromQueue(ctx, maxWait, pollInterval)
		switch {
		case errors.Is(err, claimer.ErrNoJob):
			printer.Info("Queue stayed empty for %s, done after %d trial(s)\n", maxWait, executed)
			return nil
		case errors.Is(err, context.Canceled):
			printer.Warning("Interrupted, stopping after %d trial(s)\n", executed)
			return nil
		case err != nil:
			var incompat *claimer.IncompatibleJobError
			if errors.As(err, &incompat) {
				if skipped[incompat.JobID] {
					printer.Info("Only incompatible trials remain, done after %d trial(s)\n", executed)
					return nil
				}
				skipped[incompat.JobID] = true
				printer.Warning("Skipped incompatible trial %s: %v\n", incompat.JobID, err)
				continue
			}
			if job != nil {
				printer.Warning("Trial %s failed: %v\n", job.ID, err)
				executed++
				if once {
					return nil
				}
				continue
			}
			return err
		}

		executed++
		printer.Success("Trial %s completed: %v\n", job.ID, job.Result)

		if once {
			return nil
		}
	}
}
