// Package claimer implements the claim protocol: polling the shared store
// for a queued job and atomically transferring ownership to exactly one
// worker via the store's compare-and-swap.
package claimer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tunelab/sweep/pkg/trialstore"
)

// ErrNoJob signals that the claim budget elapsed without any queued job
// becoming available. An empty queue is an expected outcome, not a fault;
// callers should check for this sentinel and exit cleanly.
var ErrNoJob = errors.New("no queued job available")

// IncompatiblePolicy controls what happens to a claimed job that fails
// compatibility validation.
type IncompatiblePolicy string

const (
	// OnIncompatibleRequeue rolls the job back to QUEUED so another worker
	// can claim it. This is the default: it never orphans a job.
	OnIncompatibleRequeue IncompatiblePolicy = "requeue"

	// OnIncompatibleLeave leaves the job in INITIALIZING for an operator to
	// inspect.
	OnIncompatibleLeave IncompatiblePolicy = "leave"
)

// IsValid reports whether p is a defined policy.
func (p IncompatiblePolicy) IsValid() bool {
	return p == OnIncompatibleRequeue || p == OnIncompatibleLeave
}

// Claimer races against other workers for queued jobs.
//
// Job selection is oldest-first (the store's queued index is ordered by
// creation time), but no ordering is guaranteed to callers: under
// contention a worker can lose the oldest job and win a newer one.
type Claimer struct {
	store          *trialstore.Client
	local          trialstore.ExperimentInfo
	deps           DependencyPolicy
	onIncompatible IncompatiblePolicy
}

// New creates a claimer validating claims against the given local
// experiment info.
func New(store *trialstore.Client, local trialstore.ExperimentInfo, deps DependencyPolicy, onIncompatible IncompatiblePolicy) (*Claimer, error) {
	if !deps.IsValid() {
		return nil, fmt.Errorf("invalid dependency policy %q", deps)
	}
	if !onIncompatible.IsValid() {
		return nil, fmt.Errorf("invalid incompatible-job policy %q", onIncompatible)
	}
	return &Claimer{
		store:          store,
		local:          local,
		deps:           deps,
		onIncompatible: onIncompatible,
	}, nil
}

// Claim polls the store for a queued job and claims it, retrying until
// maxWait elapses.
//
// The claim itself is a compare-and-swap conditioned on the status the job
// was read with: exactly one of any number of racing workers observes the
// QUEUED -> INITIALIZING transition. Losing the race is not an empty-queue
// condition - the claimer re-polls immediately without sleeping.
//
// Returns ErrNoJob when the budget elapses with nothing claimable, and
// ctx.Err() when cancelled (shutdown), so callers can tell "queue empty"
// from "shutting down". A successfully claimed job is validated against the
// local experiment; on mismatch Claim returns *IncompatibleJobError after
// applying the configured incompatible-job policy.
func (c *Claimer) Claim(ctx context.Context, maxWait, pollInterval time.Duration) (*trialstore.Job, error) {
	if maxWait <= 0 {
		return nil, fmt.Errorf("maxWait must be positive, got %v", maxWait)
	}
	if pollInterval <= 0 {
		return nil, fmt.Errorf("pollInterval must be positive, got %v", pollInterval)
	}

	deadline := time.Now().Add(maxWait)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		job, err := c.store.FindOneQueued(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to poll queue: %w", err)
		}

		if job == nil {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, ErrNoJob
			}
			log.Printf("[Claimer] Queue empty, waiting up to another %s", remaining.Round(time.Second))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(min(pollInterval, remaining)):
			}
			continue
		}

		// Conditioned on the status we read the job with; if another worker
		// moved it first the swap reports no modification and we re-poll
		// without sleeping.
		swapped, err := c.store.CompareAndSwapStatus(ctx, job.ID, job.Status, trialstore.StatusInitializing)
		if err != nil {
			return nil, fmt.Errorf("claim compare-and-swap failed: %w", err)
		}
		if !swapped {
			log.Printf("[Claimer] Lost claim race for job %s, retrying", job.ID)
			if time.Now().After(deadline) {
				return nil, ErrNoJob
			}
			continue
		}

		if err := CheckCompatibility(job.ID, c.local, job.Experiment, c.deps); err != nil {
			c.handleIncompatible(ctx, job)
			return nil, err
		}

		job.Status = trialstore.StatusInitializing
		log.Printf("[Claimer] Claimed job %s (experiment %q)", job.ID, job.Experiment.Name)
		return job, nil
	}
}

// handleIncompatible applies the configured policy to a claimed job that
// failed validation. Requeueing is itself a compare-and-swap, so a job
// another actor already moved is left alone.
func (c *Claimer) handleIncompatible(ctx context.Context, job *trialstore.Job) {
	switch c.onIncompatible {
	case OnIncompatibleRequeue:
		swapped, err := c.store.CompareAndSwapStatus(ctx, job.ID, trialstore.StatusInitializing, trialstore.StatusQueued)
		if err != nil {
			log.Printf("[Claimer] Failed to requeue incompatible job %s: %v", job.ID, err)
			return
		}
		if swapped {
			log.Printf("[Claimer] Requeued incompatible job %s", job.ID)
		}
	case OnIncompatibleLeave:
		log.Printf("[Claimer] Leaving incompatible job %s in %s for operator inspection",
			job.ID, trialstore.StatusInitializing)
	}
}
