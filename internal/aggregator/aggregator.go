// Package aggregator implements the incremental result-aggregation loop: it
// discovers newly completed jobs for a search space, deduplicates against
// already-delivered job identities, scalarizes each result, and feeds the
// batch to the optimizer exactly once per job.
package aggregator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tunelab/sweep/internal/optimizer"
	"github.com/tunelab/sweep/pkg/trialstore"
)

// Report summarizes one Update call.
type Report struct {
	// Delivered is the number of newly completed jobs handed to the
	// optimizer.
	Delivered int

	// Quarantined is the number of jobs whose result failed scalar
	// conversion. Quarantined jobs are remembered and never reprocessed.
	Quarantined int
}

// Aggregator tracks what one session has already delivered to its
// optimizer for one search space.
//
// The watermark query is intentionally inclusive-leaning: the next
// watermark is captured before the batch is read, so a job completing near
// the boundary is seen by at least one call and possibly two. The known-jobs
// set turns that at-least-once query into exactly-once delivery.
//
// State is private to one session; the mutex serializes Update so a session
// shared across goroutines stays safe.
type Aggregator struct {
	store        *trialstore.Client
	spaceID      string
	opt          optimizer.Optimizer
	storeTimeout time.Duration

	mu        sync.Mutex
	watermark time.Time
	known     map[string]struct{}
}

// New creates an aggregator for one (session, search space) pair. The
// initial watermark is the zero time, so the first Update considers all
// history. storeTimeout bounds each store query.
func New(store *trialstore.Client, spaceID string, opt optimizer.Optimizer, storeTimeout time.Duration) *Aggregator {
	return &Aggregator{
		store:        store,
		spaceID:      spaceID,
		opt:          opt,
		storeTimeout: storeTimeout,
		known:        make(map[string]struct{}),
	}
}

// Update refreshes the optimizer with every completed job not yet
// delivered.
//
// A job whose result fails scalar conversion is quarantined: logged,
// counted in the report, remembered so it is never reprocessed, and
// excluded from the optimizer batch. An optimizer failure leaves the
// watermark and known set untouched so the same batch is retried on the
// next call.
func (a *Aggregator) Update(ctx context.Context) (Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Captured before the query: anything completing from here on is
	// guaranteed to be at or after the next watermark.
	next := time.Now()

	queryCtx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	jobs, err := a.store.FindCompletedSince(queryCtx, a.spaceID, a.watermark)
	if err != nil {
		return Report{}, fmt.Errorf("failed to query completed jobs: %w", err)
	}

	var (
		report  Report
		configs []trialstore.Config
		scalars []float64
		batch   []*trialstore.Job
	)
	for _, job := range jobs {
		if _, seen := a.known[job.ID]; seen {
			continue
		}

		scalar, err := ToScalar(job.Result)
		if err != nil {
			log.Printf("[Aggregator] Quarantining job %s: %v", job.ID, err)
			a.known[job.ID] = struct{}{}
			report.Quarantined++
			continue
		}

		configs = append(configs, job.Config)
		scalars = append(scalars, scalar)
		batch = append(batch, job)
	}

	if len(batch) > 0 {
		modified, err := a.opt.Update(configs, scalars, batch)
		if err != nil {
			return report, fmt.Errorf("optimizer update failed: %w", err)
		}
		for _, job := range batch {
			a.known[job.ID] = struct{}{}
		}
		report.Delivered = len(batch)

		// Best-effort side channel: the optimizer may attach auxiliary info
		// it wants persisted. Failures are logged, never fatal.
		a.persistInfo(ctx, modified)
	}

	a.watermark = next
	return report, nil
}

// Known reports whether the given job has already been delivered or
// quarantined by this aggregator.
func (a *Aggregator) Known(jobID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.known[jobID]
	return ok
}

func (a *Aggregator) persistInfo(ctx context.Context, modified []*trialstore.Job) {
	for _, job := range modified {
		writeCtx, cancel := context.WithTimeout(ctx, a.storeTimeout)
		err := a.store.UpdateJobInfo(writeCtx, job.ID, job.Info)
		cancel()
		if err != nil {
			log.Printf("[Aggregator] Failed to persist optimizer info for job %s: %v", job.ID, err)
		}
	}
}
