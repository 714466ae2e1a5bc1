// Package assistant composes the trial store, search-space registry,
// optimizer, claimer and execution runtime into the workflows callers use:
// suggest a configuration, run or enqueue a trial, drain the queue, and
// report the current best.
//
// All state lives on an explicit Session value. One Session serves one
// (experiment, search space) pair; a process may hold several concurrently.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tunelab/sweep/internal/aggregator"
	"github.com/tunelab/sweep/internal/claimer"
	"github.com/tunelab/sweep/internal/optimizer"
	"github.com/tunelab/sweep/internal/searchspace"
	"github.com/tunelab/sweep/pkg/trialstore"
)

// ErrNoCompletedTrials signals that CurrentBest was asked before any trial
// of the search space completed.
var ErrNoCompletedTrials = errors.New("no completed trials for this search space")

// ErrNoSearchSpace signals that a session was requested without a resolved
// search space.
var ErrNoSearchSpace = errors.New("no search space resolved for this session")

// Direction says whether lower or higher optimization targets are better.
type Direction string

const (
	DirectionMinimize Direction = "minimize"
	DirectionMaximize Direction = "maximize"
)

// IsValid reports whether d is a defined direction.
func (d Direction) IsValid() bool {
	return d == DirectionMinimize || d == DirectionMaximize
}

// Runner executes one trial and returns its raw result document.
type Runner interface {
	Run(ctx context.Context, job *trialstore.Job) (any, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, job *trialstore.Job) (any, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, job *trialstore.Job) (any, error) {
	return f(ctx, job)
}

// Options configures a Session. Store, Space, Optimizer and Runner are
// required; the rest default sensibly.
type Options struct {
	Store      *trialstore.Client
	Space      *searchspace.SearchSpace
	Optimizer  optimizer.Optimizer
	Claimer    *claimer.Claimer
	Runner     Runner
	Experiment trialstore.ExperimentInfo

	// Command is the default trial command when a workflow is invoked
	// without one.
	Command string

	// Direction defaults to DirectionMinimize.
	Direction Direction

	// StoreTimeout bounds each store query; defaults to 10s.
	StoreTimeout time.Duration

	// HeartbeatInterval is how often a running trial's heartbeat is
	// refreshed; defaults to 15s.
	HeartbeatInterval time.Duration
}

// Session is one coordinator instance bound to one search space.
type Session struct {
	store             *trialstore.Client
	space             *searchspace.SearchSpace
	opt               optimizer.Optimizer
	agg               *aggregator.Aggregator
	claimer           *claimer.Claimer
	runner            Runner
	experiment        trialstore.ExperimentInfo
	command           string
	direction         Direction
	storeTimeout      time.Duration
	heartbeatInterval time.Duration
}

// NewSession validates the options and builds a session.
func NewSession(opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("session requires a store client")
	}
	if opts.Space == nil {
		return nil, ErrNoSearchSpace
	}
	if opts.Optimizer == nil {
		return nil, fmt.Errorf("session requires an optimizer")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("session requires a trial runner")
	}
	if opts.Direction == "" {
		opts.Direction = DirectionMinimize
	}
	if !opts.Direction.IsValid() {
		return nil, fmt.Errorf("invalid direction %q", opts.Direction)
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}

	return &Session{
		store:             opts.Store,
		space:             opts.Space,
		opt:               opts.Optimizer,
		agg:               aggregator.New(opts.Store, opts.Space.ID, opts.Optimizer, opts.StoreTimeout),
		claimer:           opts.Claimer,
		runner:            opts.Runner,
		experiment:        opts.Experiment,
		command:           opts.Command,
		direction:         opts.Direction,
		storeTimeout:      opts.StoreTimeout,
		heartbeatInterval: opts.HeartbeatInterval,
	}, nil
}

// Space returns the session's resolved search space.
func (s *Session) Space() *searchspace.SearchSpace {
	return s.space
}

// Update feeds all newly completed, not-yet-delivered results into the
// optimizer. It runs implicitly before every suggestion; callers only need
// it directly when they want a refresh without a suggestion.
func (s *Session) Update(ctx context.Context) (aggregator.Report, error) {
	return s.agg.Update(ctx)
}

// Suggest refreshes the optimizer and returns its proposed configuration,
// completed with search-space defaults for any parameter it omitted.
func (s *Session) Suggest(ctx context.Context) (trialstore.Config, error) {
	report, err := s.agg.Update(ctx)
	if err != nil {
		return nil, err
	}
	if report.Delivered > 0 {
		log.Printf("[Assistant] Delivered %d new results to the optimizer", report.Delivered)
	}

	suggested, err := s.opt.Suggest()
	if err != nil {
		return nil, fmt.Errorf("optimizer suggestion failed: %w", err)
	}
	return s.fill(suggested), nil
}

// RunSuggested executes one trial with the optimizer's next suggestion.
func (s *Session) RunSuggested(ctx context.Context, command string) (*trialstore.Job, error) {
	config, err := s.Suggest(ctx)
	if err != nil {
		return nil, err
	}
	return s.RunConfig(ctx, config, command)
}

// RunRandom executes one trial with a uniformly sampled configuration.
func (s *Session) RunRandom(ctx context.Context, command string) (*trialstore.Job, error) {
	config, err := s.opt.GetRandom()
	if err != nil {
		return nil, err
	}
	return s.RunConfig(ctx, s.fill(config), command)
}

// RunDefault executes one trial with the search space's default
// configuration.
func (s *Session) RunDefault(ctx context.Context, command string) (*trialstore.Job, error) {
	config, err := s.opt.GetDefault()
	if err != nil {
		return nil, err
	}
	return s.RunConfig(ctx, s.fill(config), command)
}

// RunConfig inserts a locally-owned trial for the given configuration and
// executes it immediately. The returned job reflects the terminal state.
func (s *Session) RunConfig(ctx context.Context, config trialstore.Config, command string) (*trialstore.Job, error) {
	if config == nil {
		return nil, fmt.Errorf("nil is not an acceptable config")
	}

	job := &trialstore.Job{
		Status:     trialstore.StatusRunning,
		Command:    s.commandOr(command),
		Config:     config,
		Experiment: s.experiment,
		SpaceID:    s.space.ID,
	}
	if _, err := s.store.InsertJob(ctx, job); err != nil {
		return nil, err
	}

	return s.executeRunning(ctx, job)
}

// EnqueueSuggestion inserts a QUEUED trial carrying the optimizer's next
// suggestion, for some worker to claim later. Returns the job id.
func (s *Session) EnqueueSuggestion(ctx context.Context, command string) (string, error) {
	config, err := s.Suggest(ctx)
	if err != nil {
		return "", err
	}
	return s.EnqueueConfig(ctx, config, command)
}

// EnqueueConfig inserts a QUEUED trial with an explicit configuration.
// Omitted parameters are filled from the space's defaults.
func (s *Session) EnqueueConfig(ctx context.Context, config trialstore.Config, command string) (string, error) {
	if config == nil {
		return "", fmt.Errorf("nil is not an acceptable config")
	}
	config = s.fill(config)

	job := &trialstore.Job{
		Status:     trialstore.StatusQueued,
		Command:    s.commandOr(command),
		Config:     config,
		Experiment: s.experiment,
		SpaceID:    s.space.ID,
	}
	id, err := s.store.InsertJob(ctx, job)
	if err != nil {
		return "", err
	}
	log.Printf("[Assistant] Enqueued job %s", id)
	return id, nil
}

// RunFromQueue claims one queued job and executes it.
//
// A drained queue surfaces as claimer.ErrNoJob - a normal outcome, not a
// fault. Cancellation surfaces as ctx.Err().
func (s *Session) RunFromQueue(ctx context.Context, maxWait, pollInterval time.Duration) (*trialstore.Job, error) {
	if s.claimer == nil {
		return nil, fmt.Errorf("session has no claimer; queue workflows are unavailable")
	}

	job, err := s.claimer.Claim(ctx, maxWait, pollInterval)
	if err != nil {
		return nil, err
	}

	swapped, err := s.store.CompareAndSwapStatus(ctx, job.ID, trialstore.StatusInitializing, trialstore.StatusRunning)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, fmt.Errorf("claimed job %s was moved out of %s by another actor",
			job.ID, trialstore.StatusInitializing)
	}
	job.Status = trialstore.StatusRunning

	return s.executeRunning(ctx, job)
}

// CurrentBest scans the space's completed trials and returns the best
// configuration and its scalar score per the session's direction.
func (s *Session) CurrentBest(ctx context.Context) (trialstore.Config, float64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	jobs, err := s.store.FindCompletedSince(queryCtx, s.space.ID, time.Time{})
	if err != nil {
		return nil, 0, err
	}

	var (
		best      *trialstore.Job
		bestScore float64
	)
	for _, job := range jobs {
		score, err := aggregator.ToScalar(job.Result)
		if err != nil {
			continue
		}
		if best == nil || s.better(score, bestScore) {
			best = job
			bestScore = score
		}
	}
	if best == nil {
		return nil, 0, ErrNoCompletedTrials
	}
	return best.Config, bestScore, nil
}

// executeRunning drives a RUNNING job through the runner, refreshing its
// heartbeat until the trial finishes, then records the terminal state.
func (s *Session) executeRunning(ctx context.Context, job *trialstore.Job) (*trialstore.Job, error) {
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pumpHeartbeat(heartbeatCtx, job.ID)
	}()

	result, runErr := s.runner.Run(ctx, job)
	stopHeartbeat()
	wg.Wait()

	// The terminal-state write must land even when the trial died because
	// ctx was cancelled (shutdown), or the job would sit in RUNNING with
	// no owner forever. Detach from the caller's cancellation and bound
	// the write by the store timeout instead.
	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancelWrite()

	if runErr != nil {
		if _, err := s.store.FailJob(writeCtx, job.ID, time.Now()); err != nil {
			log.Printf("[Assistant] Failed to mark job %s FAILED: %v", job.ID, err)
		}
		job.Status = trialstore.StatusFailed
		return job, fmt.Errorf("trial failed: %w", runErr)
	}

	done, err := s.store.CompleteJob(writeCtx, job.ID, result, time.Now())
	if err != nil {
		return job, err
	}
	if !done {
		return job, fmt.Errorf("job %s was no longer RUNNING at completion", job.ID)
	}
	job.Status = trialstore.StatusCompleted
	job.Result = result
	log.Printf("[Assistant] Job %s completed", job.ID)
	return job, nil
}

func (s *Session) pumpHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.Heartbeat(ctx, jobID, time.Now()); err != nil && ctx.Err() == nil {
				log.Printf("[Assistant] Heartbeat for job %s failed: %v", jobID, err)
			}
		}
	}
}

// fill completes a configuration with defaults for parameters the
// optimizer left out, so every job records a full assignment.
func (s *Session) fill(config trialstore.Config) trialstore.Config {
	full := s.space.DefaultConfig()
	for name, value := range config {
		full[name] = value
	}
	return full
}

func (s *Session) commandOr(command string) string {
	if command != "" {
		return command
	}
	return s.command
}

func (s *Session) better(candidate, incumbent float64) bool {
	if s.direction == DirectionMaximize {
		return candidate > incumbent
	}
	return candidate < incumbent
}
