package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/tunelab/sweep/internal/assistant"
	"github.com/tunelab/sweep/internal/claimer"
	"github.com/tunelab/sweep/internal/config"
	"github.com/tunelab/sweep/internal/executor"
	"github.com/tunelab/sweep/internal/optimizer"
	"github.com/tunelab/sweep/internal/printer"
	"github.com/tunelab/sweep/internal/searchspace"
	"github.com/tunelab/sweep/pkg/trialstore"
)

// env bundles everything a command needs once the project configuration is
// loaded and the trial store is reachable.
type env struct {
	cfg     *config.Config
	store   *trialstore.Client
	session *assistant.Session
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
}

// openStore loads sweep.yml and connects to the trial store. Used by
// commands that inspect jobs without needing a search space.
func openStore(ctx context.Context) (*config.Config, *trialstore.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, printer.Error(
			"Invalid configuration",
			err.Error(),
			[]string{"Run 'sweep init' to generate a starting sweep.yml"},
		)
	}

	opts, err := redisOptions(cfg.Redis.URL)
	if err != nil {
		return nil, nil, printer.ErrorWithContext(
			"Invalid Redis URL",
			err.Error(),
			map[string]string{"URL": cfg.Redis.URL},
			nil,
		)
	}

	store, err := trialstore.NewClient(opts, cfg.Namespace)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, nil, printer.ErrorWithContext(
			"Redis unreachable",
			"Could not connect to the trial store.",
			map[string]string{"URL": cfg.Redis.URL},
			[]string{"Check that redis-server is running and redis.url in sweep.yml is correct"},
		)
	}

	return cfg, store, nil
}

// buildSession is the full wiring path: config, store, search space
// resolution, optimizer, claimer and the local trial executor.
func buildSession(ctx context.Context) (*env, error) {
	cfg, store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	if len(cfg.SearchSpace) == 0 {
		store.Close()
		return nil, printer.Error(
			"No search space declared",
			"This command needs a search_space section in sweep.yml.",
			nil,
		)
	}

	space, err := searchspace.NewRegistry(store).Resolve(ctx, cfg.SearchSpace)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to resolve search space: %w", err)
	}

	opt, err := optimizer.New(cfg.Optimizer, space)
	if err != nil {
		store.Close()
		return nil, err
	}

	info, err := cfg.ExperimentInfo()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build experiment identity: %w", err)
	}

	clm, err := claimer.New(store, info,
		claimer.DependencyPolicy(cfg.Policy.DependencyCheck),
		claimer.IncompatiblePolicy(cfg.Policy.OnIncompatible))
	if err != nil {
		store.Close()
		return nil, err
	}

	session, err := assistant.NewSession(assistant.Options{
		Store:        store,
		Space:        space,
		Optimizer:    opt,
		Claimer:      clm,
		Runner:       &executor.Local{Timeout: cfg.Worker.TrialTimeout.Std()},
		Experiment:   info,
		Command:      cfg.Experiment.Command,
		Direction:    assistant.Direction(cfg.Policy.Direction),
		StoreTimeout: cfg.Worker.StoreTimeout.Std(),
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &env{cfg: cfg, store: store, session: session}, nil
}

// redisOptions accepts either a full redis:// URL or a bare host:port.
func redisOptions(url string) (*redis.Options, error) {
	if strings.Contains(url, "://") {
		return redis.ParseURL(url)
	}
	return &redis.Options{Addr: url}, nil
}

func init() {
	// Commands present their own errors through printer.
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}
