// Package optimizer defines the capability interface every pluggable
// optimization strategy implements, plus the built-in strategies. The
// coordination core drives optimizers only through this interface; it never
// depends on a concrete algorithm.
package optimizer

import (
	"fmt"

	"github.com/tunelab/sweep/internal/searchspace"
	"github.com/tunelab/sweep/pkg/trialstore"
)

// Optimizer is the fixed capability set of a pluggable optimization
// strategy.
//
// Update delivers one batch of newly completed trials: parallel slices of
// configurations, their scalar optimization signals, and the full job
// records. An optimizer may return a subset of those jobs with modified
// auxiliary Info it wants persisted back to the store; persistence is
// best-effort and handled by the caller.
type Optimizer interface {
	// Suggest proposes the configuration for the next trial.
	Suggest() (trialstore.Config, error)

	// Update feeds completed results into the optimizer's model.
	Update(configs []trialstore.Config, results []float64, jobs []*trialstore.Job) ([]*trialstore.Job, error)

	// GetDefault returns the search space's default configuration.
	GetDefault() (trialstore.Config, error)

	// GetRandom returns a configuration sampled uniformly from the space.
	GetRandom() (trialstore.Config, error)
}

// New constructs the named strategy over the given search space.
// Known strategies: "random".
func New(name string, space *searchspace.SearchSpace) (Optimizer, error) {
	switch name {
	case "", "random":
		return NewRandomSearch(space), nil
	}
	return nil, fmt.Errorf("unknown optimizer %q", name)
}
