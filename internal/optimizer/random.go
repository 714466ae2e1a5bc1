package optimizer

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/tunelab/sweep/internal/searchspace"
	"github.com/tunelab/sweep/pkg/trialstore"
)

// RandomSearch samples every suggestion uniformly from the search space.
// It is the universal fallback strategy: it needs no model, so Update only
// keeps bookkeeping about what it has seen.
type RandomSearch struct {
	space *searchspace.SearchSpace

	mu       sync.Mutex
	rng      *rand.Rand
	observed int
}

// NewRandomSearch creates a random-search strategy over the given space.
func NewRandomSearch(space *searchspace.SearchSpace) *RandomSearch {
	return &RandomSearch{
		space: space,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Suggest returns a uniformly sampled configuration.
func (r *RandomSearch) Suggest() (trialstore.Config, error) {
	return r.GetRandom()
}

// Update records the batch. Random search builds no model, so it never
// returns auxiliary-info modifications.
func (r *RandomSearch) Update(configs []trialstore.Config, results []float64, jobs []*trialstore.Job) ([]*trialstore.Job, error) {
	if len(configs) != len(results) || len(configs) != len(jobs) {
		return nil, fmt.Errorf("update batch slices disagree: %d configs, %d results, %d jobs",
			len(configs), len(results), len(jobs))
	}
	r.mu.Lock()
	r.observed += len(jobs)
	r.mu.Unlock()
	return nil, nil
}

// GetDefault returns the space's default configuration.
func (r *RandomSearch) GetDefault() (trialstore.Config, error) {
	return r.space.DefaultConfig(), nil
}

// GetRandom returns a uniformly sampled configuration.
func (r *RandomSearch) GetRandom() (trialstore.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.space.Sample(r.rng), nil
}

// Observed reports how many completed trials have been delivered.
func (r *RandomSearch) Observed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observed
}
