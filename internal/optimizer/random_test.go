package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunelab/sweep/internal/searchspace"
	"github.com/tunelab/sweep/pkg/trialstore"
)

func f(v float64) *float64 { return &v }

func testSpace() *searchspace.SearchSpace {
	return &searchspace.SearchSpace{
		ID: "space-1",
		Definition: searchspace.Definition{
			"learning_rate": {Type: searchspace.TypeUniformFloat, Min: f(0.001), Max: f(0.1)},
			"layers":        {Type: searchspace.TypeUniformInt, Min: f(1), Max: f(4), Default: 2},
		},
	}
}

func TestNew(t *testing.T) {
	t.Run("builds random search by name", func(t *testing.T) {
		opt, err := New("random", testSpace())
		require.NoError(t, err)
		assert.IsType(t, &RandomSearch{}, opt)
	})

	t.Run("empty name falls back to random search", func(t *testing.T) {
		opt, err := New("", testSpace())
		require.NoError(t, err)
		assert.IsType(t, &RandomSearch{}, opt)
	})

	t.Run("rejects unknown strategies", func(t *testing.T) {
		_, err := New("bayesian-banana", testSpace())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown optimizer")
	})
}

func TestRandomSearchSuggest(t *testing.T) {
	opt := NewRandomSearch(testSpace())

	for i := 0; i < 50; i++ {
		config, err := opt.Suggest()
		require.NoError(t, err)

		lr := config["learning_rate"].(float64)
		assert.GreaterOrEqual(t, lr, 0.001)
		assert.LessOrEqual(t, lr, 0.1)

		layers := config["layers"].(int)
		assert.GreaterOrEqual(t, layers, 1)
		assert.LessOrEqual(t, layers, 4)
	}
}

func TestRandomSearchGetDefault(t *testing.T) {
	opt := NewRandomSearch(testSpace())

	config, err := opt.GetDefault()
	require.NoError(t, err)
	assert.Equal(t, 2, config["layers"])
}

func TestRandomSearchUpdate(t *testing.T) {
	opt := NewRandomSearch(testSpace())

	t.Run("counts observations and returns no modifications", func(t *testing.T) {
		configs := []trialstore.Config{{"learning_rate": 0.01, "layers": 2}}
		jobs := []*trialstore.Job{{ID: "j1"}}

		mods, err := opt.Update(configs, []float64{7.5}, jobs)
		require.NoError(t, err)
		assert.Nil(t, mods)
		assert.Equal(t, 1, opt.Observed())
	})

	t.Run("rejects mismatched batch slices", func(t *testing.T) {
		_, err := opt.Update([]trialstore.Config{{}}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "batch slices disagree")
	})
}
