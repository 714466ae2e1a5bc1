package searchspace

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunelab/sweep/pkg/trialstore"
)

func setupRegistry(t *testing.T) *Registry {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	store, err := trialstore.NewClient(&redis.Options{Addr: mr.Addr()}, "test-sweep")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewRegistry(store)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts a new definition and returns its identity", func(t *testing.T) {
		registry := setupRegistry(t)

		space, err := registry.Resolve(ctx, testDefinition())
		require.NoError(t, err)
		assert.NotEmpty(t, space.ID)
		assert.Len(t, space.Definition, 4)
	})

	t.Run("is idempotent for structurally equal definitions", func(t *testing.T) {
		registry := setupRegistry(t)

		first, err := registry.Resolve(ctx, testDefinition())
		require.NoError(t, err)

		second, err := registry.Resolve(ctx, testDefinition())
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("distinct definitions get distinct identities", func(t *testing.T) {
		registry := setupRegistry(t)

		first, err := registry.Resolve(ctx, testDefinition())
		require.NoError(t, err)

		other := testDefinition()
		other["momentum"] = Parameter{Type: TypeUniformFloat, Min: f(0), Max: f(1)}
		second, err := registry.Resolve(ctx, other)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("concurrent resolvers converge on one identity", func(t *testing.T) {
		registry := setupRegistry(t)

		const resolvers = 8
		ids := make(chan string, resolvers)
		var wg sync.WaitGroup
		for i := 0; i < resolvers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				space, err := registry.Resolve(ctx, testDefinition())
				require.NoError(t, err)
				ids <- space.ID
			}()
		}
		wg.Wait()
		close(ids)

		unique := map[string]bool{}
		for id := range ids {
			unique[id] = true
		}
		assert.Len(t, unique, 1)
	})

	t.Run("rejects invalid definitions", func(t *testing.T) {
		registry := setupRegistry(t)

		_, err := registry.Resolve(ctx, Definition{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid search space")
	})
}

func TestRegistryGet(t *testing.T) {
	ctx := context.Background()
	registry := setupRegistry(t)

	space, err := registry.Resolve(ctx, testDefinition())
	require.NoError(t, err)

	got, err := registry.Get(ctx, space.ID)
	require.NoError(t, err)
	assert.Equal(t, space.ID, got.ID)

	fpA, err := space.Definition.Fingerprint()
	require.NoError(t, err)
	fpB, err := got.Definition.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)
}
