package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToScalar(t *testing.T) {
	t.Run("numbers pass through", func(t *testing.T) {
		got, err := ToScalar(5.0)
		require.NoError(t, err)
		assert.Equal(t, 5.0, got)

		got, err = ToScalar(3)
		require.NoError(t, err)
		assert.Equal(t, 3.0, got)
	})

	t.Run("extracts the optimization target from objects", func(t *testing.T) {
		got, err := ToScalar(map[string]any{"optimization_target": 3.2, "accuracy": 0.9})
		require.NoError(t, err)
		assert.Equal(t, 3.2, got)
	})

	t.Run("object without target", func(t *testing.T) {
		_, err := ToScalar(map[string]any{"foo": 1})
		assert.ErrorIs(t, err, ErrMissingObjective)
	})

	t.Run("non-numeric target", func(t *testing.T) {
		_, err := ToScalar(map[string]any{"optimization_target": "low"})
		assert.ErrorIs(t, err, ErrNonNumericObjective)
	})

	t.Run("unsupported shapes", func(t *testing.T) {
		_, err := ToScalar("bad")
		assert.ErrorIs(t, err, ErrUnsupportedResultShape)

		_, err = ToScalar([]any{1.0})
		assert.ErrorIs(t, err, ErrUnsupportedResultShape)

		_, err = ToScalar(nil)
		assert.ErrorIs(t, err, ErrUnsupportedResultShape)
	})
}
