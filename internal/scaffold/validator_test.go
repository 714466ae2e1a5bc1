package scaffold

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckExisting(t *testing.T) {
	t.Run("clean directory passes", func(t *testing.T) {
		chtmp(t)
		assert.NoError(t, CheckExisting())
	})

	t.Run("existing sweep.yml fails", func(t *testing.T) {
		chtmp(t)
		require.NoError(t, os.WriteFile("sweep.yml", []byte("version: \"1.0\"\n"), 0644))

		err := CheckExisting()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sweep.yml")
		assert.Contains(t, err.Error(), "--force")
	})

	t.Run("both files listed", func(t *testing.T) {
		chtmp(t)
		require.NoError(t, os.WriteFile("sweep.yml", []byte("x"), 0644))
		require.NoError(t, os.WriteFile("trial.sh", []byte("x"), 0755))

		err := CheckExisting()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "trial.sh")
	})
}
