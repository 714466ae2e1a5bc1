package searchspace

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func testDefinition() Definition {
	return Definition{
		"learning_rate": {Type: TypeUniformFloat, Min: f(0.0001), Max: f(0.1), Log: true},
		"batch_size":    {Type: TypeUniformInt, Min: f(16), Max: f(256)},
		"activation":    {Type: TypeChoice, Choices: []any{"relu", "tanh"}},
		"epochs":        {Type: TypeConstant, Value: 10},
	}
}

func TestDefinitionValidate(t *testing.T) {
	t.Run("accepts a well-formed definition", func(t *testing.T) {
		assert.NoError(t, testDefinition().Validate())
	})

	t.Run("rejects empty definition", func(t *testing.T) {
		err := Definition{}.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no parameters")
	})

	cases := []struct {
		name    string
		param   Parameter
		wantErr string
	}{
		{"missing bounds", Parameter{Type: TypeUniformFloat}, "requires min and max"},
		{"inverted bounds", Parameter{Type: TypeUniformFloat, Min: f(1), Max: f(0)}, "must be below max"},
		{"log with zero min", Parameter{Type: TypeUniformFloat, Min: f(0), Max: f(1), Log: true}, "log scale requires min > 0"},
		{"default outside range", Parameter{Type: TypeUniformInt, Min: f(1), Max: f(10), Default: 50}, "outside"},
		{"non-numeric default", Parameter{Type: TypeUniformFloat, Min: f(0), Max: f(1), Default: "big"}, "not numeric"},
		{"empty choices", Parameter{Type: TypeChoice}, "non-empty option list"},
		{"default not a choice", Parameter{Type: TypeChoice, Choices: []any{"a", "b"}, Default: "c"}, "not one of the choices"},
		{"constant without value", Parameter{Type: TypeConstant}, "requires a value"},
		{"unknown type", Parameter{Type: "gaussian"}, "unknown parameter type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Definition{"p": tc.param}.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestFingerprint(t *testing.T) {
	t.Run("structurally equal definitions agree", func(t *testing.T) {
		a, err := testDefinition().Fingerprint()
		require.NoError(t, err)
		b, err := testDefinition().Fingerprint()
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("numeric source type does not matter", func(t *testing.T) {
		intDef := Definition{"p": {Type: TypeConstant, Value: 10}}
		floatDef := Definition{"p": {Type: TypeConstant, Value: 10.0}}

		a, err := intDef.Fingerprint()
		require.NoError(t, err)
		b, err := floatDef.Fingerprint()
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("different domains disagree", func(t *testing.T) {
		a, err := testDefinition().Fingerprint()
		require.NoError(t, err)

		other := testDefinition()
		other["batch_size"] = Parameter{Type: TypeUniformInt, Min: f(16), Max: f(512)}
		b, err := other.Fingerprint()
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestParseDefinition(t *testing.T) {
	t.Run("round-trips canonical payload", func(t *testing.T) {
		def := testDefinition()
		canonical, err := def.Canonical()
		require.NoError(t, err)

		parsed, err := ParseDefinition(string(canonical))
		require.NoError(t, err)

		fpA, err := def.Fingerprint()
		require.NoError(t, err)
		fpB, err := parsed.Fingerprint()
		require.NoError(t, err)
		assert.Equal(t, fpA, fpB)
	})

	t.Run("rejects malformed payload", func(t *testing.T) {
		_, err := ParseDefinition("{not json")
		assert.Error(t, err)
	})
}

func TestSample(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	space := &SearchSpace{ID: "s1", Definition: testDefinition()}

	for i := 0; i < 100; i++ {
		config := space.Sample(rng)

		lr, ok := config["learning_rate"].(float64)
		require.True(t, ok)
		assert.GreaterOrEqual(t, lr, 0.0001)
		assert.LessOrEqual(t, lr, 0.1)

		bs, ok := config["batch_size"].(int)
		require.True(t, ok)
		assert.GreaterOrEqual(t, bs, 16)
		assert.LessOrEqual(t, bs, 256)

		assert.Contains(t, []any{"relu", "tanh"}, config["activation"])
		assert.Equal(t, 10, config["epochs"])
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Run("honors declared defaults", func(t *testing.T) {
		def := testDefinition()
		def["activation"] = Parameter{Type: TypeChoice, Choices: []any{"relu", "tanh"}, Default: "tanh"}
		space := &SearchSpace{Definition: def}

		config := space.DefaultConfig()
		assert.Equal(t, "tanh", config["activation"])
	})

	t.Run("falls back to midpoint and first choice", func(t *testing.T) {
		space := &SearchSpace{Definition: Definition{
			"width":  {Type: TypeUniformFloat, Min: f(0), Max: f(2)},
			"layers": {Type: TypeUniformInt, Min: f(2), Max: f(6)},
			"act":    {Type: TypeChoice, Choices: []any{"relu", "tanh"}},
		}}

		config := space.DefaultConfig()
		assert.Equal(t, 1.0, config["width"])
		assert.Equal(t, 4, config["layers"])
		assert.Equal(t, "relu", config["act"])
	})
}
