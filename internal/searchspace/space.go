// Package searchspace defines typed parameter domains, the canonical form
// used for structural equality, and the registry that persists each distinct
// search space at most once.
package searchspace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/tunelab/sweep/pkg/trialstore"
)

// ParamType identifies the domain kind of a single tunable parameter.
type ParamType string

const (
	// TypeUniformFloat is a continuous range [min, max], optionally sampled
	// on a log scale.
	TypeUniformFloat ParamType = "uniform_float"

	// TypeUniformInt is an integer range [min, max], bounds inclusive.
	TypeUniformInt ParamType = "uniform_int"

	// TypeChoice is a categorical domain over a fixed option list.
	TypeChoice ParamType = "choice"

	// TypeConstant is a fixed value carried through every configuration.
	TypeConstant ParamType = "constant"
)

// Parameter declares the domain of one tunable parameter.
// Which fields are meaningful depends on Type; Validate enforces the rules.
type Parameter struct {
	Type    ParamType `json:"type" yaml:"type"`
	Min     *float64  `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64  `json:"max,omitempty" yaml:"max,omitempty"`
	Log     bool      `json:"log,omitempty" yaml:"log,omitempty"`
	Choices []any     `json:"choices,omitempty" yaml:"choices,omitempty"`
	Default any       `json:"default,omitempty" yaml:"default,omitempty"`
	Value   any       `json:"value,omitempty" yaml:"value,omitempty"`
}

// Definition maps parameter names to their declared domains.
type Definition map[string]Parameter

// Validate checks every parameter domain for internal consistency.
func (d Definition) Validate() error {
	if len(d) == 0 {
		return fmt.Errorf("search space has no parameters")
	}
	// Sorted iteration so validation errors are deterministic
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := d[name].validate(); err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
	}
	return nil
}

func (p Parameter) validate() error {
	switch p.Type {
	case TypeUniformFloat, TypeUniformInt:
		if p.Min == nil || p.Max == nil {
			return fmt.Errorf("%s requires min and max", p.Type)
		}
		if *p.Min >= *p.Max {
			return fmt.Errorf("min %v must be below max %v", *p.Min, *p.Max)
		}
		if p.Log && *p.Min <= 0 {
			return fmt.Errorf("log scale requires min > 0, got %v", *p.Min)
		}
		if p.Default != nil {
			def, ok := asFloat(p.Default)
			if !ok {
				return fmt.Errorf("default %v is not numeric", p.Default)
			}
			if def < *p.Min || def > *p.Max {
				return fmt.Errorf("default %v outside [%v, %v]", def, *p.Min, *p.Max)
			}
		}
	case TypeChoice:
		if len(p.Choices) == 0 {
			return fmt.Errorf("choice requires a non-empty option list")
		}
		if p.Default != nil && !containsValue(p.Choices, p.Default) {
			return fmt.Errorf("default %v is not one of the choices", p.Default)
		}
	case TypeConstant:
		if p.Value == nil {
			return fmt.Errorf("constant requires a value")
		}
	default:
		return fmt.Errorf("unknown parameter type %q", p.Type)
	}
	return nil
}

// Canonical returns the canonical serialized form of the definition.
//
// The bytes are deterministic for structurally identical definitions: the
// definition is round-tripped through generic JSON so numeric values lose
// source-type distinctions (int vs float), and Go's JSON encoder emits map
// keys in sorted order.
func (d Definition) Canonical() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize search space: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to normalize search space: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize search space: %w", err)
	}
	return canonical, nil
}

// Fingerprint returns the sha256 hex digest of the canonical form. Two
// definitions are structurally equal iff their fingerprints are equal.
func (d Definition) Fingerprint() (string, error) {
	canonical, err := d.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ParseDefinition decodes a canonical payload back into a typed definition.
// This is the schema-aware deserialization boundary: store records carry
// opaque payloads and only the registry interprets them.
func ParseDefinition(payload string) (Definition, error) {
	var def Definition
	if err := json.Unmarshal([]byte(payload), &def); err != nil {
		return nil, fmt.Errorf("failed to parse search space payload: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("stored search space is invalid: %w", err)
	}
	return def, nil
}

// SearchSpace is a resolved search space: a validated definition plus the
// stable store identity jobs are tagged with.
type SearchSpace struct {
	ID         string
	Definition Definition
}

// Sample draws one configuration uniformly from every parameter domain.
func (s *SearchSpace) Sample(rng *rand.Rand) trialstore.Config {
	config := make(trialstore.Config, len(s.Definition))
	for name, param := range s.Definition {
		config[name] = param.sample(rng)
	}
	return config
}

// DefaultConfig returns the declared default for every parameter, falling
// back to the domain midpoint (or first choice) where none is declared.
func (s *SearchSpace) DefaultConfig() trialstore.Config {
	config := make(trialstore.Config, len(s.Definition))
	for name, param := range s.Definition {
		config[name] = param.defaultValue()
	}
	return config
}

func (p Parameter) sample(rng *rand.Rand) any {
	switch p.Type {
	case TypeUniformFloat:
		if p.Log {
			lo, hi := math.Log(*p.Min), math.Log(*p.Max)
			return math.Exp(lo + rng.Float64()*(hi-lo))
		}
		return *p.Min + rng.Float64()*(*p.Max-*p.Min)
	case TypeUniformInt:
		lo, hi := int(*p.Min), int(*p.Max)
		return lo + rng.Intn(hi-lo+1)
	case TypeChoice:
		return p.Choices[rng.Intn(len(p.Choices))]
	case TypeConstant:
		return p.Value
	}
	return nil
}

func (p Parameter) defaultValue() any {
	if p.Default != nil {
		return p.Default
	}
	switch p.Type {
	case TypeUniformFloat:
		if p.Log {
			return math.Exp((math.Log(*p.Min) + math.Log(*p.Max)) / 2)
		}
		return (*p.Min + *p.Max) / 2
	case TypeUniformInt:
		return int((*p.Min + *p.Max) / 2)
	case TypeChoice:
		return p.Choices[0]
	case TypeConstant:
		return p.Value
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func containsValue(options []any, v any) bool {
	for _, opt := range options {
		if fmt.Sprint(opt) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}
