package aggregator

import (
	"errors"
	"fmt"
)

// ObjectiveKey is the designated field a structured trial result must carry
// for the optimizer to rank it.
const ObjectiveKey = "optimization_target"

// Result-conversion errors. All are data-integrity failures of a single
// job's result document, never of the store or the batch.
var (
	// ErrMissingObjective: a structured result has no optimization target.
	ErrMissingObjective = errors.New("result object is missing the optimization_target field")

	// ErrNonNumericObjective: the optimization target exists but is not a
	// number.
	ErrNonNumericObjective = errors.New("optimization_target is not numeric")

	// ErrUnsupportedResultShape: the result is neither a number nor an
	// object.
	ErrUnsupportedResultShape = errors.New("result is neither a number nor an object")
)

// ToScalar converts a job's raw result into the single numeric signal the
// optimizer consumes. Bare numbers pass through; structured results must
// carry a numeric optimization target. Pure and side-effect-free.
func ToScalar(raw any) (float64, error) {
	if n, ok := asNumber(raw); ok {
		return n, nil
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return 0, fmt.Errorf("%w (got %T)", ErrUnsupportedResultShape, raw)
	}

	target, present := obj[ObjectiveKey]
	if !present {
		return 0, ErrMissingObjective
	}
	n, ok := asNumber(target)
	if !ok {
		return 0, fmt.Errorf("%w (got %T)", ErrNonNumericObjective, target)
	}
	return n, nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}
