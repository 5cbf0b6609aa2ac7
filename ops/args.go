package ops

import (
	"fmt"
	"math"

	"github.com/wippyai/script-runtime/errors"
	"github.com/wippyai/script-runtime/resource"
)

// Args carries the already-marshalled arguments of one dispatch. The binding
// layer converts guest values into plain Go values before calling in; the
// accessors apply the loose numeric coercions that conversion implies (a Lua
// number arrives as float64 even when it holds an integer).
type Args []any

// Len returns the argument count.
func (a Args) Len() int {
	return len(a)
}

// Any returns the i-th argument without conversion.
func (a Args) Any(i int) (any, error) {
	if i < 0 || i >= len(a) {
		return nil, errors.InvalidInput(errors.PhaseDispatch,
			fmt.Sprintf("argument %d missing (got %d)", i, len(a)))
	}
	return a[i], nil
}

// String returns the i-th argument as a string.
func (a Args) String(i int) (string, error) {
	v, err := a.Any(i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.InvalidInput(errors.PhaseDispatch,
			fmt.Sprintf("argument %d: expected string, got %T", i, v))
	}
	return s, nil
}

// Bool returns the i-th argument as a bool.
func (a Args) Bool(i int) (bool, error) {
	v, err := a.Any(i)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.InvalidInput(errors.PhaseDispatch,
			fmt.Sprintf("argument %d: expected bool, got %T", i, v))
	}
	return b, nil
}

// Int returns the i-th argument as an int64, accepting any integral numeric
// representation the binding may have produced.
func (a Args) Int(i int) (int64, error) {
	v, err := a.Any(i)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, errors.InvalidInput(errors.PhaseDispatch,
				fmt.Sprintf("argument %d: %d overflows int64", i, n))
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, errors.InvalidInput(errors.PhaseDispatch,
				fmt.Sprintf("argument %d: %v is not integral", i, n))
		}
		return int64(n), nil
	}
	return 0, errors.InvalidInput(errors.PhaseDispatch,
		fmt.Sprintf("argument %d: expected integer, got %T", i, v))
}

// Float returns the i-th argument as a float64.
func (a Args) Float(i int) (float64, error) {
	v, err := a.Any(i)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	}
	return 0, errors.InvalidInput(errors.PhaseDispatch,
		fmt.Sprintf("argument %d: expected number, got %T", i, v))
}

// Bytes returns the i-th argument as a byte slice. Strings convert.
func (a Args) Bytes(i int) ([]byte, error) {
	v, err := a.Any(i)
	if err != nil {
		return nil, err
	}
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, errors.InvalidInput(errors.PhaseDispatch,
		fmt.Sprintf("argument %d: expected bytes, got %T", i, v))
}

// ResourceID returns the i-th argument as a resource id.
func (a Args) ResourceID(i int) (resource.ID, error) {
	if v, err := a.Any(i); err == nil {
		if id, ok := v.(resource.ID); ok {
			return id, nil
		}
	}
	n, err := a.Int(i)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > math.MaxUint32 {
		return 0, errors.InvalidInput(errors.PhaseDispatch,
			fmt.Sprintf("argument %d: %d is not a valid resource id", i, n))
	}
	return resource.ID(n), nil
}
