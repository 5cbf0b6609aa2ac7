package ops

import (
	"math"

	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/errors"
	"github.com/wippyai/script-runtime/resource"
)

// ResultKind discriminates the three outcome shapes an op can produce.
type ResultKind uint8

const (
	// resultZero marks a Result that was never constructed. Unwrapping one
	// is a bug in the op handler.
	resultZero ResultKind = iota
	ResultError
	ResultValue
	ResultValueLarge
)

// MapFn converts an op's typed Go result into an engine value once a scope
// is available. Nil means the scope's default conversion.
type MapFn[T any] func(scriptruntime.Scope, T) (scriptruntime.Value, error)

// Result carries an op outcome from the handler to the point of delivery.
// Word-sized values travel inline; everything else is boxed. The conversion
// to an engine value is captured at construction but runs only inside
// Unwrap, on the isolate goroutine, with a live scope.
//
// A Result is single-use and not safe for concurrent access. The zero value
// is invalid: construct through NewError, NewValue, or Void.
type Result struct {
	kind     ResultKind
	err      error
	slot     uint64
	boxed    any
	mapSlot  func(scriptruntime.Scope, uint64) (scriptruntime.Value, error)
	mapBox   func(scriptruntime.Scope, any) (scriptruntime.Value, error)
	consumed bool
}

// NewError returns a rejecting result.
func NewError(err error) Result {
	if err == nil {
		panic("ops: NewError with nil error")
	}
	return Result{kind: ResultError, err: err}
}

// NewValue returns a resolving result carrying v. Values that fit in a
// machine word are stored inline without boxing; the rest ride behind an
// interface. Both shapes unwrap identically.
func NewValue[T any](v T, m MapFn[T]) Result {
	if w, ok := packWord(v); ok {
		r := Result{kind: ResultValue, slot: w}
		if m == nil {
			r.mapSlot = slotThunk[T]
		} else {
			r.mapSlot = func(sc scriptruntime.Scope, w uint64) (scriptruntime.Value, error) {
				return m(sc, unpackWord[T](w))
			}
		}
		return r
	}
	r := Result{kind: ResultValueLarge, boxed: v}
	if m == nil {
		r.mapBox = boxThunk
	} else {
		r.mapBox = func(sc scriptruntime.Scope, b any) (scriptruntime.Value, error) {
			return m(sc, b.(T))
		}
	}
	return r
}

// Void returns a resolving result with no payload. It unwraps to the
// scope's representation of "nothing".
func Void() Result {
	return Result{kind: ResultValue, mapSlot: voidThunk}
}

// Kind returns the result's discriminant.
func (r *Result) Kind() ResultKind {
	return r.kind
}

// IsError reports whether the result rejects.
func (r *Result) IsError() bool {
	return r.kind == ResultError
}

// Err returns the rejection error without consuming the result, or nil for
// resolving results.
func (r *Result) Err() error {
	return r.err
}

// Unwrap converts the result into a final engine value exactly once.
// Rejected reports whether the value settles the promise as a rejection:
// true for error results and for values whose mapper failed, in which case
// the returned value wraps the mapping error instead of trapping the
// runtime. A second Unwrap panics.
func (r *Result) Unwrap(sc scriptruntime.Scope, op string) (v scriptruntime.Value, rejected bool) {
	if r.consumed {
		panic("ops: unwrap of consumed result")
	}
	r.consumed = true

	switch r.kind {
	case ResultError:
		return sc.WrapError(r.err), true
	case ResultValue:
		v, err := r.mapSlot(sc, r.slot)
		if err != nil {
			return sc.WrapError(errors.MappingFailed(op, err)), true
		}
		return v, false
	case ResultValueLarge:
		v, err := r.mapBox(sc, r.boxed)
		if err != nil {
			return sc.WrapError(errors.MappingFailed(op, err)), true
		}
		return v, false
	default:
		panic("ops: unwrap of zero result")
	}
}

// packWord encodes word-sized values into a uint64 slot. Floats keep their
// bit pattern, signed integers sign-extend, so unpackWord restores the
// original exactly. The switch keys on the static type T, matching
// unpackWord: interface-typed values never pack inline.
func packWord[T any](v T) (uint64, bool) {
	switch p := any(&v).(type) {
	case *bool:
		if *p {
			return 1, true
		}
		return 0, true
	case *int32:
		return uint64(uint32(*p)), true
	case *uint32:
		return uint64(*p), true
	case *int64:
		return uint64(*p), true
	case *uint64:
		return *p, true
	case *int:
		return uint64(int64(*p)), true
	case *uint:
		return uint64(*p), true
	case *float32:
		return uint64(math.Float32bits(*p)), true
	case *float64:
		return math.Float64bits(*p), true
	case *resource.ID:
		return uint64(*p), true
	case *scriptruntime.PromiseID:
		return uint64(*p), true
	default:
		return 0, false
	}
}

// unpackWord decodes a slot back into T. Only types packWord accepts reach
// here; anything else yields T's zero value.
func unpackWord[T any](w uint64) T {
	var v T
	switch p := any(&v).(type) {
	case *bool:
		*p = w != 0
	case *int32:
		*p = int32(uint32(w))
	case *uint32:
		*p = uint32(w)
	case *int64:
		*p = int64(w)
	case *uint64:
		*p = w
	case *int:
		*p = int(int64(w))
	case *uint:
		*p = uint(w)
	case *float32:
		*p = math.Float32frombits(uint32(w))
	case *float64:
		*p = math.Float64frombits(w)
	case *resource.ID:
		*p = resource.ID(w)
	case *scriptruntime.PromiseID:
		*p = scriptruntime.PromiseID(uint32(w))
	}
	return v
}

// slotThunk is the default mapper for inline values: hand the unpacked Go
// value to the scope's own conversion. Capture-free, so results built
// without a custom mapper share one function value per type.
func slotThunk[T any](sc scriptruntime.Scope, w uint64) (scriptruntime.Value, error) {
	return sc.WrapValue(unpackWord[T](w))
}

// boxThunk is the default mapper for boxed values.
func boxThunk(sc scriptruntime.Scope, v any) (scriptruntime.Value, error) {
	return sc.WrapValue(v)
}

// voidThunk maps the absence of a payload.
func voidThunk(sc scriptruntime.Scope, _ uint64) (scriptruntime.Value, error) {
	return sc.WrapValue(nil)
}
