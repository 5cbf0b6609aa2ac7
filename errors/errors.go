package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Is and As delegate to the standard library so callers that already import
// this package do not need a second aliased import.

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseTable    Phase = "table"    // resource table operations
	PhaseArena    Phase = "arena"    // pending future slots
	PhaseDispatch Phase = "dispatch" // op dispatch
	PhaseMapping  Phase = "mapping"  // result-to-engine-value mapping
	PhaseState    Phase = "state"    // per-runtime op state
	PhaseRegistry Phase = "registry" // op/extension registration
	PhaseBind     Phase = "bind"     // guest binding layer
	PhaseRuntime  Phase = "runtime"  // general runtime operations
)

// Kind categorizes the error
type Kind string

const (
	KindBadResourceID Kind = "bad_resource_id"
	KindReference     Kind = "reference"
	KindUnavailable   Kind = "unavailable"
	KindOther         Kind = "other"
	KindTypeMismatch  Kind = "type_mismatch"
	KindCapacity      Kind = "capacity"
	KindConflict      Kind = "conflict"
	KindInterrupted   Kind = "interrupted"
	KindInvalidInput  Kind = "invalid_input"
	KindNotFound      Kind = "not_found"
	KindRegistration  Kind = "registration"
)

// Canonical reduces any error to one of the four guest-facing classes:
// bad_resource_id, reference, unavailable, or other. Guests never see the
// internal kinds.
func Canonical(err error) Kind {
	var e *Error
	if As(err, &e) {
		switch e.Kind {
		case KindBadResourceID, KindReference, KindUnavailable:
			return e.Kind
		case KindTypeMismatch:
			// A typed lookup that found a resource of another kind is, to the
			// guest, the same as no resource at all.
			if e.Resource != 0 {
				return KindBadResourceID
			}
		}
	}
	return KindOther
}

// Error is the structured error type used throughout the runtime
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Op       string // namespace#name of the op, when known
	Resource uint32 // resource id, 0 when not resource-related
	GoType   string
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}

	if e.Resource != 0 {
		b.WriteString(fmt.Sprintf(" (rid %d)", e.Resource))
	}

	if e.GoType != "" {
		b.WriteString(": Go type ")
		b.WriteString(e.GoType)
	}

	if e.Detail != "" {
		if e.GoType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the op name ("namespace#name")
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Resource sets the resource id
func (b *Builder) Resource(id uint32) *Builder {
	b.err.Resource = id
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// BadResourceID creates an error for an unknown or already-removed resource id
func BadResourceID(phase Phase, id uint32) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindBadResourceID,
		Resource: id,
		Detail:   "bad resource id",
	}
}

// TypeMismatch creates an error for a resource or value of the wrong Go type
func TypeMismatch(phase Phase, id uint32, want, got string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Resource: id,
		GoType:   got,
		Detail:   fmt.Sprintf("expected %s", want),
	}
}

// Reference creates a reference error (dangling promise, unknown callback)
func Reference(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindReference,
		Detail: detail,
	}
}

// Unavailable creates an error for something that cannot be used right now
func Unavailable(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnavailable,
		Detail: fmt.Sprintf("%s unavailable", what),
	}
}

// Capacity creates an error for an exhausted fixed-size structure
func Capacity(phase Phase, what string, limit int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCapacity,
		Detail: fmt.Sprintf("%s capacity exhausted (limit %d)", what, limit),
		Value:  limit,
	}
}

// Conflict creates an error for an operation that contradicts earlier state
func Conflict(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindConflict,
		Detail: detail,
	}
}

// Interrupted creates an error for a cancelled in-flight operation
func Interrupted(op string, cause error) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindInterrupted,
		Op:     op,
		Detail: "operation interrupted",
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates a registration error
func Registration(namespace, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}

// MappingFailed creates an error for a result mapper that returned an error
func MappingFailed(op string, cause error) *Error {
	return &Error{
		Phase:  PhaseMapping,
		Kind:   KindOther,
		Op:     op,
		Detail: "map result to engine value",
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// LeakedResource identifies one resource still open at shutdown
type LeakedResource struct {
	ID   uint32
	Name string // resource kind, e.g. "tcpStream"
}

// LeakError is returned when a runtime shuts down with live resources
type LeakError struct {
	Resources []LeakedResource
}

// NewLeakError builds a leak report from id->name pairs
func NewLeakError(open map[uint32]string) *LeakError {
	result := &LeakError{
		Resources: make([]LeakedResource, 0, len(open)),
	}
	for id, name := range open {
		result.Resources = append(result.Resources, LeakedResource{ID: id, Name: name})
	}
	sort.Slice(result.Resources, func(i, j int) bool {
		return result.Resources[i].ID < result.Resources[j].ID
	})
	return result
}

func (e *LeakError) Error() string {
	if len(e.Resources) == 0 {
		return "[table] leak: no resources recorded"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d resource(s) still open:\n", len(e.Resources)))

	// Group by kind for cleaner output
	byName := make(map[string][]uint32)
	var nameOrder []string
	for _, r := range e.Resources {
		if _, exists := byName[r.Name]; !exists {
			nameOrder = append(nameOrder, r.Name)
		}
		byName[r.Name] = append(byName[r.Name], r.ID)
	}

	for _, name := range nameOrder {
		b.WriteString("\n  ")
		b.WriteString(name)
		b.WriteString(":\n")
		for _, id := range byName[name] {
			b.WriteString(fmt.Sprintf("    - rid %d\n", id))
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *LeakError) Is(target error) bool {
	_, ok := target.(*LeakError)
	return ok
}
