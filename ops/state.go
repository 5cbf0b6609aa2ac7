package ops

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/wippyai/script-runtime/errors"
	"github.com/wippyai/script-runtime/resource"
)

// State is the per-runtime context threaded through every dispatch. It owns
// the resource table, an open type-map for extension singletons, and the
// keep-alive accounting the event loop drains against.
//
// Dispatch mutates State from the single isolate goroutine; the table and
// the counters additionally tolerate reads from op goroutines.
type State struct {
	instanceID string
	resources  *resource.Table

	typemap map[reflect.Type]any
	typeMu  sync.RWMutex

	// Resource ids whose pending async work must not hold the event loop
	// alive. Absent means referenced.
	unrefed map[resource.ID]struct{}
	unrefMu sync.Mutex

	// Embedder-driven keep-alive, independent of any pending op.
	external atomic.Int64
}

// NewState creates a fresh per-runtime state with an empty resource table.
func NewState() *State {
	return &State{
		instanceID: uuid.NewString(),
		resources:  resource.NewTable(),
		typemap:    make(map[reflect.Type]any),
		unrefed:    make(map[resource.ID]struct{}),
	}
}

// InstanceID identifies this runtime instance in logs.
func (s *State) InstanceID() string {
	return s.instanceID
}

// Resources returns the runtime's resource table.
func (s *State) Resources() *resource.Table {
	return s.resources
}

// Put stores a singleton in the type-map, keyed by its type. Independent
// extensions stash their state here without the core knowing their types.
func Put[T any](s *State, v T) {
	s.typeMu.Lock()
	s.typemap[reflect.TypeFor[T]()] = v
	s.typeMu.Unlock()
}

// Get retrieves the singleton of type T, if present.
func Get[T any](s *State) (T, bool) {
	s.typeMu.RLock()
	v, ok := s.typemap[reflect.TypeFor[T]()]
	s.typeMu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// MustGet retrieves the singleton of type T and panics when absent. For use
// inside ops whose extension installed the state at registration time.
func MustGet[T any](s *State) T {
	v, ok := Get[T](s)
	if !ok {
		panic("ops: missing state singleton " + reflect.TypeFor[T]().String())
	}
	return v
}

// Take removes and returns the singleton of type T.
func Take[T any](s *State) (T, bool) {
	key := reflect.TypeFor[T]()
	s.typeMu.Lock()
	v, ok := s.typemap[key]
	if ok {
		delete(s.typemap, key)
	}
	s.typeMu.Unlock()
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Unref excludes a resource's pending async work from event-loop keep-alive.
func (s *State) Unref(rid resource.ID) {
	s.unrefMu.Lock()
	s.unrefed[rid] = struct{}{}
	s.unrefMu.Unlock()
}

// Ref restores a resource's pending async work to keep-alive accounting.
// Resources are referenced by default.
func (s *State) Ref(rid resource.ID) {
	s.unrefMu.Lock()
	delete(s.unrefed, rid)
	s.unrefMu.Unlock()
}

// HasRef reports whether pending work on rid counts toward keep-alive.
func (s *State) HasRef(rid resource.ID) bool {
	s.unrefMu.Lock()
	_, unrefed := s.unrefed[rid]
	s.unrefMu.Unlock()
	return !unrefed
}

// ExternalRef records one unit of embedder work the event loop must stay
// alive for, outside the dispatcher's knowledge (timers, worker threads).
func (s *State) ExternalRef() {
	s.external.Add(1)
}

// ExternalUnref balances an ExternalRef.
func (s *State) ExternalUnref() {
	s.external.Add(-1)
}

// ExternalCount returns the current external keep-alive count.
func (s *State) ExternalCount() int64 {
	return s.external.Load()
}

// Clear resets per-run state between script evaluations on a reused runtime:
// the type-map empties and every resource is released. Ref-tracking state
// (the unrefed set and the external counter) is tied to the embedding's own
// lifecycle and survives untouched.
func (s *State) Clear() {
	s.typeMu.Lock()
	s.typemap = make(map[reflect.Type]any)
	s.typeMu.Unlock()

	s.resources.Clear()
}

// CheckLeaks returns a LeakError naming every live resource, or nil when the
// table is empty. Test harnesses call it when a unit of work should have
// cleaned up after itself.
func (s *State) CheckLeaks() error {
	names := s.resources.Names()
	if len(names) == 0 {
		return nil
	}
	open := make(map[uint32]string, len(names))
	for id, name := range names {
		open[uint32(id)] = name
	}
	return errors.NewLeakError(open)
}
