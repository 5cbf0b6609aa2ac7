package ops

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-semver/semver"
	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/errors"
)

// HandlerSync is an op that completes on the isolate goroutine with the
// scope in hand.
type HandlerSync func(*State, scriptruntime.Scope, Args) Result

// HandlerAsync is an op body that runs off the isolate goroutine. No scope:
// the result defers value mapping until delivery.
type HandlerAsync func(context.Context, *State, Args) Result

// Decl declares one op. Exactly one of Sync or Async must be set.
type Decl struct {
	Namespace string
	Name      string
	Sync      HandlerSync
	Async     HandlerAsync

	// Deferred batches this op's completions: at most one batch per tick is
	// delivered, bounding how much work fast completions inject into a
	// single turn of the event loop.
	Deferred bool

	// ResourceArg is the 1-based index of the argument carrying the op's
	// resource id, used to tie pending work to per-resource keep-alive.
	// Zero means the op is not bound to a resource.
	ResourceArg int
}

// Key returns the op's "namespace#name" form used in lookups and errors.
func (d *Decl) Key() string {
	return d.Namespace + "#" + d.Name
}

// IsAsync reports whether the op registers asynchronously.
func (d *Decl) IsAsync() bool {
	return d.Async != nil
}

// Sync declares a synchronous op.
func Sync(namespace, name string, fn HandlerSync) Decl {
	return Decl{Namespace: namespace, Name: name, Sync: fn}
}

// Async declares an asynchronous op with eager completion delivery.
func Async(namespace, name string, fn HandlerAsync) Decl {
	return Decl{Namespace: namespace, Name: name, Async: fn}
}

// AsyncDeferred declares an asynchronous op whose completions are delivered
// in bounded batches.
func AsyncDeferred(namespace, name string, fn HandlerAsync) Decl {
	return Decl{Namespace: namespace, Name: name, Async: fn, Deferred: true}
}

// Requirement names another extension this one needs, with a minimum
// version. Versions are compatible within one major.
type Requirement struct {
	Extension string
	Min       semver.Version
}

// Extension groups the ops and per-runtime state of one independent
// subsystem. The core has no compile-time knowledge of any extension's
// business logic.
type Extension struct {
	Name     string
	Version  semver.Version
	Requires []Requirement
	Ops      []Decl

	// InitState stashes the extension's singletons into the state's
	// type-map when a runtime is set up.
	InitState func(*State) error
}

// Registry accumulates extensions before a runtime starts. Freeze turns it
// into the immutable catalog dispatch runs against.
type Registry struct {
	mu     sync.Mutex
	exts   []Extension
	byName map[string]int
	opKeys map[string]struct{}
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]int),
		opKeys: make(map[string]struct{}),
	}
}

// Register validates and adds an extension. Extensions register in
// dependency order: requirements must name already-registered extensions.
func (r *Registry) Register(ext Extension) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.Conflict(errors.PhaseRegistry, "registry already frozen")
	}
	if ext.Name == "" {
		return errors.InvalidInput(errors.PhaseRegistry, "extension name empty")
	}
	if _, dup := r.byName[ext.Name]; dup {
		return errors.Conflict(errors.PhaseRegistry,
			fmt.Sprintf("extension %q already registered", ext.Name))
	}

	for _, req := range ext.Requires {
		idx, ok := r.byName[req.Extension]
		if !ok {
			return errors.New(errors.PhaseRegistry, errors.KindNotFound).
				Detail("extension %q requires %q, which is not registered", ext.Name, req.Extension).
				Build()
		}
		got := r.exts[idx].Version
		if got.Major != req.Min.Major || got.LessThan(req.Min) {
			return errors.New(errors.PhaseRegistry, errors.KindConflict).
				Detail("extension %q requires %q >= %s (same major), have %s",
					ext.Name, req.Extension, req.Min.String(), got.String()).
				Build()
		}
	}

	for i := range ext.Ops {
		d := &ext.Ops[i]
		if d.Namespace == "" || d.Name == "" {
			return errors.Registration(d.Namespace, d.Name,
				errors.InvalidInput(errors.PhaseRegistry, "namespace and name required"))
		}
		if (d.Sync == nil) == (d.Async == nil) {
			return errors.Registration(d.Namespace, d.Name,
				errors.InvalidInput(errors.PhaseRegistry, "exactly one of Sync or Async must be set"))
		}
		if d.Deferred && d.Async == nil {
			return errors.Registration(d.Namespace, d.Name,
				errors.InvalidInput(errors.PhaseRegistry, "Deferred requires an async handler"))
		}
		if _, dup := r.opKeys[d.Key()]; dup {
			return errors.Registration(d.Namespace, d.Name,
				errors.Conflict(errors.PhaseRegistry, "op already registered"))
		}
	}
	for i := range ext.Ops {
		r.opKeys[ext.Ops[i].Key()] = struct{}{}
	}

	r.byName[ext.Name] = len(r.exts)
	r.exts = append(r.exts, ext)
	debugf("registered extension %s@%s (%d ops)", ext.Name, ext.Version.String(), len(ext.Ops))
	return nil
}

// MustRegister is Register for wiring code where a failure is a bug.
func (r *Registry) MustRegister(ext Extension) {
	if err := r.Register(ext); err != nil {
		panic(err)
	}
}

// Freeze assigns dense op ids in registration order and returns the
// immutable catalog. The registry accepts nothing further.
func (r *Registry) Freeze() (*Catalog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil, errors.Conflict(errors.PhaseRegistry, "registry already frozen")
	}
	r.frozen = true

	c := &Catalog{
		byKey: make(map[string]scriptruntime.OpID),
		exts:  r.exts,
	}
	for _, ext := range r.exts {
		for _, d := range ext.Ops {
			c.byKey[d.Key()] = scriptruntime.OpID(len(c.decls))
			c.decls = append(c.decls, d)
		}
	}
	return c, nil
}

// Catalog is the frozen op table dispatch runs against. Ids index decls
// directly; lookups by name happen once at binding setup, never per call.
type Catalog struct {
	decls []Decl
	byKey map[string]scriptruntime.OpID
	exts  []Extension
}

// Lookup resolves an op's dense id by namespace and name.
func (c *Catalog) Lookup(namespace, name string) (scriptruntime.OpID, bool) {
	id, ok := c.byKey[namespace+"#"+name]
	return id, ok
}

// Decl returns the declaration behind an op id.
func (c *Catalog) Decl(id scriptruntime.OpID) (*Decl, bool) {
	if int(id) >= len(c.decls) {
		return nil, false
	}
	return &c.decls[id], true
}

// Len returns the number of registered ops.
func (c *Catalog) Len() int {
	return len(c.decls)
}

// Each visits every op in id order until fn returns false.
func (c *Catalog) Each(fn func(scriptruntime.OpID, *Decl) bool) {
	for i := range c.decls {
		if !fn(scriptruntime.OpID(i), &c.decls[i]) {
			return
		}
	}
}

// Extensions returns the registered extensions in order.
func (c *Catalog) Extensions() []Extension {
	return c.exts
}

// InitState runs every extension's state hook against a fresh runtime state.
func (c *Catalog) InitState(s *State) error {
	for _, ext := range c.exts {
		if ext.InitState == nil {
			continue
		}
		if err := ext.InitState(s); err != nil {
			return errors.Wrap(errors.PhaseRegistry, errors.KindOther, err,
				fmt.Sprintf("init state for extension %q", ext.Name))
		}
	}
	return nil
}
