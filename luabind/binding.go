package luabind

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/errors"
	"github.com/wippyai/script-runtime/ops"
	lua "github.com/yuin/gopher-lua"
)

// Config configures a Binding.
type Config struct {
	// Catalog is the frozen op table scripts dispatch against.
	Catalog *ops.Catalog

	// ArenaCapacity and DeferredBatch pass through to the op driver.
	ArenaCapacity int
	DeferredBatch int

	// QueueSize bounds the cross-goroutine Execute queue. Zero means 64.
	QueueSize int

	// Output receives script print() output. Nil means os.Stdout.
	Output io.Writer
}

// Binding embeds the op runtime into a sandboxed Lua interpreter. Scripts
// reach the runtime through the ops global; the binding is the scope their
// values materialize in and the resolver their promises settle through.
//
// The interpreter is single-goroutine. Either confine the binding to one
// goroutine and use Run, or give Serve a goroutine of its own and reach it
// with Execute from anywhere.
type Binding struct {
	L      *lua.LState
	driver *ops.Driver
	out    io.Writer

	// runCtx is the context of the script currently executing, installed
	// by Run and the task loop.
	runCtx context.Context

	promises    map[scriptruntime.PromiseID]*promiseEntry
	nextPromise scriptruntime.PromiseID

	promiseMeta *lua.LTable
	errMeta     *lua.LTable

	queue     chan *task
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// promiseEntry holds one promise's settlement until the script collects it.
type promiseEntry struct {
	settled  bool
	rejected bool
	value    lua.LValue
}

// New builds a binding over a frozen catalog: a fresh sandboxed interpreter,
// a fresh driver and op state, and the ops global installed.
func New(cfg Config) (*Binding, error) {
	if cfg.Catalog == nil {
		return nil, errors.InvalidInput(errors.PhaseBind, "catalog required")
	}
	driver, err := ops.NewDriver(ops.Config{
		Catalog:       cfg.Catalog,
		ArenaCapacity: cfg.ArenaCapacity,
		DeferredBatch: cfg.DeferredBatch,
	})
	if err != nil {
		return nil, err
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	b := &Binding{
		L:           L,
		driver:      driver,
		out:         out,
		runCtx:      context.Background(),
		promises:    make(map[scriptruntime.PromiseID]*promiseEntry),
		nextPromise: 1,
		queue:       make(chan *task, queueSize),
		done:        make(chan struct{}),
	}
	b.installMetatables()
	b.installOpsModule()
	b.installPrint()
	debugf("binding ready: %d ops, instance %s", cfg.Catalog.Len(), driver.State().InstanceID())
	return b, nil
}

// openSafeLibraries opens the side-effect-free standard libraries. io, os,
// debug, and package stay out: anything touching the host goes through ops.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

func (b *Binding) installMetatables() {
	idx := b.L.NewTable()
	idx.RawSetString("await", b.L.NewFunction(b.luaAwait))
	b.promiseMeta = b.L.NewTable()
	b.promiseMeta.RawSetString("__index", idx)

	b.errMeta = b.L.NewTable()
	b.errMeta.RawSetString("__tostring", b.L.NewFunction(func(L *lua.LState) int {
		L.Push(L.CheckTable(1).RawGetString("message"))
		return 1
	}))
}

// installPrint redirects print() to the configured writer so embedders can
// capture script output.
func (b *Binding) installPrint() {
	b.L.SetGlobal("print", b.L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		fmt.Fprintln(b.out, strings.Join(parts, "\t"))
		return 0
	}))
}

// Driver returns the binding's op driver.
func (b *Binding) Driver() *ops.Driver {
	return b.driver
}

// State returns the binding's op state.
func (b *Binding) State() *ops.State {
	return b.driver.State()
}

// WrapValue converts a Go value into this binding's Lua scope.
func (b *Binding) WrapValue(v any) (scriptruntime.Value, error) {
	return toLua(b.L, v), nil
}

// WrapError renders err as the table scripts see on failure: kind carries
// one of the four canonical error classes, message the full text, and
// tostring() yields the message.
func (b *Binding) WrapError(err error) scriptruntime.Value {
	t := b.L.NewTable()
	t.RawSetString("kind", lua.LString(string(errors.Canonical(err))))
	t.RawSetString("message", lua.LString(err.Error()))
	b.L.SetMetatable(t, b.errMeta)
	return t
}

// Resolve settles a pending promise with a value.
func (b *Binding) Resolve(id scriptruntime.PromiseID, v scriptruntime.Value) {
	b.settle(id, v, false)
}

// Reject settles a pending promise with an error value.
func (b *Binding) Reject(id scriptruntime.PromiseID, v scriptruntime.Value) {
	b.settle(id, v, true)
}

func (b *Binding) settle(id scriptruntime.PromiseID, v scriptruntime.Value, rejected bool) {
	e, ok := b.promises[id]
	if !ok {
		debugf("settlement for unknown promise %d dropped", id)
		return
	}
	e.settled = true
	e.rejected = rejected
	e.value = v.(lua.LValue)
}

// Run executes src on the calling goroutine, then drains the event loop
// until every op still counting toward keep-alive has settled. The
// returned error is a script failure or a drain interruption; op failures
// inside the script surface to the script itself.
func (b *Binding) Run(ctx context.Context, src string) error {
	if b.closed.Load() {
		return errors.Unavailable(errors.PhaseBind, "binding")
	}
	prev := b.runCtx
	b.runCtx = ctx
	defer func() { b.runCtx = prev }()
	return b.runScript(ctx, src)
}

func (b *Binding) runScript(ctx context.Context, src string) error {
	if err := b.L.DoString(src); err != nil {
		return errors.Wrap(errors.PhaseBind, errors.KindOther, err, "script failed")
	}
	return b.driver.Drain(ctx, b, b)
}

// Close releases the interpreter. Scripts that left resources open make
// the returned error a LeakError naming them; the resources are closed
// regardless. When Serve is in use, stop it first (cancel its context and
// wait for it to return) — Close must not race the interpreter.
func (b *Binding) Close() error {
	var leaks error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
		leaks = b.driver.State().CheckLeaks()
		b.driver.State().Clear()
		b.L.Close()
	})
	return leaks
}
