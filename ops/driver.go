package ops

import (
	"context"
	"fmt"
	"time"

	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/arena"
	"github.com/wippyai/script-runtime/errors"
	"github.com/wippyai/script-runtime/resource"
)

const defaultDeferredBatch = 32

// Drain backs off between empty polls, giztoy-style: fast while completions
// flow, capped when idle.
const (
	minPollInterval = 100 * time.Microsecond
	maxPollInterval = 5 * time.Millisecond
)

// Outcome reports what Dispatch did. For sync ops the value settles
// immediately; for async ops the promise settles in a later Tick.
type Outcome struct {
	Async    bool
	Value    scriptruntime.Value
	Rejected bool
}

// pendingOp tracks one dispatched async op until its completion is
// delivered.
type pendingOp struct {
	ticket   *arena.Ticket[Result]
	rid      resource.ID
	deferred bool
	key      string
}

// delivery is a completed deferred op waiting for a batch slot.
type delivery struct {
	promise scriptruntime.PromiseID
	key     string
	res     Result
}

// Config configures a Driver.
type Config struct {
	Catalog *Catalog

	// State is the per-runtime op state. Nil means NewDriver creates a
	// fresh one. NewDriver runs the catalog's extension state hooks, so
	// pass a state no other driver has initialized.
	State *State

	// ArenaCapacity sizes the pending-op slab. Zero means
	// arena.DefaultCapacity.
	ArenaCapacity int

	// DeferredBatch caps deferred completions delivered per tick. Zero
	// means 32.
	DeferredBatch int
}

// Driver dispatches ops and pumps their completions back into the engine.
//
// A driver is confined to the isolate goroutine: Dispatch, Tick, HasWork,
// and Drain must all run there. Op handlers are the only code that runs
// elsewhere, and they reach the driver only through the arena.
type Driver struct {
	cat       *Catalog
	state     *State
	arena     *arena.Arena[Result]
	pending   map[scriptruntime.PromiseID]*pendingOp
	deferredQ []delivery
	batch     int
}

// NewDriver builds a driver over a frozen catalog and runs the catalog's
// extension state hooks.
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.Catalog == nil {
		return nil, errors.InvalidInput(errors.PhaseDispatch, "catalog required")
	}
	st := cfg.State
	if st == nil {
		st = NewState()
	}
	if err := cfg.Catalog.InitState(st); err != nil {
		return nil, err
	}
	capacity := cfg.ArenaCapacity
	if capacity <= 0 {
		capacity = arena.DefaultCapacity
	}
	batch := cfg.DeferredBatch
	if batch <= 0 {
		batch = defaultDeferredBatch
	}
	return &Driver{
		cat:     cfg.Catalog,
		state:   st,
		arena:   arena.New[Result](capacity),
		pending: make(map[scriptruntime.PromiseID]*pendingOp),
		batch:   batch,
	}, nil
}

// State returns the driver's op state.
func (d *Driver) State() *State {
	return d.state
}

// Catalog returns the frozen op table the driver dispatches against.
func (d *Driver) Catalog() *Catalog {
	return d.cat
}

// Dispatch runs the op behind id. Sync ops complete in place and the
// outcome carries the settled value. Async ops start their handler on a
// worker goroutine, register the promise as pending, and return an async
// outcome; the promise settles through Tick once the handler finishes.
//
// An error return means the op never started: unknown id, bad resource
// argument, or a promise id already in flight. The binding surfaces it as
// a synchronous failure.
func (d *Driver) Dispatch(ctx context.Context, sc scriptruntime.Scope, promise scriptruntime.PromiseID, op scriptruntime.OpID, args Args) (Outcome, error) {
	decl, ok := d.cat.Decl(op)
	if !ok {
		return Outcome{}, errors.NotFound(errors.PhaseDispatch, "op id", fmt.Sprintf("%d", op))
	}

	if !decl.IsAsync() {
		r := decl.Sync(d.state, sc, args)
		v, rejected := r.Unwrap(sc, decl.Key())
		return Outcome{Value: v, Rejected: rejected}, nil
	}

	if promise == 0 {
		return Outcome{}, errors.InvalidInput(errors.PhaseDispatch, "promise id zero")
	}
	if _, dup := d.pending[promise]; dup {
		return Outcome{}, errors.Conflict(errors.PhaseDispatch,
			fmt.Sprintf("promise %d already pending", promise))
	}

	var rid resource.ID
	if decl.ResourceArg > 0 {
		var err error
		rid, err = args.ResourceID(decl.ResourceArg - 1)
		if err != nil {
			return Outcome{}, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
				Op(decl.Key()).
				Cause(err).
				Detail("resource argument %d", decl.ResourceArg).
				Build()
		}
	}

	key := decl.Key()
	handler := decl.Async
	run := func(ctx context.Context) (res Result, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = errors.New(errors.PhaseDispatch, errors.KindOther).
					Op(key).
					Detail("op handler panicked: %v", rec).
					Build()
			}
		}()
		return handler(ctx, d.state, args), nil
	}

	tk := d.arena.Submit(ctx, arena.PendingInfo{Promise: promise, Op: op}, run)
	d.pending[promise] = &pendingOp{ticket: tk, rid: rid, deferred: decl.Deferred, key: key}
	debugf("dispatched %s promise=%d rid=%d deferred=%v", key, promise, rid, decl.Deferred)
	return Outcome{Async: true}, nil
}

// Tick harvests finished async ops and settles their promises, returning
// how many it delivered. Eager completions settle in the tick that sees
// them; deferred completions queue and settle at most DeferredBatch per
// tick, oldest first. Unreferenced work is still polled and delivered
// whenever a tick runs.
func (d *Driver) Tick(sc scriptruntime.Scope, resolver scriptruntime.PromiseResolver) int {
	delivered := 0

	for promise, p := range d.pending {
		if !p.ticket.Done() {
			continue
		}
		comp, ok := p.ticket.Poll()
		if !ok {
			continue
		}
		delete(d.pending, promise)

		r := comp.Result
		if comp.Err != nil {
			r = NewError(comp.Err)
		}
		if p.deferred {
			d.deferredQ = append(d.deferredQ, delivery{promise: promise, key: p.key, res: r})
			continue
		}
		d.deliver(sc, resolver, promise, p.key, r)
		delivered++
	}

	n := len(d.deferredQ)
	if n > d.batch {
		n = d.batch
	}
	for i := 0; i < n; i++ {
		dl := d.deferredQ[i]
		d.deliver(sc, resolver, dl.promise, dl.key, dl.res)
	}
	if n > 0 {
		d.deferredQ = append(d.deferredQ[:0], d.deferredQ[n:]...)
		delivered += n
	}
	return delivered
}

func (d *Driver) deliver(sc scriptruntime.Scope, resolver scriptruntime.PromiseResolver, promise scriptruntime.PromiseID, key string, r Result) {
	v, rejected := r.Unwrap(sc, key)
	if rejected {
		debugf("reject %s promise=%d", key, promise)
		resolver.Reject(promise, v)
		return
	}
	debugf("resolve %s promise=%d", key, promise)
	resolver.Resolve(promise, v)
}

// HasWork reports whether the event loop must keep spinning: an external
// ref is held, a deferred completion awaits delivery, or a pending op
// counts toward keep-alive. Pending ops bound to an unreferenced resource
// do not.
func (d *Driver) HasWork() bool {
	if d.state.ExternalCount() > 0 {
		return true
	}
	if len(d.deferredQ) > 0 {
		return true
	}
	for _, p := range d.pending {
		if p.rid == 0 || d.state.HasRef(p.rid) {
			return true
		}
	}
	return false
}

// PendingCount returns dispatched-but-unsettled ops, queued deferred
// completions included.
func (d *Driver) PendingCount() int {
	return len(d.pending) + len(d.deferredQ)
}

// Drain ticks until HasWork turns false or the context ends. Bindings
// without their own event loop use it to run async work to completion.
// Pending ops opted out of keep-alive may still be in flight on return.
func (d *Driver) Drain(ctx context.Context, sc scriptruntime.Scope, resolver scriptruntime.PromiseResolver) error {
	interval := minPollInterval
	for d.HasWork() {
		if err := ctx.Err(); err != nil {
			return errors.Interrupted("drain", err)
		}
		if n := d.Tick(sc, resolver); n > 0 {
			interval = minPollInterval
			continue
		}
		select {
		case <-ctx.Done():
			return errors.Interrupted("drain", ctx.Err())
		case <-time.After(interval):
		}
		interval *= 2
		if interval > maxPollInterval {
			interval = maxPollInterval
		}
	}
	debugf("drain complete, %d unreferenced op(s) abandoned", len(d.pending))
	return nil
}
