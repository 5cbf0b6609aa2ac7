package luabind

import (
	"fmt"
	"math"
	"time"

	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/errors"
	"github.com/wippyai/script-runtime/ops"
	"github.com/wippyai/script-runtime/resource"
	lua "github.com/yuin/gopher-lua"
)

// installOpsModule publishes the ops global. Op failures follow the Lua
// convention: nil plus an error table. Misusing the API itself (wrong
// argument types, unknown op names) raises.
func (b *Binding) installOpsModule() {
	mod := b.L.SetFuncs(b.L.NewTable(), map[string]lua.LGFunction{
		"call":      b.luaCall,
		"bind":      b.luaBind,
		"await":     b.luaAwait,
		"close":     b.luaClose,
		"ref":       b.luaRef,
		"unref":     b.luaUnref,
		"resources": b.luaResources,
		"pending":   b.luaPending,
	})
	b.L.SetGlobal("ops", mod)
}

// pushErr pushes the nil, err pair for a Go-side failure.
func (b *Binding) pushErr(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(b.WrapError(err).(lua.LValue))
	return 2
}

// pushErrValue pushes the nil, err pair for an already-wrapped rejection.
func pushErrValue(L *lua.LState, lv lua.LValue) int {
	L.Push(lua.LNil)
	L.Push(lv)
	return 2
}

// ops.call(namespace, name, ...) dispatches an op. Sync ops return their
// value in place; async ops return a promise handle.
func (b *Binding) luaCall(L *lua.LState) int {
	ns := L.CheckString(1)
	name := L.CheckString(2)
	id, ok := b.driver.Catalog().Lookup(ns, name)
	if !ok {
		L.RaiseError("unknown op %s.%s", ns, name)
		return 0
	}
	return b.invoke(L, id, 3)
}

// ops.bind(namespace, name) resolves an op once and returns a function
// dispatching it directly, skipping the per-call name lookup.
func (b *Binding) luaBind(L *lua.LState) int {
	ns := L.CheckString(1)
	name := L.CheckString(2)
	id, ok := b.driver.Catalog().Lookup(ns, name)
	if !ok {
		L.RaiseError("unknown op %s.%s", ns, name)
		return 0
	}
	L.Push(L.NewFunction(func(L *lua.LState) int {
		return b.invoke(L, id, 1)
	}))
	return 1
}

// invoke marshals stack arguments from argStart on and dispatches op id.
func (b *Binding) invoke(L *lua.LState, id scriptruntime.OpID, argStart int) int {
	top := L.GetTop()
	var args ops.Args
	if top >= argStart {
		args = make(ops.Args, 0, top-argStart+1)
		for i := argStart; i <= top; i++ {
			args = append(args, toGo(L.Get(i)))
		}
	}

	decl, _ := b.driver.Catalog().Decl(id)
	if !decl.IsAsync() {
		out, err := b.driver.Dispatch(b.runCtx, b, 0, id, args)
		if err != nil {
			return b.pushErr(L, err)
		}
		if out.Rejected {
			return pushErrValue(L, out.Value.(lua.LValue))
		}
		L.Push(out.Value.(lua.LValue))
		return 1
	}

	pid := b.allocPromise()
	if _, err := b.driver.Dispatch(b.runCtx, b, pid, id, args); err != nil {
		delete(b.promises, pid)
		return b.pushErr(L, err)
	}
	L.Push(b.newPromiseHandle(pid))
	return 1
}

func (b *Binding) allocPromise() scriptruntime.PromiseID {
	pid := b.nextPromise
	b.nextPromise++
	if b.nextPromise == 0 {
		b.nextPromise = 1
	}
	b.promises[pid] = &promiseEntry{}
	return pid
}

func (b *Binding) newPromiseHandle(pid scriptruntime.PromiseID) *lua.LTable {
	t := b.L.NewTable()
	t.RawSetString("id", lua.LNumber(pid))
	b.L.SetMetatable(t, b.promiseMeta)
	return t
}

// ops.await(p) blocks until the promise settles, running the event loop
// inline. Also reachable as p:await(). A promise settles into exactly one
// await; a second await reports a dangling reference.
func (b *Binding) luaAwait(L *lua.LState) int {
	pid := b.promiseArg(L, 1)
	v, rejected, err := b.awaitSettled(pid)
	if err != nil {
		return b.pushErr(L, err)
	}
	if rejected {
		return pushErrValue(L, v)
	}
	L.Push(v)
	return 1
}

func (b *Binding) promiseArg(L *lua.LState, n int) scriptruntime.PromiseID {
	switch v := L.Get(n).(type) {
	case lua.LNumber:
		return scriptruntime.PromiseID(v)
	case *lua.LTable:
		if id, ok := v.RawGetString("id").(lua.LNumber); ok {
			return scriptruntime.PromiseID(id)
		}
	}
	L.ArgError(n, "promise expected")
	return 0
}

// awaitSettled spins the driver until pid settles, consuming the
// settlement.
func (b *Binding) awaitSettled(pid scriptruntime.PromiseID) (lua.LValue, bool, error) {
	interval := minIdleWait
	for {
		e, ok := b.promises[pid]
		if !ok {
			return nil, false, errors.Reference(errors.PhaseBind,
				fmt.Sprintf("promise %d is not pending", pid))
		}
		if e.settled {
			delete(b.promises, pid)
			return e.value, e.rejected, nil
		}
		if err := b.runCtx.Err(); err != nil {
			return nil, false, errors.Interrupted("await", err)
		}
		if b.driver.Tick(b, b) > 0 {
			interval = minIdleWait
			continue
		}
		time.Sleep(interval)
		interval *= 2
		if interval > maxIdleWait {
			interval = maxIdleWait
		}
	}
}

// ops.close(rid) removes a resource from the table and releases the
// table's hold on it. Returns true, or nil, err for an unknown id.
func (b *Binding) luaClose(L *lua.LState) int {
	ref, err := b.driver.State().Resources().Take(b.ridArg(L, 1))
	if err != nil {
		return b.pushErr(L, err)
	}
	ref.Release()
	L.Push(lua.LTrue)
	return 1
}

func (b *Binding) ridArg(L *lua.LState, n int) resource.ID {
	v := L.CheckInt64(n)
	if v <= 0 || v > math.MaxUint32 {
		L.ArgError(n, "resource id expected")
	}
	return resource.ID(v)
}

// ops.unref(rid) excludes pending work on a resource from event-loop
// keep-alive; ops.ref(rid) restores it.
func (b *Binding) luaUnref(L *lua.LState) int {
	b.driver.State().Unref(b.ridArg(L, 1))
	return 0
}

func (b *Binding) luaRef(L *lua.LState) int {
	b.driver.State().Ref(b.ridArg(L, 1))
	return 0
}

// ops.resources() returns the open resource table as {id = kind}.
func (b *Binding) luaResources(L *lua.LState) int {
	t := L.NewTable()
	for id, name := range b.driver.State().Resources().Names() {
		t.RawSetInt(int(id), lua.LString(name))
	}
	L.Push(t)
	return 1
}

// ops.pending() returns the dispatched-but-unsettled op count.
func (b *Binding) luaPending(L *lua.LState) int {
	L.Push(lua.LNumber(b.driver.PendingCount()))
	return 1
}
