// Package luabind hosts scripts in a sandboxed gopher-lua interpreter
// wired to the op runtime: the binding is the scope op results materialize
// in and the resolver async completions settle through.
//
// # The ops Global
//
// Scripts reach the runtime through one table:
//
//	local v = ops.call("kv", "get", "greeting")     -- sync op
//	local p = ops.call("clock", "sleep", 50)        -- async op: promise handle
//	local v, err = p:await()                        -- block until settled
//
//	ops.unref(rid)      -- exclude a resource's pending work from keep-alive
//	ops.ref(rid)        -- restore it
//	ops.close(rid)      -- remove and release a resource
//	ops.resources()     -- {id = kind} of everything open
//	ops.pending()       -- unsettled op count
//
// ops.bind("kv", "get") resolves the op name once and returns a plain
// function, for hot paths.
//
// # Error Convention
//
// Failures return nil plus an error table, io.open style:
//
//	local v, err = ops.await(p)
//	if err then
//		print(err.kind, err.message)
//	end
//
// err.kind is one of "bad_resource_id", "reference", "unavailable", or
// "other"; tostring(err) yields the message. Scripts preferring exceptions
// write assert(ops.await(p)). Misusing the API itself — wrong argument
// types, unknown op names — raises immediately.
//
// # Sandbox
//
// Scripts get the base, table, string, and math libraries. io, os, debug,
// and package are not opened; every effect on the host goes through a
// registered op. print() is rerouted to the configured output writer.
//
// # Concurrency
//
// The interpreter is single-goroutine. Run executes a script on the
// calling goroutine and drains the event loop before returning. For
// embedders with their own goroutines, Serve parks the interpreter loop on
// one goroutine and Execute/ExecuteScript marshal work onto it from any
// other. Awaiting inside a script ticks the driver inline, so async
// completions deliver while the script blocks.
package luabind
