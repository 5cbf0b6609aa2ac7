// Package scriptruntime provides the op-dispatch and resource-lifecycle core
// for embedding scripting engines in Go.
//
// The library is engine-agnostic: ops are plain Go functions, resources are
// Go objects behind small integer ids, and async completions flow back to the
// guest through promise ids. A reference binding for Lua ships in luabind.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	scriptruntime/       Root package with engine boundary types (Scope, Value)
//	├── ops/             Op registry, per-runtime state, dispatch driver
//	├── arena/           Pending-op slots: fixed slab with heap fallback
//	├── resource/        Resource table with monotonic u32 ids
//	├── errors/          Structured error types for debugging
//	├── luabind/         Reference guest binding over gopher-lua
//	├── testbed/         Scripted engine harness for integration tests
//	└── cmd/opshell/     Interactive op console
//
// # Quick Start
//
// Register an extension and run a script through the Lua binding:
//
//	reg := ops.NewRegistry()
//	reg.MustRegister(ops.Extension{
//	    Name:    "greeter",
//	    Version: *semver.New("1.0.0"),
//	    Ops: []ops.Decl{
//	        ops.Sync("greeter", "hello", func(s *ops.State, sc scriptruntime.Scope, args ops.Args) ops.Result {
//	            name, _ := args.String(0)
//	            return ops.NewValue("Hello, "+name+"!", nil)
//	        }),
//	    },
//	})
//	cat, _ := reg.Freeze()
//
//	b, _ := luabind.New(luabind.Config{Catalog: cat})
//	defer b.Close()
//	_ = b.Run(ctx, `print(ops.call("greeter", "hello", "World"))`)
//
// # Ops
//
// A sync op returns its result immediately; an async op runs on a goroutine
// with its completion parked in the arena until the driver's next tick
// delivers it to the guest promise. Deferred ops batch their delivery.
//
// # Resources
//
// Resources live in a table under monotonically increasing u32 ids that are
// never reused. Ownership is shared: the table holds one reference, callers
// clone more, and the resource closes exactly once when the last reference is
// released.
//
// # Thread Safety
//
// Registry, State, the resource table, and the arena are safe for concurrent
// use. A Scope is NOT thread-safe: it must only be touched from the binding's
// executor goroutine, which is why results defer value mapping until the
// driver holds a scope.
package scriptruntime
