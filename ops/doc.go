// Package ops implements op declaration, registration, and dispatch: the
// path a guest call takes from the binding layer through a Go handler and
// back into a settled engine value.
//
// # Extensions
//
// Handlers ship in extensions. An extension names its ops, its version,
// the extensions it builds on, and a hook that seeds per-runtime state:
//
//	ext := ops.Extension{
//		Name:    "kv",
//		Version: *semver.New("1.0.0"),
//		Ops: []ops.Decl{
//			ops.Sync("kv", "get", opKVGet),
//			ops.Async("kv", "load", opKVLoad),
//		},
//		InitState: func(s *ops.State) error {
//			ops.Put(s, newStore())
//			return nil
//		},
//	}
//
//	reg := ops.NewRegistry()
//	reg.MustRegister(ext)
//	cat, err := reg.Freeze()
//
// Freezing assigns every op a dense id in registration order. Bindings
// resolve names to ids once at setup; per-call dispatch is an index into
// the catalog.
//
// # Sync and Async
//
// A sync handler runs on the isolate goroutine with the scope in hand and
// its result settles before Dispatch returns. An async handler runs on a
// worker goroutine with no scope; Dispatch registers the promise and
// returns immediately, and the completion settles in a later Tick. Async
// completions are eager by default. Declaring an op with AsyncDeferred
// batches its completions instead, capping how many settle per tick.
//
// # Results
//
// Handlers return a Result: an error, a word-sized value stored inline, or
// a boxed value. Conversion to an engine value waits until delivery, when
// a scope exists. A Result unwraps exactly once; if its mapper fails, the
// promise rejects with the mapping error rather than tearing down the
// runtime.
//
// # Keep-Alive
//
// The event loop runs while the driver has work: a pending op, an
// undelivered deferred completion, or a held external ref. State.Unref
// excludes a resource's pending ops from that accounting, so background
// reads on a socket nobody waits for cannot pin the loop open; their
// completions still deliver if the loop runs for other reasons.
// ExternalRef holds the loop open with no pending op at all, for work the
// embedder tracks itself.
//
// # Thread Safety
//
// State is safe for concurrent use; handlers on worker goroutines share it
// with the isolate. The Driver is not: Dispatch, Tick, HasWork, and Drain
// belong to the isolate goroutine, the same discipline engines impose on
// their scopes.
package ops
