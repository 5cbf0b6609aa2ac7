// Package arena parks pending async op results in pre-allocated slots.
//
// Every dispatched async op needs somewhere for its result to live between
// the moment the op body finishes and the event-loop tick that delivers it
// to the guest. Allocating that somewhere per call is wasteful under high op
// throughput, so the arena keeps a fixed slab of slots and reuses them; when
// the slab runs dry, allocations fall back to the heap with the exact same
// poll contract.
//
// # Lifecycle
//
//	a := arena.New[ops.Result](256)
//
//	t := a.Submit(ctx, info, func(ctx context.Context) (ops.Result, error) {
//	    return readFromSocket(ctx, conn)
//	})
//
//	// later, on each event-loop tick:
//	if c, ok := t.Poll(); ok {
//	    deliver(c.Info, c.Result, c.Err)
//	}
//
// A ticket is the single consumable handle to its slot: Poll returns the
// completion exactly once and recycles the slot in the same step. Polling a
// consumed ticket panics rather than risking a read from a slot that already
// belongs to a newer op.
//
// # Concurrency
//
// Submit and the op goroutines are safe for concurrent use. A ticket is not:
// it belongs to the single driver goroutine that polls pending ops.
package arena
