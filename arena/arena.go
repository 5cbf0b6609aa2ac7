package arena

import (
	"context"
	"sync"
	"sync/atomic"

	scriptruntime "github.com/wippyai/script-runtime"
)

// DefaultCapacity is the slab size used when a config leaves it zero.
const DefaultCapacity = 256

// PendingInfo correlates an in-flight async op with its originating call.
// It is created when dispatch begins and consumed exactly once on delivery.
type PendingInfo struct {
	Promise scriptruntime.PromiseID
	Op      scriptruntime.OpID
}

// slot holds one pending op's eventual result. Slab slots are reused; their
// address stays stable for the lifetime of one allocation.
type slot[R any] struct {
	res  R
	err  error
	done atomic.Bool
}

// Arena runs async op bodies and parks their results until polled. A fixed
// slab of pre-allocated slots serves the common case; when the slab is
// exhausted, allocations silently fall back to the heap with an identical
// poll contract, so callers never observe which strategy was used.
type Arena[R any] struct {
	slots    []slot[R]
	free     []int32
	mu       sync.Mutex
	inflight atomic.Int64
}

// New creates an arena with the given slab capacity (DefaultCapacity if
// capacity <= 0).
func New[R any](capacity int) *Arena[R] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	a := &Arena[R]{
		slots: make([]slot[R], capacity),
		free:  make([]int32, capacity),
	}
	for i := range a.free {
		a.free[i] = int32(capacity - 1 - i)
	}
	return a
}

// Submit claims a slot, records the correlation info, and starts run on its
// own goroutine. The returned ticket is the single consumable handle to the
// pending result.
func (a *Arena[R]) Submit(ctx context.Context, info PendingInfo, run func(context.Context) (R, error)) *Ticket[R] {
	s, idx := a.claim()
	t := &Ticket[R]{a: a, s: s, idx: idx, info: info}
	a.inflight.Add(1)

	go func() {
		res, err := run(ctx)
		s.res, s.err = res, err
		s.done.Store(true)
	}()

	return t
}

func (a *Arena[R]) claim() (*slot[R], int32) {
	a.mu.Lock()
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.mu.Unlock()

		s := &a.slots[idx]
		var zero R
		s.res, s.err = zero, nil
		s.done.Store(false)
		return s, idx
	}
	a.mu.Unlock()

	// Slab exhausted: box on the heap. Same contract either way.
	return &slot[R]{}, -1
}

func (a *Arena[R]) recycle(t *Ticket[R]) {
	a.inflight.Add(-1)
	if t.idx < 0 {
		return
	}

	// Clear the payload so the slab does not pin delivered results.
	var zero R
	t.s.res, t.s.err = zero, nil

	a.mu.Lock()
	a.free = append(a.free, t.idx)
	a.mu.Unlock()
}

// InFlight returns the number of submitted but not yet consumed ops.
func (a *Arena[R]) InFlight() int {
	return int(a.inflight.Load())
}

// Capacity returns the slab size.
func (a *Arena[R]) Capacity() int {
	return len(a.slots)
}

// Completion is a settled op result together with its correlation info.
type Completion[R any] struct {
	Result R
	Err    error
	Info   PendingInfo
}

// Ticket is the single handle to one pending op. It is not safe for
// concurrent use; the driver polls all tickets from one goroutine.
type Ticket[R any] struct {
	a        *Arena[R]
	s        *slot[R]
	idx      int32
	info     PendingInfo
	consumed bool
}

// Info returns the correlation context without polling. Valid before and
// after consumption.
func (t *Ticket[R]) Info() PendingInfo {
	return t.info
}

// Poll returns the completion if the op has settled. It returns the result
// exactly once, consuming the ticket; a slab slot goes back on the free list
// at that moment. Polling an already-consumed ticket panics, since the slot
// may already belong to a newer op.
func (t *Ticket[R]) Poll() (Completion[R], bool) {
	if t.consumed {
		panic("arena: poll of consumed ticket")
	}
	if !t.s.done.Load() {
		return Completion[R]{}, false
	}

	t.consumed = true
	c := Completion[R]{Result: t.s.res, Err: t.s.err, Info: t.info}
	t.a.recycle(t)
	return c, true
}

// Done reports whether the op has settled, without consuming the ticket.
func (t *Ticket[R]) Done() bool {
	if t.consumed {
		panic("arena: poll of consumed ticket")
	}
	return t.s.done.Load()
}
