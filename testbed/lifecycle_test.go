package testbed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/coreos/go-semver/semver"
	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/errors"
	"github.com/wippyai/script-runtime/ops"
	"github.com/wippyai/script-runtime/resource"
)

// kvStore is a string-map resource guests open, mutate, and close.
type kvStore struct {
	mu     sync.Mutex
	m      map[string]string
	closed atomic.Int32
}

func (s *kvStore) Name() string { return "kvStore" }

func (s *kvStore) Close() { s.closed.Add(1) }

func (s *kvStore) put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

func (s *kvStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

func storeCatalog(t testing.TB) *ops.Catalog {
	t.Helper()

	open := ops.Sync("store", "open", func(s *ops.State, sc scriptruntime.Scope, args ops.Args) ops.Result {
		rid := s.Resources().Add(&kvStore{m: make(map[string]string)})
		return ops.NewValue(rid, nil)
	})
	put := ops.Async("store", "put", func(ctx context.Context, s *ops.State, args ops.Args) ops.Result {
		rid, err := args.ResourceID(0)
		if err != nil {
			return ops.NewError(err)
		}
		key, err := args.String(1)
		if err != nil {
			return ops.NewError(err)
		}
		value, err := args.String(2)
		if err != nil {
			return ops.NewError(err)
		}
		ref, err := resource.Get[*kvStore](s.Resources(), rid)
		if err != nil {
			return ops.NewError(err)
		}
		defer ref.Release()
		ref.Get().put(key, value)
		return ops.Void()
	})
	put.ResourceArg = 1
	get := ops.Async("store", "get", func(ctx context.Context, s *ops.State, args ops.Args) ops.Result {
		rid, err := args.ResourceID(0)
		if err != nil {
			return ops.NewError(err)
		}
		key, err := args.String(1)
		if err != nil {
			return ops.NewError(err)
		}
		ref, err := resource.Get[*kvStore](s.Resources(), rid)
		if err != nil {
			return ops.NewError(err)
		}
		defer ref.Release()
		v, ok := ref.Get().get(key)
		if !ok {
			return ops.NewError(errors.NotFound(errors.PhaseRuntime, "key", key))
		}
		return ops.NewValue(v, nil)
	})
	get.ResourceArg = 1
	watch := ops.Async("store", "watch", func(ctx context.Context, s *ops.State, args ops.Args) ops.Result {
		rid, err := args.ResourceID(0)
		if err != nil {
			return ops.NewError(err)
		}
		ref, err := resource.Get[*kvStore](s.Resources(), rid)
		if err != nil {
			return ops.NewError(err)
		}
		defer ref.Release()
		<-ctx.Done()
		return ops.NewError(errors.Interrupted("store#watch", ctx.Err()))
	})
	watch.ResourceArg = 1
	closeOp := ops.Sync("store", "close", func(s *ops.State, sc scriptruntime.Scope, args ops.Args) ops.Result {
		rid, err := args.ResourceID(0)
		if err != nil {
			return ops.NewError(err)
		}
		ref, err := s.Resources().Take(rid)
		if err != nil {
			return ops.NewError(err)
		}
		ref.Release()
		return ops.NewValue(true, nil)
	})

	reg := ops.NewRegistry()
	reg.MustRegister(ops.Extension{
		Name:    "store",
		Version: *semver.New("1.0.0"),
		Ops:     []ops.Decl{open, put, get, watch, closeOp},
	})
	cat, err := reg.Freeze()
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	return cat
}

// rawStore fetches the store behind rid without holding a reference, so
// tests can inspect it after the table lets go.
func rawStore(t *testing.T, d *ops.Driver, rid resource.ID) *kvStore {
	t.Helper()
	ref, err := resource.Get[*kvStore](d.State().Resources(), rid)
	if err != nil {
		t.Fatalf("fetch store %d: %v", rid, err)
	}
	st := ref.Get()
	ref.Release()
	return st
}

func TestStore_Lifecycle(t *testing.T) {
	cat := storeCatalog(t)
	d := newDriver(t, cat)
	e := &scriptedEngine{}
	ctx := context.Background()

	out, err := d.Dispatch(ctx, e, 0, opID(t, cat, "store#open"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rid, ok := out.Value.(resource.ID)
	if !ok {
		t.Fatalf("open returned %T, want resource id", out.Value)
	}
	st := rawStore(t, d, rid)

	if _, err := d.Dispatch(ctx, e, 1, opID(t, cat, "store#put"), ops.Args{rid, "greeting", "hello"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if s := waitSettled(t, d, e, 1); s.rejected {
		t.Fatalf("put rejected: %v", s.value)
	}

	if _, err := d.Dispatch(ctx, e, 2, opID(t, cat, "store#get"), ops.Args{rid, "greeting"}); err != nil {
		t.Fatalf("get: %v", err)
	}
	if s := waitSettled(t, d, e, 2); s.rejected || s.value != "hello" {
		t.Fatalf("get settled with %v (rejected=%v)", s.value, s.rejected)
	}

	if _, err := d.Dispatch(ctx, e, 3, opID(t, cat, "store#get"), ops.Args{rid, "missing"}); err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if s := waitSettled(t, d, e, 3); !s.rejected {
		t.Fatalf("missing key settled with %v", s.value)
	}

	out, err = d.Dispatch(ctx, e, 0, opID(t, cat, "store#close"), ops.Args{rid})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if out.Rejected || out.Value != true {
		t.Fatalf("close outcome = %+v", out)
	}
	if n := st.closed.Load(); n != 1 {
		t.Errorf("store closed %d times, want 1", n)
	}

	// The id is dead now; ops against it reject with the resource class.
	if _, err := d.Dispatch(ctx, e, 4, opID(t, cat, "store#get"), ops.Args{rid, "greeting"}); err != nil {
		t.Fatalf("get after close: %v", err)
	}
	s := waitSettled(t, d, e, 4)
	if !s.rejected {
		t.Fatalf("closed store served %v", s.value)
	}
	rerr, ok := s.value.(error)
	if !ok || errors.Canonical(rerr) != errors.KindBadResourceID {
		t.Errorf("rejection = %v, want bad resource id", s.value)
	}

	sanitize(t, d, e)
}

func TestStore_LeakReport(t *testing.T) {
	cat := storeCatalog(t)
	d := newDriver(t, cat)
	e := &scriptedEngine{}
	ctx := context.Background()

	var stores []*kvStore
	for i := 0; i < 2; i++ {
		out, err := d.Dispatch(ctx, e, 0, opID(t, cat, "store#open"), nil)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		stores = append(stores, rawStore(t, d, out.Value.(resource.ID)))
	}

	err := d.State().CheckLeaks()
	var leak *errors.LeakError
	if !errors.As(err, &leak) {
		t.Fatalf("CheckLeaks = %v, want leak report", err)
	}
	if len(leak.Resources) != 2 {
		t.Fatalf("leak lists %d resources, want 2", len(leak.Resources))
	}
	for _, r := range leak.Resources {
		if r.Name != "kvStore" {
			t.Errorf("leaked resource named %q", r.Name)
		}
	}

	d.State().Clear()
	if err := d.State().CheckLeaks(); err != nil {
		t.Errorf("CheckLeaks after Clear = %v", err)
	}
	for i, st := range stores {
		if n := st.closed.Load(); n != 1 {
			t.Errorf("store %d closed %d times, want 1", i, n)
		}
	}
}

func TestStore_UnrefBackgroundWatch(t *testing.T) {
	cat := storeCatalog(t)
	d := newDriver(t, cat)
	e := &scriptedEngine{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := d.Dispatch(ctx, e, 0, opID(t, cat, "store#open"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rid := out.Value.(resource.ID)

	d.State().Unref(rid)
	if _, err := d.Dispatch(ctx, e, 1, opID(t, cat, "store#watch"), ops.Args{rid}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if d.PendingCount() != 1 {
		t.Fatalf("pending = %d", d.PendingCount())
	}

	// The only pending op rides an unreferenced resource, so nothing holds
	// the loop open.
	if d.HasWork() {
		t.Fatal("unreferenced watch keeps the loop alive")
	}
	if err := d.Drain(context.Background(), e, e); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// Re-referencing flips keep-alive back on.
	d.State().Ref(rid)
	if !d.HasWork() {
		t.Fatal("referenced watch should hold the loop")
	}

	// Cancellation completes the watch; delivery happens on the next tick
	// whether or not the resource counts toward keep-alive.
	cancel()
	s := waitSettled(t, d, e, 1)
	if !s.rejected {
		t.Fatalf("cancelled watch settled with %v", s.value)
	}

	if out, err = d.Dispatch(ctx, e, 0, opID(t, cat, "store#close"), ops.Args{rid}); err != nil || out.Rejected {
		t.Fatalf("close: %v %+v", err, out)
	}
	if err := d.State().CheckLeaks(); err != nil {
		t.Errorf("leaks after close: %v", err)
	}
}
