package testbed

import (
	"context"
	"testing"
	"time"

	"github.com/coreos/go-semver/semver"
	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/errors"
	"github.com/wippyai/script-runtime/ops"
)

func feedCatalog(t testing.TB) *ops.Catalog {
	t.Helper()

	reg := ops.NewRegistry()
	reg.MustRegister(ops.Extension{
		Name:    "feed",
		Version: *semver.New("1.0.0"),
		Ops: []ops.Decl{
			// pull completions are low-priority and drip out in batches.
			ops.AsyncDeferred("feed", "pull", func(ctx context.Context, s *ops.State, args ops.Args) ops.Result {
				seq, err := args.Int(0)
				if err != nil {
					return ops.NewError(err)
				}
				delay, err := args.Int(1)
				if err != nil {
					return ops.NewError(err)
				}
				select {
				case <-time.After(time.Duration(delay) * time.Millisecond):
					return ops.NewValue(seq, nil)
				case <-ctx.Done():
					return ops.NewError(errors.Interrupted("feed#pull", ctx.Err()))
				}
			}),
			ops.Async("feed", "ping", func(ctx context.Context, s *ops.State, args ops.Args) ops.Result {
				return ops.NewValue(true, nil)
			}),
		},
	})
	cat, err := reg.Freeze()
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	return cat
}

func TestDeferred_BatchCap(t *testing.T) {
	cat := feedCatalog(t)
	d, err := ops.NewDriver(ops.Config{Catalog: cat, DeferredBatch: 2})
	if err != nil {
		t.Fatalf("create driver: %v", err)
	}
	e := &scriptedEngine{}
	pull := opID(t, cat, "feed#pull")

	const n = 5
	for i := 1; i <= n; i++ {
		if _, err := d.Dispatch(context.Background(), e, scriptruntime.PromiseID(i), pull, ops.Args{int64(i), int64(0)}); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	var perTick []int
	deadline := time.Now().Add(2 * time.Second)
	for e.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("delivered %d of %d", e.count(), n)
		}
		if delivered := d.Tick(e, e); delivered > 0 {
			perTick = append(perTick, delivered)
		} else {
			time.Sleep(100 * time.Microsecond)
		}
	}

	for _, delivered := range perTick {
		if delivered > 2 {
			t.Errorf("tick delivered %d deferred completions, cap is 2 (ticks: %v)", delivered, perTick)
		}
	}
	if len(perTick) < 3 {
		t.Errorf("%d completions arrived in %d ticks, batching cap ignored", n, len(perTick))
	}

	for i := 1; i <= n; i++ {
		s, ok := e.settled(scriptruntime.PromiseID(i))
		if !ok {
			t.Errorf("promise %d never settled", i)
			continue
		}
		if s.rejected || s.value != int64(i) {
			t.Errorf("promise %d = %v (rejected=%v)", i, s.value, s.rejected)
		}
	}
}

func TestDeferred_EagerBypassesCap(t *testing.T) {
	cat := feedCatalog(t)
	d, err := ops.NewDriver(ops.Config{Catalog: cat, DeferredBatch: 1})
	if err != nil {
		t.Fatalf("create driver: %v", err)
	}
	e := &scriptedEngine{}

	// Three slow deferred pulls and one instant eager ping. The ping must
	// not wait in the deferred line.
	for i := 1; i <= 3; i++ {
		if _, err := d.Dispatch(context.Background(), e, scriptruntime.PromiseID(i), opID(t, cat, "feed#pull"), ops.Args{int64(i), int64(50)}); err != nil {
			t.Fatalf("dispatch pull %d: %v", i, err)
		}
	}
	if _, err := d.Dispatch(context.Background(), e, 9, opID(t, cat, "feed#ping"), nil); err != nil {
		t.Fatalf("dispatch ping: %v", err)
	}

	ping := waitSettled(t, d, e, 9)
	if ping.rejected || ping.value != true {
		t.Fatalf("ping = %v (rejected=%v)", ping.value, ping.rejected)
	}

	// The pulls are still sleeping when the ping lands.
	if remaining := d.PendingCount(); remaining < 2 {
		t.Errorf("pending = %d right after ping, pulls outran it", remaining)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Drain(ctx, e, e); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if e.count() != 4 {
		t.Errorf("settlements = %d, want 4", e.count())
	}
}
