package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-semver/semver"

	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/errors"
	"github.com/wippyai/script-runtime/ops"
	"github.com/wippyai/script-runtime/resource"
)

// builtinOrder fixes registration order so requirements resolve no matter
// how the config lists extensions.
var builtinOrder = []string{"core", "clock", "kv", "rand"}

var builtins = map[string]func() ops.Extension{
	"core":  coreExtension,
	"clock": clockExtension,
	"kv":    kvExtension,
	"rand":  randExtension,
}

// buildCatalog registers the named built-ins and freezes the catalog.
func buildCatalog(names []string) (*ops.Catalog, error) {
	enabled := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := builtins[n]; !ok {
			return nil, fmt.Errorf("unknown extension %q (have %s)",
				n, strings.Join(builtinOrder, ", "))
		}
		enabled[n] = true
	}

	reg := ops.NewRegistry()
	for _, name := range builtinOrder {
		if !enabled[name] {
			continue
		}
		if err := reg.Register(builtins[name]()); err != nil {
			return nil, err
		}
	}
	return reg.Freeze()
}

// coreExtension is plumbing every session gets: echo for smoke tests,
// instance for log correlation, fail for exercising rejection records.
func coreExtension() ops.Extension {
	return ops.Extension{
		Name:    "core",
		Version: *semver.New("1.2.0"),
		Ops: []ops.Decl{
			ops.Sync("core", "echo", func(_ *ops.State, _ scriptruntime.Scope, args ops.Args) ops.Result {
				v, err := args.Any(0)
				if err != nil {
					return ops.NewError(err)
				}
				return ops.NewValue(v, nil)
			}),
			ops.Sync("core", "instance", func(st *ops.State, _ scriptruntime.Scope, _ ops.Args) ops.Result {
				return ops.NewValue(st.InstanceID(), nil)
			}),
			ops.Sync("core", "fail", func(_ *ops.State, _ scriptruntime.Scope, args ops.Args) ops.Result {
				msg, err := args.String(0)
				if err != nil {
					msg = "requested failure"
				}
				return ops.NewError(errors.New(errors.PhaseRuntime, errors.KindOther).
					Op("core#fail").
					Detail("%s", msg).
					Build())
			}),
		},
	}
}

func clockExtension() ops.Extension {
	return ops.Extension{
		Name:    "clock",
		Version: *semver.New("1.0.0"),
		Ops: []ops.Decl{
			ops.Sync("clock", "now", func(_ *ops.State, _ scriptruntime.Scope, _ ops.Args) ops.Result {
				return ops.NewValue(time.Now().UnixMilli(), nil)
			}),
			ops.Async("clock", "sleep", func(ctx context.Context, _ *ops.State, args ops.Args) ops.Result {
				ms, err := args.Int(0)
				if err != nil {
					return ops.NewError(err)
				}
				select {
				case <-time.After(time.Duration(ms) * time.Millisecond):
					return ops.NewValue(ms, nil)
				case <-ctx.Done():
					return ops.NewError(errors.Interrupted("clock#sleep", ctx.Err()))
				}
			}),
		},
	}
}

// kvStore is the console's demo resource: an in-memory string map addressed
// by resource id.
type kvStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *kvStore) Name() string { return "kvStore" }

func (s *kvStore) Close() {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
}

// kvExtension exposes the store lifecycle: open yields an id, put/get/del
// run asynchronously against it, close releases it. Pending calls hold the
// store open until they finish; put is deferred, so bulk writes deliver in
// batches.
func kvExtension() ops.Extension {
	open := ops.Sync("kv", "open", func(st *ops.State, _ scriptruntime.Scope, _ ops.Args) ops.Result {
		id := st.Resources().Add(&kvStore{data: make(map[string]string)})
		return ops.NewValue(id, nil)
	})

	put := ops.AsyncDeferred("kv", "put", func(_ context.Context, st *ops.State, args ops.Args) ops.Result {
		rid, err := args.ResourceID(0)
		if err != nil {
			return ops.NewError(err)
		}
		key, err := args.String(1)
		if err != nil {
			return ops.NewError(err)
		}
		val, err := args.String(2)
		if err != nil {
			return ops.NewError(err)
		}
		ref, err := resource.Get[*kvStore](st.Resources(), rid)
		if err != nil {
			return ops.NewError(err)
		}
		defer ref.Release()
		s := ref.Get()
		s.mu.Lock()
		s.data[key] = val
		s.mu.Unlock()
		return ops.Void()
	})
	put.ResourceArg = 1

	get := ops.Async("kv", "get", func(_ context.Context, st *ops.State, args ops.Args) ops.Result {
		rid, err := args.ResourceID(0)
		if err != nil {
			return ops.NewError(err)
		}
		key, err := args.String(1)
		if err != nil {
			return ops.NewError(err)
		}
		ref, err := resource.Get[*kvStore](st.Resources(), rid)
		if err != nil {
			return ops.NewError(err)
		}
		defer ref.Release()
		s := ref.Get()
		s.mu.Lock()
		val, ok := s.data[key]
		s.mu.Unlock()
		if !ok {
			return ops.NewError(errors.NotFound(errors.PhaseRuntime, "key", key))
		}
		return ops.NewValue(val, nil)
	})
	get.ResourceArg = 1

	del := ops.Async("kv", "del", func(_ context.Context, st *ops.State, args ops.Args) ops.Result {
		rid, err := args.ResourceID(0)
		if err != nil {
			return ops.NewError(err)
		}
		key, err := args.String(1)
		if err != nil {
			return ops.NewError(err)
		}
		ref, err := resource.Get[*kvStore](st.Resources(), rid)
		if err != nil {
			return ops.NewError(err)
		}
		defer ref.Release()
		s := ref.Get()
		s.mu.Lock()
		_, existed := s.data[key]
		delete(s.data, key)
		s.mu.Unlock()
		return ops.NewValue(existed, nil)
	})
	del.ResourceArg = 1

	size := ops.Sync("kv", "len", func(st *ops.State, _ scriptruntime.Scope, args ops.Args) ops.Result {
		rid, err := args.ResourceID(0)
		if err != nil {
			return ops.NewError(err)
		}
		ref, err := resource.Get[*kvStore](st.Resources(), rid)
		if err != nil {
			return ops.NewError(err)
		}
		defer ref.Release()
		s := ref.Get()
		s.mu.Lock()
		n := len(s.data)
		s.mu.Unlock()
		return ops.NewValue(n, nil)
	})
	size.ResourceArg = 1

	closeOp := ops.Sync("kv", "close", func(st *ops.State, _ scriptruntime.Scope, args ops.Args) ops.Result {
		rid, err := args.ResourceID(0)
		if err != nil {
			return ops.NewError(err)
		}
		ref, err := resource.Take[*kvStore](st.Resources(), rid)
		if err != nil {
			return ops.NewError(err)
		}
		ref.Release()
		return ops.Void()
	})
	closeOp.ResourceArg = 1

	return ops.Extension{
		Name:     "kv",
		Version:  *semver.New("0.3.0"),
		Requires: []ops.Requirement{{Extension: "core", Min: *semver.New("1.0.0")}},
		Ops:      []ops.Decl{open, put, get, del, size, closeOp},
	}
}

// randPool is the rand extension's state singleton, installed through
// InitState and fetched back out of the type-map by its ops.
type randPool struct {
	mu sync.Mutex
	r  *rand.Rand
}

func randExtension() ops.Extension {
	return ops.Extension{
		Name:    "rand",
		Version: *semver.New("1.0.0"),
		InitState: func(st *ops.State) error {
			ops.Put(st, &randPool{r: rand.New(rand.NewSource(time.Now().UnixNano()))})
			return nil
		},
		Ops: []ops.Decl{
			ops.Sync("rand", "int", func(st *ops.State, _ scriptruntime.Scope, args ops.Args) ops.Result {
				max, err := args.Int(0)
				if err != nil {
					return ops.NewError(err)
				}
				if max <= 0 {
					return ops.NewError(errors.InvalidInput(errors.PhaseRuntime, "max must be positive"))
				}
				p := ops.MustGet[*randPool](st)
				p.mu.Lock()
				n := p.r.Int63n(max)
				p.mu.Unlock()
				return ops.NewValue(n, nil)
			}),
			ops.Async("rand", "hex", func(_ context.Context, st *ops.State, args ops.Args) ops.Result {
				n, err := args.Int(0)
				if err != nil {
					return ops.NewError(err)
				}
				if n <= 0 || n > 1<<20 {
					return ops.NewError(errors.InvalidInput(errors.PhaseRuntime, "byte count out of range"))
				}
				buf := make([]byte, n)
				p := ops.MustGet[*randPool](st)
				p.mu.Lock()
				p.r.Read(buf)
				p.mu.Unlock()
				return ops.NewValue(hex.EncodeToString(buf), nil)
			}),
		},
	}
}
