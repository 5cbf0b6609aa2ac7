package main

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	scriptruntime "github.com/wippyai/script-runtime"
	"github.com/wippyai/script-runtime/errors"
	"github.com/wippyai/script-runtime/ops"
)

// callTimeout bounds one dispatched op. Long sleeps time out rather than
// wedging the console.
const callTimeout = 30 * time.Second

// Settlement polling backs off while an async op runs, same floors as the
// driver's drain.
const (
	minWait = 100 * time.Microsecond
	maxWait = 5 * time.Millisecond
)

// shell owns one driver and dispatches ops typed at the prompt. It is its
// own scope: values stay plain Go values until the result record marshals
// them, and errors pass through intact so records can name their canonical
// class.
//
// All calls run on whichever goroutine invoked them, one at a time; both
// console frontends enforce that.
type shell struct {
	driver      *ops.Driver
	nextPromise scriptruntime.PromiseID
	settled     map[scriptruntime.PromiseID]settlement
}

type settlement struct {
	value    scriptruntime.Value
	rejected bool
}

func newShell(cfg Config, cat *ops.Catalog) (*shell, error) {
	d, err := ops.NewDriver(ops.Config{
		Catalog:       cat,
		ArenaCapacity: cfg.ArenaCapacity,
		DeferredBatch: cfg.DeferredBatch,
	})
	if err != nil {
		return nil, err
	}
	return &shell{
		driver:      d,
		nextPromise: 1,
		settled:     make(map[scriptruntime.PromiseID]settlement),
	}, nil
}

func (s *shell) WrapValue(v any) (scriptruntime.Value, error) {
	return v, nil
}

func (s *shell) WrapError(err error) scriptruntime.Value {
	return err
}

func (s *shell) Resolve(id scriptruntime.PromiseID, v scriptruntime.Value) {
	s.settled[id] = settlement{value: v}
}

func (s *shell) Reject(id scriptruntime.PromiseID, v scriptruntime.Value) {
	s.settled[id] = settlement{value: v, rejected: true}
}

// call dispatches one op and returns its result record. Async ops are waited
// for, so by the time the record prints the promise has settled.
func (s *shell) call(key, rawArgs string) string {
	start := time.Now()

	ns, name, ok := strings.Cut(key, ":")
	if !ok || ns == "" || name == "" {
		return errorRecord(key, fmt.Errorf("want namespace:name, got %q", key))
	}
	id, found := s.driver.Catalog().Lookup(ns, name)
	if !found {
		return errorRecord(key, fmt.Errorf("unknown op %s:%s (:ops lists them)", ns, name))
	}
	args, err := parseArgs(rawArgs)
	if err != nil {
		return errorRecord(key, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	promise := s.nextPromise
	s.nextPromise++
	out, err := s.driver.Dispatch(ctx, s, promise, id, args)
	if err != nil {
		return errorRecord(key, err)
	}
	if !out.Async {
		return record(key, out.Value, out.Rejected, time.Since(start))
	}

	st, err := s.await(ctx, promise)
	if err != nil {
		return errorRecord(key, err)
	}
	return record(key, st.value, st.rejected, time.Since(start))
}

// await ticks the driver until the promise settles or the context ends.
func (s *shell) await(ctx context.Context, promise scriptruntime.PromiseID) (settlement, error) {
	interval := minWait
	for {
		if st, ok := s.settled[promise]; ok {
			delete(s.settled, promise)
			return st, nil
		}
		if s.driver.Tick(s, s) > 0 {
			interval = minWait
			continue
		}
		select {
		case <-ctx.Done():
			return settlement{}, errors.Interrupted(fmt.Sprintf("promise %d", promise), ctx.Err())
		case <-time.After(interval):
		}
		interval *= 2
		if interval > maxWait {
			interval = maxWait
		}
	}
}

// command handles the colon commands of the line console.
func (s *shell) command(line string) string {
	switch line {
	case ":ops":
		var b strings.Builder
		for _, op := range s.opList() {
			fmt.Fprintf(&b, "  %-24s %s\n", op.key, op.mode)
		}
		return strings.TrimSuffix(b.String(), "\n")
	case ":resources":
		return s.resourcesRecord()
	case ":pending":
		return fmt.Sprintf("%d", s.pendingCount())
	case ":help":
		return strings.Join([]string{
			"  namespace:name [args]   dispatch an op with a JSON argument array",
			"                          e.g. kv:put [1, \"city\", \"berlin\"]",
			"  :ops                    list registered ops",
			"  :resources              live resources as a JSON record",
			"  :pending                in-flight op count",
			"  :quit                   exit",
		}, "\n")
	default:
		return fmt.Sprintf("unknown command %s (:help lists them)", line)
	}
}

// opInfo is one catalog entry in prompt form.
type opInfo struct {
	key  string // namespace:name as typed at the prompt
	mode string // sync, async, or async deferred
}

func (s *shell) opList() []opInfo {
	var list []opInfo
	s.driver.Catalog().Each(func(_ scriptruntime.OpID, d *ops.Decl) bool {
		mode := "sync"
		if d.IsAsync() {
			mode = "async"
			if d.Deferred {
				mode = "async deferred"
			}
		}
		list = append(list, opInfo{key: d.Namespace + ":" + d.Name, mode: mode})
		return true
	})
	sort.Slice(list, func(i, j int) bool { return list[i].key < list[j].key })
	return list
}

func (s *shell) resourcesRecord() string {
	names := s.driver.State().Resources().Names()
	open := make(map[string]string, len(names))
	for id, name := range names {
		open[fmt.Sprintf("%d", id)] = name
	}
	rec, _ := sjson.Set("", "count", len(names))
	rec, _ = sjson.Set(rec, "open", open)
	return rec
}

func (s *shell) pendingCount() int {
	return s.driver.PendingCount()
}

func (s *shell) resourceCount() int {
	return s.driver.State().Resources().Len()
}

func (s *shell) instanceID() string {
	return s.driver.State().InstanceID()
}

// close releases everything the session left open and reports it.
func (s *shell) close() error {
	err := s.driver.State().CheckLeaks()
	s.driver.State().Clear()
	return err
}

// parseArgs turns the prompt's argument text into dispatch args. A JSON
// array spreads into one argument per element; a single JSON value becomes
// the only argument; empty means no arguments.
func parseArgs(raw string) (ops.Args, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("arguments are not valid JSON: %s", raw)
	}
	v := gjson.Parse(raw)
	if v.IsArray() {
		elems := v.Array()
		args := make(ops.Args, 0, len(elems))
		for _, el := range elems {
			args = append(args, jsonValue(el))
		}
		return args, nil
	}
	return ops.Args{jsonValue(v)}, nil
}

// jsonValue converts one parsed JSON value into the Go shape op handlers
// expect. Integral numbers arrive as int64 so ids and counts dispatch
// without coercion.
func jsonValue(r gjson.Result) any {
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.String:
		return r.String()
	case gjson.Number:
		f := r.Float()
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	default:
		return r.Value()
	}
}

// record renders one settled call as a JSON line.
func record(key string, v scriptruntime.Value, rejected bool, elapsed time.Duration) string {
	rec, _ := sjson.Set("", "op", key)
	if rejected {
		rec, _ = sjson.Set(rec, "status", "rejected")
		rec = setErrorFields(rec, v)
	} else {
		rec, _ = sjson.Set(rec, "status", "resolved")
		rec, _ = sjson.Set(rec, "value", v)
	}
	rec, _ = sjson.Set(rec, "elapsed", elapsed.Round(time.Microsecond).String())
	return rec
}

// errorRecord renders a call that never dispatched: bad key, bad arguments,
// or a dispatch-level failure.
func errorRecord(key string, err error) string {
	rec, _ := sjson.Set("", "op", key)
	rec, _ = sjson.Set(rec, "status", "error")
	rec = setErrorFields(rec, err)
	return rec
}

func setErrorFields(rec string, v any) string {
	err, ok := v.(error)
	if !ok {
		rec, _ = sjson.Set(rec, "error.message", fmt.Sprintf("%v", v))
		return rec
	}
	rec, _ = sjson.Set(rec, "error.kind", string(errors.Canonical(err)))
	rec, _ = sjson.Set(rec, "error.message", err.Error())
	return rec
}
