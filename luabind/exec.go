package luabind

import (
	"context"
	"time"

	"github.com/wippyai/script-runtime/errors"
	lua "github.com/yuin/gopher-lua"
)

// Serve backs off between empty ticks while idle, and snaps back to the
// floor the moment work appears.
const (
	minIdleWait = 100 * time.Microsecond
	maxIdleWait = 5 * time.Millisecond
)

// task is one unit of work marshalled onto the interpreter goroutine. The
// interpreter is not goroutine-safe; the queue is how everyone else
// reaches it.
type task struct {
	ctx    context.Context
	fn     func(*lua.LState) error
	result chan error
}

// Serve owns the interpreter on the calling goroutine: it runs queued
// tasks and keeps ticking the op driver between them, so async
// completions settle even while no script is executing. Returns nil after
// Close, or the context's error on cancellation.
func (b *Binding) Serve(ctx context.Context) error {
	interval := minIdleWait
	for {
		if b.driver.Tick(b, b) > 0 {
			interval = minIdleWait
		}

		select {
		case <-ctx.Done():
			b.drainTasks(errors.Interrupted("serve", ctx.Err()))
			return ctx.Err()
		case <-b.done:
			b.drainTasks(errors.Unavailable(errors.PhaseBind, "binding"))
			return nil
		case t := <-b.queue:
			b.runTask(t)
			interval = minIdleWait
		case <-time.After(interval):
			interval *= 2
			if interval > maxIdleWait {
				interval = maxIdleWait
			}
		}
	}
}

// runTask executes one task with its context installed and panics
// contained.
func (b *Binding) runTask(t *task) {
	prev := b.runCtx
	b.runCtx = t.ctx
	err := b.safeCall(t.fn)
	b.runCtx = prev

	select {
	case t.result <- err:
	default:
	}
	close(t.result)
}

func (b *Binding) safeCall(fn func(*lua.LState) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New(errors.PhaseBind, errors.KindOther).
				Detail("lua panic: %v", rec).
				Build()
		}
	}()
	return fn(b.L)
}

// drainTasks fails queued work that will never run.
func (b *Binding) drainTasks(cause error) {
	for {
		select {
		case t := <-b.queue:
			select {
			case t.result <- cause:
			default:
			}
			close(t.result)
		default:
			return
		}
	}
}

// Execute marshals fn onto the interpreter goroutine and waits for it.
// Requires a running Serve. Safe to call from any goroutine.
func (b *Binding) Execute(ctx context.Context, fn func(*lua.LState) error) error {
	if b.closed.Load() {
		return errors.Unavailable(errors.PhaseBind, "binding")
	}

	t := &task{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return errors.Interrupted("execute", ctx.Err())
	case <-b.done:
		return errors.Unavailable(errors.PhaseBind, "binding")
	case b.queue <- t:
	}

	select {
	case <-ctx.Done():
		return errors.Interrupted("execute", ctx.Err())
	case err, ok := <-t.result:
		if !ok {
			return errors.Unavailable(errors.PhaseBind, "binding")
		}
		return err
	}
}

// ExecuteScript runs src through the task queue: Run, callable from any
// goroutine.
func (b *Binding) ExecuteScript(ctx context.Context, src string) error {
	return b.Execute(ctx, func(*lua.LState) error {
		return b.runScript(ctx, src)
	})
}
