package pipeline

import (
	"context"
	"time"
)

// Future is a value that resolves later. A host function may return a Future
// from an async pipeline; the engine awaits it at the call site, so handler
// stages only ever see a resolved outcome.
type Future interface {
	Await(ctx context.Context) (any, error)
}

type future struct {
	done chan struct{}
	val  any
	err  error
}

func (f *future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Go starts fn in a goroutine and returns its Future. fn receives ctx and
// should return once ctx is done.
func Go(ctx context.Context, fn func(ctx context.Context) (any, error)) Future {
	f := &future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.val, f.err = fn(ctx)
	}()
	return f
}

// Resolved returns a Future that is already complete.
func Resolved(v any, err error) Future {
	f := &future{done: make(chan struct{}), val: v, err: err}
	close(f.done)
	return f
}

// WithTimeout wraps inner so it runs with a context deadline of now+timeout.
// A Future returned by inner is awaited under the same deadline. If inner does
// not finish before the deadline, context.DeadlineExceeded is returned.
func WithTimeout(inner Func, timeout time.Duration) Func {
	return func(ctx context.Context, args ...any) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		v, err := inner(ctx, args...)
		if err != nil {
			return nil, err
		}
		if fut, ok := v.(Future); ok {
			return fut.Await(ctx)
		}
		return v, nil
	}
}
