package pipeline

import (
	"context"
	"fmt"
)

// ConvertFunc converts value of type A to type B. Used by Unary to build a Func.
type ConvertFunc[A, B any] func(ctx context.Context, a A) (B, error)

// Unary adapts a typed one-argument function to a Func. The argument must be an
// A; integer literals arrive as int64, so use int64 rather than int for them.
func Unary[A, B any](convert ConvertFunc[A, B]) Func {
	return func(ctx context.Context, args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("unary: want 1 argument, got %d", len(args))
		}
		a, ok := args[0].(A)
		if !ok {
			var zero A
			return nil, fmt.Errorf("unary: expected %T, got %T", zero, args[0])
		}
		return convert(ctx, a)
	}
}

// Constant returns a Func that ignores its arguments and always returns value.
// Useful to inject a fixed value in tests.
func Constant(value any) Func {
	return func(context.Context, ...any) (any, error) {
		return value, nil
	}
}

// Fail returns a Func that always fails with err.
func Fail(err error) Func {
	return func(context.Context, ...any) (any, error) {
		return nil, err
	}
}

// Tap returns a Func that calls fn with its arguments (e.g. for logging) and
// returns the first one unchanged.
func Tap(fn func(ctx context.Context, args []any)) Func {
	return func(ctx context.Context, args ...any) (any, error) {
		fn(ctx, args)
		if len(args) == 0 {
			return nil, nil
		}
		return args[0], nil
	}
}

// Async wraps inner so every call runs in its own goroutine and returns a
// Future. In an `async try` the engine awaits it at the call site.
func Async(inner Func) Func {
	return func(ctx context.Context, args ...any) (any, error) {
		return Go(ctx, func(ctx context.Context) (any, error) { return inner(ctx, args...) }), nil
	}
}
