package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/pipeline"
)

func TestAsync_AwaitsFutures(t *testing.T) {
	defer goleak.VerifyNone(t)

	env := &pipeline.Env{Funcs: pipeline.Funcs{
		"fetch": pipeline.Async(func(ctx context.Context, args ...any) (any, error) {
			time.Sleep(5 * time.Millisecond)
			return "data", nil
		}),
	}}
	v, err := run(t, `async try { fetch() } then |d| { d + "!" }`, env)
	require.NoError(t, err)
	assert.Equal(t, "data!", v)
}

func TestAsync_FailureReachesHandlers(t *testing.T) {
	defer goleak.VerifyNone(t)

	env := &pipeline.Env{Funcs: pipeline.Funcs{
		"fetch": pipeline.Async(pipeline.Fail(errors.New("down"))),
	}}
	v, err := run(t, `async try { fetch() } with "fetching" catch e { "fallback after " + e.message }`, env)
	require.NoError(t, err)
	assert.Equal(t, "fallback after down", v)

	_, err = run(t, `async try { fetch() } with "fetching"`, env)
	f := asFailure(t, err)
	assert.Equal(t, []string{"fetching"}, messages(f.Frames()))
}

func TestAsync_HandlerBodiesAwait(t *testing.T) {
	defer goleak.VerifyNone(t)

	env := &pipeline.Env{Funcs: pipeline.Funcs{
		"fetch":    pipeline.Async(pipeline.Fail(errors.New("down"))),
		"fallback": pipeline.Async(pipeline.Constant("cached")),
	}}
	v, err := run(t, `async try { fetch() } catch e { fallback() }`, env)
	require.NoError(t, err)
	assert.Equal(t, "cached", v)
}

func TestSync_DoesNotAwait(t *testing.T) {
	defer goleak.VerifyNone(t)

	env := &pipeline.Env{Funcs: pipeline.Funcs{"fetch": pipeline.Constant(pipeline.Resolved("data", nil))}}
	v, err := run(t, `try { fetch() }`, env)
	require.NoError(t, err)
	_, isFuture := v.(pipeline.Future)
	assert.True(t, isFuture, "a sync pipeline returns the future as a value")
}

func TestAsync_CancelledWhileAwaiting(t *testing.T) {
	defer goleak.VerifyNone(t)

	prog, err := pipeline.Load("test.pipe", `async try { slow() } finally { done() }`, nil)
	require.NoError(t, err)

	finallyRan := false
	env := &pipeline.Env{Funcs: pipeline.Funcs{
		"slow": pipeline.Async(func(ctx context.Context, _ ...any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		"done": func(ctx context.Context, _ ...any) (any, error) {
			finallyRan = ctx.Err() == nil
			return nil, nil
		},
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = prog.Run(ctx, env, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, finallyRan, "finally runs with a live context")
}

func TestWithTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	slow := func(ctx context.Context, _ ...any) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return "late", nil
		}
	}
	env := &pipeline.Env{Funcs: pipeline.Funcs{
		"slow":       pipeline.WithTimeout(slow, 10*time.Millisecond),
		"slowFuture": pipeline.WithTimeout(pipeline.Async(slow), 10*time.Millisecond),
		"quick":      pipeline.WithTimeout(pipeline.Constant("fast"), time.Second),
	}}

	_, err := run(t, `try { slow() }`, env)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = run(t, `async try { slowFuture() }`, env)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	v, err := run(t, `try { quick() }`, env)
	require.NoError(t, err)
	assert.Equal(t, "fast", v)
}

func TestGoAndResolved(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	fut := pipeline.Go(ctx, func(context.Context) (any, error) { return 1, nil })
	v, err := fut.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = pipeline.Resolved(nil, failure.Msg("x")).Await(ctx)
	assert.Nil(t, v)
	assert.EqualError(t, err, "x")

	block := make(chan struct{})
	fut = pipeline.Go(ctx, func(context.Context) (any, error) { <-block; return nil, nil })
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = fut.Await(cctx)
	assert.ErrorIs(t, err, context.Canceled)
	close(block)
	_, err = fut.Await(ctx)
	require.NoError(t, err)
}
