package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcshock/trypipe/failure"
)

func TestExponentialBackoff_DelayIncreases(t *testing.T) {
	b := ExponentialBackoff{Initial: 10 * time.Millisecond, Multiplier: 2}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond}
	for attempt, w := range want {
		if got := b.Delay(attempt); got != w {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, w)
		}
	}
}

func TestExponentialBackoff_Cap(t *testing.T) {
	b := ExponentialBackoff{Initial: time.Second, Multiplier: 10, Cap: 5 * time.Second}
	if got := b.Delay(3); got != 5*time.Second {
		t.Errorf("got %v, want cap 5s", got)
	}
	if got := (ExponentialBackoff{Initial: time.Millisecond}).Delay(2); got != 4*time.Millisecond {
		t.Errorf("default multiplier: got %v, want 4ms", got)
	}
	if got := b.Delay(10_000); got != 5*time.Second {
		t.Errorf("huge attempt: got %v", got)
	}
}

func TestRetryable(t *testing.T) {
	base := errors.New("transient")
	err := RetryableErr(base)
	if !IsRetryable(err) {
		t.Error("expected retryable")
	}
	if !errors.Is(err, base) {
		t.Error("Retryable must unwrap")
	}
	if IsRetryable(base) {
		t.Error("plain error is not retryable")
	}
	if !IsRetryable(failure.Wrap(fmt.Errorf("call: %w", err))) {
		t.Error("retryable mark must survive wrapping into a failure")
	}
}

// flaky fails until it has been called succeedOn+1 times.
type flaky struct {
	calls     int
	succeedOn int
	err       error
}

func (f *flaky) call(_ context.Context, _ ...any) (any, error) {
	defer func() { f.calls++ }()
	if f.succeedOn >= 0 && f.calls >= f.succeedOn {
		return fmt.Sprintf("ok on %d", f.calls), nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return nil, failure.Errorf("attempt %d failed", f.calls)
}

func runWhile(t *testing.T, src string, fl *flaky, opts *RunOptions) (any, error) {
	t.Helper()
	p := mustLoad(t, src)
	return p.Run(context.Background(), &Env{Funcs: Funcs{"flaky": fl.call}}, opts)
}

func TestTryWhile_RetriesUntilSuccess(t *testing.T) {
	fl := &flaky{succeedOn: 2}
	v, err := runWhile(t, `try while attempt < 5 { flaky(attempt) }`, fl, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok on 2", v)
	assert.Equal(t, 3, fl.calls)
}

func TestTryWhile_ConditionFalse(t *testing.T) {
	fl := &flaky{succeedOn: -1}
	_, err := runWhile(t, `try while attempt < 2 { flaky() }`, fl, nil)
	require.Error(t, err)
	assert.Equal(t, "attempt 1 failed", err.Error(), "the last attempt's failure is returned")
	assert.Equal(t, 2, fl.calls)
}

func TestTryWhile_BodyRunsOnce(t *testing.T) {
	fl := &flaky{succeedOn: -1}
	_, err := runWhile(t, `try while false { flaky() }`, fl, nil)
	require.Error(t, err)
	assert.Equal(t, 1, fl.calls)
}

func TestTryWhile_MaxAttempts(t *testing.T) {
	fl := &flaky{succeedOn: -1}
	_, err := runWhile(t, `try while true { flaky() }`, fl, &RunOptions{Retry: &RetryPolicy{MaxAttempts: 3}})
	require.Error(t, err)
	assert.Equal(t, 3, fl.calls)
}

func TestTryWhile_ShouldRetry(t *testing.T) {
	fl := &flaky{succeedOn: -1, err: errors.New("permanent")}
	policy := &RetryPolicy{MaxAttempts: 10, ShouldRetry: IsRetryable}
	_, err := runWhile(t, `try while true { flaky() }`, fl, &RunOptions{Retry: policy})
	require.Error(t, err)
	assert.Equal(t, 1, fl.calls)

	fl = &flaky{succeedOn: 3, err: RetryableErr(errors.New("transient"))}
	v, err := runWhile(t, `try while true { flaky() }`, fl, &RunOptions{Retry: policy})
	require.NoError(t, err)
	assert.Equal(t, "ok on 3", v)
}

func TestTryWhile_TerminalCatchStops(t *testing.T) {
	fl := &flaky{succeedOn: -1}
	v, err := runWhile(t, `try while true { flaky() } catch e { "gave up after " + e.message }`, fl, nil)
	require.NoError(t, err)
	assert.Equal(t, "gave up after attempt 0 failed", v)
	assert.Equal(t, 1, fl.calls)
}

func TestTryWhile_EachAttemptWalksChain(t *testing.T) {
	fl := &flaky{succeedOn: 2}
	var seen []any
	p := mustLoad(t, `try while true { flaky() } inspect e { seen(attempt, e.message) } throw e { "wrapped" }`)
	env := &Env{Funcs: Funcs{
		"flaky": fl.call,
		"seen": func(_ context.Context, args ...any) (any, error) {
			seen = append(seen, fmt.Sprint(args...))
			return nil, nil
		},
	}}
	v, err := p.Run(context.Background(), env, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok on 2", v)
	assert.Equal(t, []any{"0attempt 0 failed", "1attempt 1 failed"}, seen)
}

func TestTryWhile_Backoff(t *testing.T) {
	fl := &flaky{succeedOn: 2}
	policy := &RetryPolicy{Backoff: FixedBackoff(5 * time.Millisecond)}
	start := time.Now()
	_, err := runWhile(t, `try while true { flaky() }`, fl, &RunOptions{Retry: policy})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestTryWhile_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	fl := &flaky{succeedOn: -1}
	p := mustLoad(t, `try while true { flaky() }`)
	_, err := p.Run(ctx, &Env{Funcs: Funcs{"flaky": fl.call}}, &RunOptions{Retry: &RetryPolicy{Backoff: FixedBackoff(time.Hour)}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, fl.calls)

	var f *failure.Value
	require.ErrorAs(t, err, &f)
	require.Len(t, f.Causes(), 1)
	assert.Equal(t, "attempt 0 failed", f.Causes()[0].Message())
}
