package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/dcshock/trypipe/failure"
)

// builtins are resolved after the environment's own functions.
var builtins = Funcs{
	"fail":  builtinFail,
	"raise": builtinRaise,
	"list":  builtinList,
	"len":   builtinLen,
	"ok":    builtinOK,
	"sleep": builtinSleep,
	"now":   builtinNow,
}

// Builtins returns a copy of the functions every run can call:
//
//	fail(msg)          fails with a Message failure
//	raise(type, msg)   fails with a named failure
//	list(a, b, ...)    returns its arguments as a list
//	len(x)             length of a list, string or map
//	ok(x)              returns x
//	sleep(ms)          waits, returning early when the run is cancelled
//	now()              current UTC time, RFC 3339
func Builtins() Funcs {
	out := make(Funcs, len(builtins))
	for k, v := range builtins {
		out[k] = v
	}
	return out
}

func builtinFail(_ context.Context, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, failure.Msg("failed")
	}
	return nil, failure.Msg(fmt.Sprint(args[0]))
}

func builtinRaise(_ context.Context, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, failure.Errorf("raise: missing type name")
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, failure.Errorf("raise: type name is %T, not string", args[0])
	}
	text := name
	if len(args) > 1 {
		text = fmt.Sprint(args[1])
	}
	return nil, failure.Raise(name, text)
}

func builtinList(_ context.Context, args ...any) (any, error) {
	return append([]any{}, args...), nil
}

func builtinLen(_ context.Context, args ...any) (any, error) {
	if len(args) != 1 {
		return nil, failure.Errorf("len: want 1 argument, got %d", len(args))
	}
	if args[0] == nil {
		return int64(0), nil
	}
	rv := reflect.ValueOf(args[0])
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.String, reflect.Map:
		return int64(rv.Len()), nil
	}
	return nil, failure.Errorf("len: unsupported %T", args[0])
}

func builtinOK(_ context.Context, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}

func builtinSleep(ctx context.Context, args ...any) (any, error) {
	if len(args) != 1 {
		return nil, failure.Errorf("sleep: want 1 argument, got %d", len(args))
	}
	ms, ok := number(args[0])
	if !ok {
		return nil, failure.Errorf("sleep: milliseconds is %T, not a number", args[0])
	}
	return nil, sleep(ctx, time.Duration(ms*float64(time.Millisecond)))
}

func builtinNow(context.Context, ...any) (any, error) {
	return time.Now().UTC().Format(time.RFC3339Nano), nil
}
