package httpfuncs

import (
	"context"
	"fmt"
	"reflect"

	"github.com/dcshock/trypipe/pipeline"
)

// ExpectationError is returned when Expect's predicate rejects a value.
type ExpectationError struct {
	Err   error
	Value any
}

func (e *ExpectationError) Error() string    { return "expect: " + e.Err.Error() }
func (e *ExpectationError) Unwrap() error    { return e.Err }
func (e *ExpectationError) ErrorTag() string { return "Unexpected" }

// Field exposes the rejected value as e.value.
func (e *ExpectationError) Field(name string) (any, bool) {
	if name == "value" {
		return e.Value, true
	}
	return nil, false
}

// Expect returns a function that runs the predicate on its single argument.
// If the predicate returns an error the call fails with an ExpectationError;
// otherwise the argument is returned unchanged. Use it after GetJSON to verify
// the decoded result (e.g. check a status field or required keys).
func Expect(predicate func(any) error) pipeline.Func {
	if predicate == nil {
		panic("httpfuncs.Expect: predicate must not be nil")
	}
	return func(ctx context.Context, args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expect: want 1 argument, got %d", len(args))
		}
		if err := predicate(args[0]); err != nil {
			return nil, &ExpectationError{Err: err, Value: args[0]}
		}
		return args[0], nil
	}
}

// ExpectEqual returns an Expect function that checks its argument equals
// expected using reflect.DeepEqual.
func ExpectEqual(expected any) pipeline.Func {
	return Expect(func(v any) error {
		if !reflect.DeepEqual(v, expected) {
			return fmt.Errorf("got %v, want %v", v, expected)
		}
		return nil
	})
}
