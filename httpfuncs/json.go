package httpfuncs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dcshock/trypipe/pipeline"
)

// DecodeError is returned when a body is not valid JSON.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string    { return "decode json: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error    { return e.Err }
func (e *DecodeError) ErrorTag() string { return "DecodeJSON" }

// DecodeJSON returns a function that decodes its single string argument as
// JSON. Objects become map[string]any, arrays []any, and integral numbers
// int64 so they compare with pipeline integer literals.
func DecodeJSON() pipeline.Func {
	return func(ctx context.Context, args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("decode json: want 1 argument, got %d", len(args))
		}
		var raw []byte
		switch v := args[0].(type) {
		case string:
			raw = []byte(v)
		case []byte:
			raw = v
		default:
			return nil, fmt.Errorf("decode json: input must be a string, got %T", args[0])
		}
		return decode(raw)
	}
}

// GetJSON returns a function that GETs its URL argument and decodes the body
// like DecodeJSON.
func GetJSON(client *http.Client) pipeline.Func {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("http get json: want 1 argument, got %d", len(args))
		}
		url, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("http get json: url must be a string, got %T", args[0])
		}
		body, err := get(ctx, client, url)
		if err != nil {
			return nil, err
		}
		return decode(body)
	}
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &DecodeError{Err: errors.New("trailing data after value")}
	}
	return numbers(out), nil
}

// numbers replaces json.Number values with int64 or float64.
func numbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = numbers(e)
		}
	case []any:
		for i, e := range x {
			x[i] = numbers(e)
		}
	}
	return v
}
