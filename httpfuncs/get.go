package httpfuncs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dcshock/trypipe/pipeline"
)

// maxBody bounds how much of a response body is read.
const maxBody = 10 << 20

// StatusError is returned for a non-2xx response.
type StatusError struct {
	URL    string
	Status int
	Body   string // at most the first 512 bytes
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http get %q: status %d", e.URL, e.Status)
}

func (e *StatusError) ErrorTag() string { return "HTTPStatus" }

// Field exposes status, url and body to guard expressions.
func (e *StatusError) Field(name string) (any, bool) {
	switch name {
	case "status":
		return int64(e.Status), true
	case "url":
		return e.URL, true
	case "body":
		return e.Body, true
	}
	return nil, false
}

// Temporary reports whether a retry may succeed.
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Get returns a function that performs an HTTP GET of its single URL argument
// and returns the response body as a string. The run context is used for the
// request (timeout and cancellation). If client is nil, http.DefaultClient is used.
func Get(client *http.Client) pipeline.Func {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("http get: want 1 argument, got %d", len(args))
		}
		url, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("http get: url must be a string, got %T", args[0])
		}
		body, err := get(ctx, client, url)
		if err != nil {
			return nil, err
		}
		return string(body), nil
	}
}

func get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("http get: new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("http get %q: %w", url, err)
		}
		return nil, pipeline.RetryableErr(fmt.Errorf("http get %q: %w", url, err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, pipeline.RetryableErr(fmt.Errorf("http get %q: read body: %w", url, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{URL: url, Status: resp.StatusCode, Body: string(body[:min(len(body), 512)])}
		if se.Temporary() {
			return nil, pipeline.RetryableErr(se)
		}
		return nil, se
	}
	return body, nil
}
