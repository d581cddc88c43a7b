package httpfuncs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/pipeline"
)

func TestGet(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	out, err := Get(nil)(context.Background(), ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"status":"ok"}` {
		t.Errorf("body: got %q", out)
	}
}

func TestGet_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := Get(nil)(context.Background(), ts.URL)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Status != 404 || se.Body != "gone\n" {
		t.Errorf("unexpected status error: %+v", se)
	}
	if pipeline.IsRetryable(err) {
		t.Error("404 should not be retryable")
	}
	if tag := failure.New(err).Tag(); tag.Name != "HTTPStatus" {
		t.Errorf("tag: got %q", tag.Name)
	}
}

func TestGet_ServerErrorIsRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := Get(nil)(context.Background(), ts.URL)
	if !pipeline.IsRetryable(err) {
		t.Fatalf("503 should be retryable, got %v", err)
	}
	types := failure.NewTypes()
	RegisterTypes(types)
	f := types.Wrap(err)
	if f.Tag().Name != "HTTPStatus" {
		t.Errorf("registered types should see through the retry marker, got %q", f.Tag().Name)
	}
	if status, ok := f.Field("status"); !ok || status != int64(503) {
		t.Errorf("status field: %v %v", status, ok)
	}
}

func TestGet_BadArgs(t *testing.T) {
	get := Get(nil)
	if _, err := get(context.Background()); err == nil {
		t.Error("expected error for missing url")
	}
	if _, err := get(context.Background(), 42); err == nil {
		t.Error("expected error for non-string url")
	}
}

func TestGet_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	_, err := pipeline.WithTimeout(Get(nil), 20*time.Millisecond)(context.Background(), ts.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	types := failure.NewTypes()
	RegisterTypes(types)
	if tag := types.Classify(err); tag.Name != "Timeout" {
		t.Errorf("tag: got %q", tag.Name)
	}
}
