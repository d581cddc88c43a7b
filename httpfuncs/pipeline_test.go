package httpfuncs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/pipeline"
)

func newEnv(ts *httptest.Server) *pipeline.Env {
	types := failure.NewTypes()
	RegisterTypes(types)
	return &pipeline.Env{
		Funcs: Funcs(ts.Client()),
		Vars:  map[string]any{"url": ts.URL},
		Types: types,
	}
}

func TestPipeline_GetJSONThen(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","version":3}`))
	}))
	defer ts.Close()

	p, err := pipeline.Load("check.pipe", `try { http.get_json(url) } then |m| { m.version + 1 }`, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Run(context.Background(), newEnv(ts), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != int64(4) {
		t.Errorf("got %v", out)
	}
}

func TestPipeline_CatchStatusWithGuard(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	src := `try { http.get(url) } with "fetching"
catch HTTPStatus(e) when e.status == 500 { "server" }
catch HTTPStatus(e) when e.status == 404 { "missing" }`
	p, err := pipeline.Load("check.pipe", src, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Run(context.Background(), newEnv(ts), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "missing" {
		t.Errorf("got %v", out)
	}
}

func TestPipeline_RetriesServerErrors(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`"up"`))
	}))
	defer ts.Close()

	p, err := pipeline.Load("check.pipe", `try while attempt < 5 { http.get_json(url) }`, nil)
	if err != nil {
		t.Fatal(err)
	}
	policy := &pipeline.RetryPolicy{ShouldRetry: pipeline.IsRetryable}
	out, err := p.Run(context.Background(), newEnv(ts), &pipeline.RunOptions{Retry: policy})
	if err != nil {
		t.Fatal(err)
	}
	if out != "up" || calls != 3 {
		t.Errorf("got %v after %d calls", out, calls)
	}
}
