package config

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dcshock/trypipe/pipeline"
)

// Registry maps function names to pipeline functions. Safe for concurrent use.
// A Registry is a pipeline.Resolver, so it can be used directly as Env.Funcs.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]pipeline.Func
}

// NewRegistry returns an empty function registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]pipeline.Func)}
}

// Register adds a function under the given name. Dotted names such as
// "http.get" are allowed. Overwrites any existing registration.
func (r *Registry) Register(name string, fn pipeline.Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs == nil {
		r.funcs = make(map[string]pipeline.Func)
	}
	r.funcs[name] = fn
}

// RegisterAll adds every function of funcs, e.g. pipeline.Builtins().
func (r *Registry) RegisterAll(funcs pipeline.Funcs) {
	for name, fn := range funcs {
		r.Register(name, fn)
	}
}

// Get returns the function for name, or nil and false if not found.
func (r *Registry) Get(name string) (pipeline.Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Lookup implements pipeline.Resolver.
func (r *Registry) Lookup(name string) (pipeline.Func, bool) { return r.Get(name) }

// MustGet returns the function for name, or panics if not found.
func (r *Registry) MustGet(name string) pipeline.Func {
	fn, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("config: function %q not registered", name))
	}
	return fn
}

// Names returns all registered function names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// timeoutResolver bounds selected functions of an underlying resolver.
type timeoutResolver struct {
	base     pipeline.Resolver
	timeouts map[string]time.Duration
}

func (t timeoutResolver) Lookup(name string) (pipeline.Func, bool) {
	fn, ok := t.base.Lookup(name)
	if !ok {
		return nil, false
	}
	if d := t.timeouts[name]; d > 0 {
		fn = pipeline.WithTimeout(fn, d)
	}
	return fn, true
}
