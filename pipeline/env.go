package pipeline

import (
	"context"

	"github.com/dcshock/trypipe/failure"
)

// Func is a host function callable from pipeline bodies. Integer literals arrive
// as int64 and floats as float64. A returned error becomes a runtime failure;
// returning ErrBreak or ErrContinue signals the enclosing loop instead.
type Func func(ctx context.Context, args ...any) (any, error)

// Resolver looks up functions by the (possibly dotted) name used in a call.
type Resolver interface {
	Lookup(name string) (Func, bool)
}

// Funcs is a Resolver backed by a map.
type Funcs map[string]Func

func (f Funcs) Lookup(name string) (Func, bool) {
	fn, ok := f[name]
	return fn, ok
}

// chainResolver consults each resolver in order.
type chainResolver []Resolver

func (c chainResolver) Lookup(name string) (Func, bool) {
	for _, r := range c {
		if fn, ok := r.Lookup(name); ok {
			return fn, true
		}
	}
	return nil, false
}

// Env is what a run can see: host functions, top-level variables and the type
// table used to classify failures. Builtins are always available after Funcs.
type Env struct {
	Funcs Resolver
	Vars  map[string]any
	Types *failure.Types
}

// scope is one lexical level of variable bindings.
type scope struct {
	vars   map[string]any
	parent *scope
	async  bool
}

func (s *scope) lookup(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// with returns a child scope binding name to v. Binding "_" or "" is a no-op
// child so handler bodies never leak names into the caller.
func (s *scope) with(name string, v any) *scope {
	child := &scope{parent: s, async: s.async}
	if name != "" && name != "_" {
		child.vars = map[string]any{name: v}
	}
	return child
}
