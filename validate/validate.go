// Package validate checks the structure of a parsed pipeline before it runs.
//
// A pipeline is rejected when a stage can never run (it follows a catch-all),
// when an untyped catch is not the last catch, or when a stage matches a type
// that an earlier throw has already ruled out. Parsing guarantees the
// remaining grammar-level rules.
package validate

import (
	"fmt"
	"sort"

	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/syntax"
)

// Options tunes the optional checks. The zero value runs the mandatory rules
// only.
type Options struct {
	// MissingTerminal is the severity reported for pipelines without a
	// catch-all outside direct mode. Direct mode always reports an error.
	MissingTerminal Severity

	// Produces maps a function name to the failure type its result carries
	// when used as a throw body. Unlisted calls have an unknown type.
	Produces map[string]string

	// Types, when set, makes stage patterns naming unregistered types a warning.
	Types *failure.Types
}

// Validated is a pipeline that passed validation. It is the only input the
// execution engine accepts.
type Validated struct {
	pipeline *syntax.Pipeline
	warnings []Diagnostic
}

// Pipeline returns the validated pipeline. Validating it again yields an
// equal Validated.
func (v *Validated) Pipeline() *syntax.Pipeline { return v.pipeline }

// Warnings returns diagnostics below error severity.
func (v *Validated) Warnings() []Diagnostic { return append([]Diagnostic(nil), v.warnings...) }

// Validate runs every rule over p and its nested pipelines. opts may be nil.
// The returned error is an *Error.
func Validate(p *syntax.Pipeline, opts *Options) (*Validated, error) {
	diags := Check(p, opts)
	var errs, warnings []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		} else {
			warnings = append(warnings, d)
		}
	}
	if len(errs) > 0 {
		return nil, &Error{Diagnostics: errs}
	}
	return &Validated{pipeline: p, warnings: warnings}, nil
}

// Check returns every diagnostic for p, ordered by position. It never
// modifies p.
func Check(p *syntax.Pipeline, opts *Options) []Diagnostic {
	if opts == nil {
		opts = &Options{}
	}
	c := &checker{opts: opts}
	c.pipeline(p)
	sort.SliceStable(c.diags, func(i, j int) bool {
		a, b := c.diags[i].Span.Start, c.diags[j].Span.Start
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Col < b.Col
	})
	return c.diags
}

type checker struct {
	opts  *Options
	diags []Diagnostic
}

func (c *checker) report(sev Severity, span syntax.Span, code Code, format string, args ...any) {
	if sev == SeverityOff {
		return
	}
	c.diags = append(c.diags, Diagnostic{Severity: sev, Span: span, Message: fmt.Sprintf(format, args...), Code: code})
}

func (c *checker) pipeline(p *syntax.Pipeline) {
	c.reachability(p)
	c.narrowing(p)
	c.terminal(p)
	c.types(p)
	for _, n := range p.Nested() {
		c.pipeline(n)
	}
}

// reachability enforces catch-all placement.
func (c *checker) reachability(p *syntax.Pipeline) {
	var catchAll *syntax.Stage
	for i, s := range p.Stages {
		if catchAll != nil && s.Kind != syntax.StageFinally {
			c.report(SeverityError, s.Span, UnreachableHandler,
				"unreachable `%s`: the catch-all at %d:%d handles every failure first",
				s.Kind, catchAll.Span.Start.Line, catchAll.Span.Start.Col)
		}
		if s.Kind != syntax.StageCatch || s.Type != "" || s.Fallible {
			continue
		}
		for _, later := range p.Stages[i+1:] {
			if later.Kind == syntax.StageCatch {
				c.report(SeverityError, s.Span, CatchAllNotTerminal,
					"untyped `catch` must be the last catch stage; the catch at %d:%d follows it",
					later.Span.Start.Line, later.Span.Start.Col)
				break
			}
		}
		if s.CatchAll() && catchAll == nil {
			catchAll = s
		}
	}
}

// narrowing tracks the statically known failure type through throw stages
// and flags typed stages that can no longer match it.
func (c *checker) narrowing(p *syntax.Pipeline) {
	var (
		cur   string
		since *syntax.Stage
	)
	for _, s := range p.Stages {
		if !s.Kind.Handler() {
			continue
		}
		if cur != "" && s.Type != "" && s.Search == syntax.SearchSingle && s.Type != cur {
			c.report(SeverityError, s.Span, TypeNarrowingConflict,
				"`%s %s` can never match: after the throw at %d:%d the failure is `%s`",
				s.Kind, s.Type, since.Span.Start.Line, since.Span.Start.Col, cur)
			continue
		}
		switch s.Kind {
		case syntax.StageThrow:
			produced := c.produced(s, cur)
			switch {
			case s.Search != syntax.SearchSingle:
				cur = ""
			case s.Guard == nil && (s.Type == "" || s.Type == cur):
				cur = produced
			case produced != cur:
				cur = ""
			}
			if cur != "" {
				since = s
			}
		case syntax.StageCatch:
			// failures past a catch that may match come from its body
			cur = ""
		}
	}
}

// produced returns the static failure type of a throw body, or "".
func (c *checker) produced(s *syntax.Stage, cur string) string {
	if s.Match != nil {
		var typ string
		for i, arm := range s.Match.Arms {
			t := c.exprType(arm.Body, s.Binding, cur)
			if t == "" || (i > 0 && t != typ) {
				return ""
			}
			typ = t
		}
		return typ
	}
	return c.exprType(s.Body, s.Binding, cur)
}

func (c *checker) exprType(e syntax.Expr, b syntax.Binding, cur string) string {
	switch n := e.(type) {
	case *syntax.Block:
		if n == nil {
			return ""
		}
		return c.exprType(n.Last(), b, cur)
	case *syntax.Literal:
		if _, ok := n.Value.(string); ok {
			return failure.MessageType
		}
	case *syntax.Ident:
		if b.Kind == syntax.BindNamed && n.Name == b.Name {
			return cur
		}
	case *syntax.Call:
		switch n.Func {
		case "fail":
			return failure.MessageType
		case "raise":
			if len(n.Args) > 0 {
				if lit, ok := n.Args[0].(*syntax.Literal); ok {
					if name, ok := lit.Value.(string); ok {
						return name
					}
				}
			}
		}
		return c.opts.Produces[n.Func]
	}
	return ""
}

func (c *checker) terminal(p *syntax.Pipeline) {
	for _, s := range p.Stages {
		if s.CatchAll() && !s.Fallible {
			return
		}
	}
	if p.Try != nil && p.Try.Direct {
		c.report(SeverityError, p.Try.Span, MissingTerminal,
			"direct mode `try -> %s` needs a catch-all: add `else { ... }` or `catch { ... }`", p.Try.Result)
		return
	}
	c.report(c.opts.MissingTerminal, p.Span, MissingTerminal,
		"no catch-all stage: unhandled failures are returned to the caller")
}

func (c *checker) types(p *syntax.Pipeline) {
	if c.opts.Types == nil {
		return
	}
	for _, s := range p.Stages {
		if s.Type != "" && !c.opts.Types.Known(s.Type) {
			c.report(SeverityWarning, s.Span, UnknownType, "type `%s` is not registered", s.Type)
		}
	}
}
