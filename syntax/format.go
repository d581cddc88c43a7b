package syntax

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatExpr renders e back into source form.
func FormatExpr(e Expr) string {
	var b strings.Builder
	formatExpr(&b, e)
	return b.String()
}

func formatExpr(b *strings.Builder, e Expr) {
	switch n := e.(type) {
	case nil:
		return
	case *Literal:
		switch v := n.Value.(type) {
		case nil:
			b.WriteString("null")
		case string:
			b.WriteString(strconv.Quote(v))
		default:
			fmt.Fprint(b, v)
		}
	case *Ident:
		b.WriteString(n.Name)
	case *Selector:
		formatExpr(b, n.X)
		b.WriteString(".")
		b.WriteString(n.Name)
	case *Index:
		formatExpr(b, n.X)
		b.WriteString("[")
		formatExpr(b, n.Index)
		b.WriteString("]")
	case *Call:
		b.WriteString(n.Func)
		b.WriteString("(")
		for i, a := range n.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			formatExpr(b, a)
		}
		b.WriteString(")")
		if n.Propagate {
			b.WriteString("?")
		}
	case *Unary:
		b.WriteString(opText(n.Op))
		formatExpr(b, n.X)
	case *Binary:
		formatExpr(b, n.X)
		b.WriteString(" " + opText(n.Op) + " ")
		formatExpr(b, n.Y)
	case *List:
		b.WriteString("[")
		for i, x := range n.Elems {
			if i > 0 {
				b.WriteString(", ")
			}
			formatExpr(b, x)
		}
		b.WriteString("]")
	case *Signal:
		if n.Continue {
			b.WriteString("continue")
		} else {
			b.WriteString("break")
		}
	case *Nested:
		b.WriteString("try { ... }")
	case *Block:
		b.WriteString("{ ")
		for i, x := range n.Exprs {
			if i > 0 {
				b.WriteString("; ")
			}
			formatExpr(b, x)
		}
		b.WriteString(" }")
	}
}

func opText(k TokenKind) string {
	if s, ok := punctNames[k]; ok {
		return s
	}
	return "?"
}

// Outline is a plain, serialisable view of a Pipeline for tooling: every
// expression is rendered as source text.
type Outline struct {
	Name   string         `json:"name" yaml:"name"`
	Try    TryOutline     `json:"try" yaml:"try"`
	Stages []StageOutline `json:"stages" yaml:"stages"`
}

// TryOutline describes the try body.
type TryOutline struct {
	Kind     string   `json:"kind" yaml:"kind"`
	Async    bool     `json:"async,omitempty" yaml:"async,omitempty"`
	Result   string   `json:"result,omitempty" yaml:"result,omitempty"`
	Var      string   `json:"var,omitempty" yaml:"var,omitempty"`
	Source   string   `json:"source,omitempty" yaml:"source,omitempty"`
	Cond     string   `json:"cond,omitempty" yaml:"cond,omitempty"`
	Body     string   `json:"body,omitempty" yaml:"body,omitempty"`
	Branches []string `json:"branches,omitempty" yaml:"branches,omitempty"`
	Span     Span     `json:"span" yaml:"span"`
}

// StageOutline describes one stage.
type StageOutline struct {
	Kind     string            `json:"kind" yaml:"kind"`
	Type     string            `json:"type,omitempty" yaml:"type,omitempty"`
	Search   string            `json:"search,omitempty" yaml:"search,omitempty"`
	Binding  string            `json:"binding,omitempty" yaml:"binding,omitempty"`
	Guard    string            `json:"guard,omitempty" yaml:"guard,omitempty"`
	Body     string            `json:"body,omitempty" yaml:"body,omitempty"`
	Fallible bool              `json:"fallible,omitempty" yaml:"fallible,omitempty"`
	Message  string            `json:"message,omitempty" yaml:"message,omitempty"`
	Data     map[string]string `json:"data,omitempty" yaml:"data,omitempty"`
	Span     Span              `json:"span" yaml:"span"`
}

// Describe returns the outline of p.
func Describe(p *Pipeline) Outline {
	out := Outline{Name: p.Name}
	if t := p.Try; t != nil {
		out.Try = TryOutline{
			Kind:   t.Kind.String(),
			Async:  t.Async,
			Result: t.Result,
			Var:    t.Var,
			Source: FormatExpr(t.Source),
			Cond:   FormatExpr(t.Cond),
			Span:   t.Span,
		}
		if t.Body != nil {
			out.Try.Body = FormatExpr(t.Body)
		}
		for _, br := range t.Branches {
			out.Try.Branches = append(out.Try.Branches, "when "+FormatExpr(br.Cond)+" "+FormatExpr(br.Body))
		}
		if t.Else != nil {
			out.Try.Branches = append(out.Try.Branches, "else "+FormatExpr(t.Else))
		}
	}
	for _, s := range p.Stages {
		out.Stages = append(out.Stages, describeStage(s))
		// a require lists its own withs right after it
		for _, w := range s.Withs {
			out.Stages = append(out.Stages, describeStage(w))
		}
	}
	return out
}

func describeStage(s *Stage) StageOutline {
	so := StageOutline{
		Kind:     s.Kind.String(),
		Type:     s.Type,
		Binding:  s.Binding.String(),
		Guard:    FormatExpr(s.Guard),
		Fallible: s.Fallible,
		Message:  s.Message,
		Span:     s.Span,
	}
	if s.Search != SearchSingle {
		so.Search = s.Search.String()
	}
	switch {
	case s.Body != nil:
		so.Body = FormatExpr(s.Body)
	case s.Match != nil:
		so.Body = "match " + FormatExpr(s.Match.Subject)
	case s.Kind == StageRequire:
		so.Guard = FormatExpr(s.Cond)
		so.Body = FormatExpr(s.Fail)
	}
	if len(s.Attrs) > 0 {
		so.Data = make(map[string]string, len(s.Attrs))
		for _, f := range s.Attrs {
			so.Data[f.Key] = FormatExpr(f.Value)
		}
	}
	return so
}
