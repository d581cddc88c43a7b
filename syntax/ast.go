package syntax

// TryKind is the execution strategy of a try body.
type TryKind int

const (
	TryBasic   TryKind = iota // try { }
	TryWhen                   // try when c { } else when c { } else { }
	TryForEach                // try for x in xs { }: stop at the first failure
	TryAny                    // try any x in xs { }: first success
	TryAll                    // try all x in xs { }: collect every success
	TryWhile                  // try while c { }: retry
)

func (k TryKind) String() string {
	switch k {
	case TryWhen:
		return "when"
	case TryForEach:
		return "for"
	case TryAny:
		return "any"
	case TryAll:
		return "all"
	case TryWhile:
		return "while"
	default:
		return "basic"
	}
}

// Iterates reports whether the try runs its body once per source element.
func (k TryKind) Iterates() bool { return k == TryForEach || k == TryAny || k == TryAll }

// StageKind identifies a pipeline stage.
type StageKind int

const (
	StageCatch StageKind = iota
	StageThrow
	StageInspect
	StageFinally
	StageWith
	StageScope
	StageRequire
	StageThen
)

func (k StageKind) String() string {
	switch k {
	case StageCatch:
		return "catch"
	case StageThrow:
		return "throw"
	case StageInspect:
		return "inspect"
	case StageFinally:
		return "finally"
	case StageWith:
		return "with"
	case StageScope:
		return "scope"
	case StageRequire:
		return "require"
	case StageThen:
		return "then"
	default:
		return "stage"
	}
}

// Handler reports whether stages of this kind are dispatched by matching the
// current failure.
func (k StageKind) Handler() bool {
	return k == StageCatch || k == StageThrow || k == StageInspect
}

// SearchMode selects which errors of the cause chain a stage looks at.
type SearchMode int

const (
	SearchSingle SearchMode = iota // only the current error
	SearchAny                      // the first matching error in the chain
	SearchAll                      // every matching error in the chain
)

func (m SearchMode) String() string {
	switch m {
	case SearchAny:
		return "any"
	case SearchAll:
		return "all"
	default:
		return "single"
	}
}

// BindingKind says how a stage names the matched value.
type BindingKind int

const (
	BindNone BindingKind = iota
	BindNamed
	BindUnderscore
)

// Binding is the name a handler body sees the matched failure under.
type Binding struct {
	Kind BindingKind
	Name string
}

func (b Binding) String() string {
	switch b.Kind {
	case BindNamed:
		return b.Name
	case BindUnderscore:
		return "_"
	default:
		return ""
	}
}

// Pipeline is the parsed form of one pipeline description.
type Pipeline struct {
	Name   string
	Try    *Try
	Stages []*Stage
	Span   Span
}

// Try describes the try body and how it is executed.
type Try struct {
	Kind     TryKind
	Async    bool
	Direct   bool   // try -> T: the pipeline must always produce a value
	Result   string // T in direct mode
	Var      string // element name for iterating forms
	Source   Expr   // element source for iterating forms
	Cond     Expr   // retry condition for TryWhile
	Body     *Block
	Branches []*Branch // TryWhen
	Else     *Block    // TryWhen fallback, may be nil
	Span     Span
}

// Branch is one `when` arm of a conditional try.
type Branch struct {
	Cond Expr
	Body *Block
	Span Span
}

// Stage is one element of a pipeline.
type Stage struct {
	Kind     StageKind
	Span     Span
	Type     string // "" matches any failure
	Binding  Binding
	Guard    Expr // `when` predicate
	Match    *Match
	Search   SearchMode
	Body     *Block
	Fallible bool // `try catch`: the recovery body may fail
	Sugar    bool // written as `else { }`

	Message string  // With message, Scope label
	Attrs   []Field // With and Scope data

	Cond  Expr     // Require condition
	Fail  Expr     // Require failure value
	Withs []*Stage // Require: its own with stages, not part of Pipeline.Stages
}

// CatchAll reports whether s recovers every failure that reaches it.
func (s *Stage) CatchAll() bool {
	return s.Kind == StageCatch && s.Type == "" && s.Guard == nil && s.Search == SearchSingle
}

// Field is one key/value entry of a with or scope data block.
type Field struct {
	Key   string
	Value Expr
	Span  Span
}

// Match is an exhaustive decision table used as a handler body.
type Match struct {
	Subject Expr
	Arms    []*Arm
	Span    Span
}

// Arm is one row of a Match. A nil Pattern is the `_` arm.
type Arm struct {
	Pattern Expr
	Body    *Block
	Span    Span
}

// Expr is an expression node.
type Expr interface {
	Position() Span
	exprNode()
}

type (
	// Literal is a constant: int64, float64, string, bool or nil.
	Literal struct {
		Value any
		Span  Span
	}

	// Ident is a variable reference.
	Ident struct {
		Name string
		Span Span
	}

	// Selector is x.name.
	Selector struct {
		X    Expr
		Name string
		Span Span
	}

	// Index is x[i].
	Index struct {
		X, Index Expr
		Span     Span
	}

	// Call invokes a function from the environment. Func may be dotted.
	Call struct {
		Func      string
		Args      []Expr
		Propagate bool // written with a trailing `?`
		Span      Span
	}

	Unary struct {
		Op   TokenKind
		X    Expr
		Span Span
	}

	Binary struct {
		Op   TokenKind
		X, Y Expr
		Span Span
	}

	List struct {
		Elems []Expr
		Span  Span
	}

	// Signal is `break` or `continue` aimed at a loop enclosing the pipeline.
	Signal struct {
		Continue bool
		Span     Span
	}

	// Nested is a pipeline used as an expression.
	Nested struct {
		Pipeline *Pipeline
		Span     Span
	}

	// Block is a `{ }` body; its value is the value of the last expression.
	Block struct {
		Exprs []Expr
		Span  Span
	}
)

func (e *Literal) Position() Span  { return e.Span }
func (e *Ident) Position() Span    { return e.Span }
func (e *Selector) Position() Span { return e.Span }
func (e *Index) Position() Span    { return e.Span }
func (e *Call) Position() Span     { return e.Span }
func (e *Unary) Position() Span    { return e.Span }
func (e *Binary) Position() Span   { return e.Span }
func (e *List) Position() Span     { return e.Span }
func (e *Signal) Position() Span   { return e.Span }
func (e *Nested) Position() Span   { return e.Span }
func (e *Block) Position() Span    { return e.Span }

func (*Literal) exprNode()  {}
func (*Ident) exprNode()    {}
func (*Selector) exprNode() {}
func (*Index) exprNode()    {}
func (*Call) exprNode()     {}
func (*Unary) exprNode()    {}
func (*Binary) exprNode()   {}
func (*List) exprNode()     {}
func (*Signal) exprNode()   {}
func (*Nested) exprNode()   {}
func (*Block) exprNode()    {}

// Last returns the final expression of the block, or nil when it is empty.
func (b *Block) Last() Expr {
	if b == nil || len(b.Exprs) == 0 {
		return nil
	}
	return b.Exprs[len(b.Exprs)-1]
}

// Walk calls fn for e and every expression below it, depth first. Walk does
// not descend into nested pipelines; use Pipeline.Nested for those. fn
// returning false prunes the subtree.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Selector:
		Walk(n.X, fn)
	case *Index:
		Walk(n.X, fn)
		Walk(n.Index, fn)
	case *Call:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *Unary:
		Walk(n.X, fn)
	case *Binary:
		Walk(n.X, fn)
		Walk(n.Y, fn)
	case *List:
		for _, x := range n.Elems {
			Walk(x, fn)
		}
	case *Block:
		for _, x := range n.Exprs {
			Walk(x, fn)
		}
	}
}

// Exprs returns the top-level expressions held by the pipeline's try and
// stages, in declaration order.
func (p *Pipeline) Exprs() []Expr {
	var out []Expr
	add := func(es ...Expr) {
		for _, e := range es {
			if e != nil && !isNilBlock(e) {
				out = append(out, e)
			}
		}
	}
	if t := p.Try; t != nil {
		add(t.Source, t.Cond, t.Body)
		for _, br := range t.Branches {
			add(br.Cond, br.Body)
		}
		if t.Else != nil {
			add(t.Else)
		}
	}
	for _, s := range p.Stages {
		add(s.Guard, s.Cond, s.Fail)
		if s.Body != nil {
			add(s.Body)
		}
		if s.Match != nil {
			add(s.Match.Subject)
			for _, arm := range s.Match.Arms {
				add(arm.Pattern, arm.Body)
			}
		}
		for _, f := range s.Attrs {
			add(f.Value)
		}
	}
	return out
}

func isNilBlock(e Expr) bool {
	b, ok := e.(*Block)
	return ok && b == nil
}

// Nested returns the pipelines used as expressions directly inside p.
func (p *Pipeline) Nested() []*Pipeline {
	var out []*Pipeline
	for _, e := range p.Exprs() {
		Walk(e, func(x Expr) bool {
			if n, ok := x.(*Nested); ok {
				out = append(out, n.Pipeline)
				return false
			}
			return true
		})
	}
	return out
}
