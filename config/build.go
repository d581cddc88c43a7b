package config

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/pipeline"
	"github.com/dcshock/trypipe/syntax"
	"github.com/dcshock/trypipe/validate"
)

// BuildOptions configures how a pipeline is built from config.
type BuildOptions struct {
	// File names the source in spans and errors. Defaults to the pipeline name.
	File string

	// Validate is passed to validate.Validate. Its Types, when set, also
	// classify failures at run time.
	Validate *validate.Options

	// Retry is used when the config has no retry section.
	Retry *pipeline.RetryPolicy

	// AllowUnregistered skips the check that every called function is
	// registered or builtin, for functions supplied at run time.
	AllowUnregistered bool
}

// Built is a compiled pipeline bound to the registry it was built against.
type Built struct {
	Program  *pipeline.Program
	Funcs    pipeline.Resolver
	Retry    *pipeline.RetryPolicy
	Warnings []validate.Diagnostic

	types *failure.Types
}

// Name returns the pipeline name.
func (b *Built) Name() string { return b.Program.Name() }

// Run executes the pipeline with vars as its top-level variables. opts may be
// nil; the configured retry policy is used unless opts sets one.
func (b *Built) Run(ctx context.Context, vars map[string]any, opts *pipeline.RunOptions) (any, error) {
	var o pipeline.RunOptions
	if opts != nil {
		o = *opts
	}
	if o.Retry == nil {
		o.Retry = b.Retry
	}
	return b.Program.Run(ctx, &pipeline.Env{Funcs: b.Funcs, Vars: vars, Types: b.types}, &o)
}

// BuildPipeline builds a pipeline from config and registry. Every function the
// pipeline calls must be registered or builtin. The result has passed
// validation; a rejected pipeline returns the *validate.Error, and a malformed
// config a *syntax.SyntaxError positioned in the YAML source.
func BuildPipeline(reg *Registry, cfg *PipelineConfig, opts *BuildOptions) (*Built, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if reg == nil {
		reg = NewRegistry()
	}
	if opts == nil {
		opts = &BuildOptions{}
	}
	file := opts.File
	if file == "" {
		file = cfg.Name
	}
	if file == "" {
		file = "pipeline"
	}
	b := &builder{file: file}
	p, err := b.pipeline(cfg)
	if err != nil {
		return nil, err
	}
	if !opts.AllowUnregistered {
		if err := b.checkCalls(reg, p); err != nil {
			return nil, err
		}
	}
	v, err := validate.Validate(p, opts.Validate)
	if err != nil {
		return nil, err
	}

	retry, err := cfg.Retry.Policy()
	if err != nil {
		return nil, fmt.Errorf("retry: %w", err)
	}
	if retry == nil {
		retry = opts.Retry
	}
	var funcs pipeline.Resolver = reg
	if len(cfg.Timeouts) > 0 {
		timeouts := make(map[string]time.Duration, len(cfg.Timeouts))
		for name, d := range cfg.Timeouts {
			if _, ok := reg.Get(name); !ok {
				return nil, fmt.Errorf("timeout for %q: not in registry", name)
			}
			timeouts[name] = d.Duration()
		}
		funcs = timeoutResolver{base: reg, timeouts: timeouts}
	}
	built := &Built{Program: pipeline.Compile(v), Funcs: funcs, Retry: retry, Warnings: v.Warnings()}
	if opts.Validate != nil {
		built.types = opts.Validate.Types
	}
	return built, nil
}

// BuildAllPipelines builds each entry in multi. Keys are pipeline names.
// If a pipeline config's Name is empty, the map key is used as the pipeline name.
func BuildAllPipelines(reg *Registry, multi *MultiPipelineConfig, opts *BuildOptions) (map[string]*Built, error) {
	if multi == nil {
		return nil, fmt.Errorf("MultiPipelineConfig is nil")
	}
	out := make(map[string]*Built, len(multi.Pipelines))
	for name, cfg := range multi.Pipelines {
		if cfg.Name == "" {
			cfg.Name = name
		}
		p, err := BuildPipeline(reg, &cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

// BuildSequence builds a pipeline.Sequence from a sequence config by looking up the named pipelines
// in the built pipeline map. Each name in seq.Pipelines must exist in built. Run the sequence with
// an Env whose Funcs is the registry.
func BuildSequence(seq *SequenceConfig, built map[string]*Built) (*pipeline.Sequence, error) {
	if seq == nil {
		return nil, fmt.Errorf("SequenceConfig is nil")
	}
	out := make([]*pipeline.Program, 0, len(seq.Pipelines))
	for i, name := range seq.Pipelines {
		b, ok := built[name]
		if !ok {
			return nil, fmt.Errorf("sequence %q pipeline %d: %q not in built pipelines", seq.Name, i, name)
		}
		out = append(out, b.Program)
	}
	return &pipeline.Sequence{Name: seq.Name, Programs: out}, nil
}

// BuildAllSequences builds a pipeline.Sequence for each entry in multi.Sequences using the given built pipelines.
func BuildAllSequences(multi *MultiPipelineConfig, built map[string]*Built) (map[string]*pipeline.Sequence, error) {
	if multi == nil || len(multi.Sequences) == 0 {
		return map[string]*pipeline.Sequence{}, nil
	}
	out := make(map[string]*pipeline.Sequence, len(multi.Sequences))
	for name, cfg := range multi.Sequences {
		if cfg.Name == "" {
			cfg.Name = name
		}
		seq, err := BuildSequence(&cfg, built)
		if err != nil {
			return nil, fmt.Errorf("sequence %q: %w", name, err)
		}
		out[name] = seq
	}
	return out, nil
}

// builder turns a PipelineConfig into the IR, enforcing the ordering and
// shape rules the text parser enforces.
type builder struct {
	file string
}

func (b *builder) pos(at syntax.Position) syntax.Position {
	if at.Line < 1 {
		return syntax.Position{Line: 1, Col: 1}
	}
	return at
}

func (b *builder) span(at syntax.Position) syntax.Span {
	p := b.pos(at)
	return syntax.Span{File: b.file, Start: p, End: p}
}

func (b *builder) errorf(at syntax.Position, format string, args ...any) *syntax.SyntaxError {
	return &syntax.SyntaxError{File: b.file, Pos: b.pos(at), Msg: fmt.Sprintf(format, args...)}
}

func (b *builder) expr(e Expr) (syntax.Expr, error) {
	return syntax.ParseExpr(b.file, e.padded())
}

func (b *builder) body(e Expr, at syntax.Position, what string) (*syntax.Block, error) {
	if strings.TrimSpace(e.Src) == "" {
		return nil, b.errorf(at, "missing %s body", what)
	}
	return syntax.ParseBlock(b.file, e.padded())
}

func (b *builder) pipeline(cfg *PipelineConfig) (*syntax.Pipeline, error) {
	name := cfg.Name
	if name == "" {
		name = b.file
	}
	pl := &syntax.Pipeline{Name: name, Span: b.span(syntax.Position{})}
	if cfg.Returns != "" && len(cfg.Prelude) > 0 {
		return nil, b.errorf(cfg.Prelude[0].at, "prelude cannot be combined with direct mode `returns: %s`", cfg.Returns)
	}
	for _, pc := range cfg.Prelude {
		stages, err := b.prelude(pc)
		if err != nil {
			return nil, err
		}
		pl.Stages = append(pl.Stages, stages...)
	}

	t, err := b.try(cfg)
	if err != nil {
		return nil, err
	}
	pl.Try = t
	withs, err := b.withs(cfg.Try.With)
	if err != nil {
		return nil, err
	}
	pl.Stages = append(pl.Stages, withs...)

	for _, tc := range cfg.Then {
		st := &syntax.Stage{Kind: syntax.StageThen, Span: b.span(tc.at)}
		if st.Binding, err = b.bind(tc.Bind, tc.at); err != nil {
			return nil, err
		}
		if st.Body, err = b.body(tc.Body, tc.at, "then"); err != nil {
			return nil, err
		}
		pl.Stages = append(pl.Stages, st)
		withs, err := b.withs(tc.With)
		if err != nil {
			return nil, err
		}
		pl.Stages = append(pl.Stages, withs...)
	}

	h := handlerState{try: t}
	for _, hc := range cfg.Handlers {
		st, err := b.handler(hc, &h)
		if err != nil {
			return nil, err
		}
		pl.Stages = append(pl.Stages, st)
	}
	return pl, nil
}

func (b *builder) prelude(pc PreludeConfig) ([]*syntax.Stage, error) {
	switch {
	case pc.Scope != "" && pc.Require.Src != "":
		return nil, b.errorf(pc.at, "prelude entry sets both `scope` and `require`")
	case pc.Scope != "":
		if len(pc.With) > 0 {
			return nil, b.errorf(pc.at, "`with` must directly follow a `try`, `then` or `require` step")
		}
		attrs, err := b.data(pc.Data)
		if err != nil {
			return nil, err
		}
		return []*syntax.Stage{{Kind: syntax.StageScope, Message: pc.Scope, Attrs: attrs, Span: b.span(pc.at)}}, nil
	case pc.Require.Src != "":
		st := &syntax.Stage{Kind: syntax.StageRequire, Span: b.span(pc.at)}
		var err error
		if st.Cond, err = b.expr(pc.Require); err != nil {
			return nil, err
		}
		if pc.Else.Src == "" {
			return nil, b.errorf(pc.at, "missing `else` in require: the failure to raise when the condition is false")
		}
		fail, err := b.body(pc.Else, pc.at, "require else")
		if err != nil {
			return nil, err
		}
		st.Fail = fail
		if len(fail.Exprs) == 1 {
			st.Fail = fail.Exprs[0]
		}
		if st.Withs, err = b.withs(pc.With); err != nil {
			return nil, err
		}
		return []*syntax.Stage{st}, nil
	default:
		return nil, b.errorf(pc.at, "prelude entry needs `scope` or `require`")
	}
}

func (b *builder) try(cfg *PipelineConfig) (*syntax.Try, error) {
	tc := cfg.Try
	t := &syntax.Try{Async: cfg.Async, Direct: cfg.Returns != "", Result: cfg.Returns, Span: b.span(tc.at)}

	var loops []string
	for _, v := range []struct {
		key, name string
		kind      syntax.TryKind
	}{{"for", tc.For, syntax.TryForEach}, {"any", tc.Any, syntax.TryAny}, {"all", tc.All, syntax.TryAll}} {
		if v.name != "" {
			loops = append(loops, v.key)
			t.Kind, t.Var = v.kind, v.name
		}
	}
	if len(loops) > 1 {
		return nil, b.errorf(tc.at, "try sets both `%s` and `%s`; use one", loops[0], loops[1])
	}

	var err error
	switch {
	case len(tc.When) > 0:
		if len(loops) > 0 || tc.While.Src != "" || tc.Body.Src != "" {
			return nil, b.errorf(tc.at, "a try with `when` branches takes no other body; put each body in its branch")
		}
		t.Kind = syntax.TryWhen
		for _, bc := range tc.When {
			if bc.If.Src == "" {
				return nil, b.errorf(bc.at, "expected condition in `if`")
			}
			br := &syntax.Branch{Span: b.span(bc.at)}
			if br.Cond, err = b.expr(bc.If); err != nil {
				return nil, err
			}
			if br.Body, err = b.body(bc.Body, bc.at, "when"); err != nil {
				return nil, err
			}
			t.Branches = append(t.Branches, br)
		}
		if tc.Else.Src != "" {
			if t.Else, err = b.body(tc.Else, tc.at, "else"); err != nil {
				return nil, err
			}
		}
		return t, nil
	case tc.Else.Src != "":
		return nil, b.errorf(tc.at, "`else` in try needs `when` branches")
	case len(loops) == 1:
		if tc.While.Src != "" {
			return nil, b.errorf(tc.at, "try sets both `%s` and `while`; use one", loops[0])
		}
		if err := b.checkName(t.Var, tc.at); err != nil {
			return nil, err
		}
		if tc.In.Src == "" {
			return nil, b.errorf(tc.at, "missing iterator expression: `%s: %s` needs `in`", loops[0], t.Var)
		}
		if t.Source, err = b.expr(tc.In); err != nil {
			return nil, err
		}
	case tc.While.Src != "":
		t.Kind = syntax.TryWhile
		if t.Cond, err = b.expr(tc.While); err != nil {
			return nil, err
		}
	default:
		t.Kind = syntax.TryBasic
	}
	if t.Body, err = b.body(tc.Body, tc.at, "try"); err != nil {
		return nil, err
	}
	return t, nil
}

func (b *builder) withs(ws []WithConfig) ([]*syntax.Stage, error) {
	var out []*syntax.Stage
	for _, w := range ws {
		if w.Message == "" && len(w.Data) == 0 {
			return nil, b.errorf(w.at, "expected a message or data in `with`")
		}
		attrs, err := b.data(w.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, &syntax.Stage{Kind: syntax.StageWith, Message: w.Message, Attrs: attrs, Span: b.span(w.at)})
	}
	return out, nil
}

func (b *builder) data(d Data) ([]syntax.Field, error) {
	var out []syntax.Field
	for _, f := range d {
		if f.Value.Src == "" {
			return nil, b.errorf(f.at, "data key %q needs a value", f.Key)
		}
		v, err := b.expr(f.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, syntax.Field{Key: f.Key, Value: v, Span: b.span(f.at)})
	}
	return out, nil
}

type handlerState struct {
	try         *syntax.Try
	lastTyped   bool
	seenFinally bool
}

func (b *builder) handler(hc HandlerConfig, h *handlerState) (*syntax.Stage, error) {
	span := b.span(hc.at)
	switch hc.Kind {
	case "finally":
		if h.seenFinally {
			return nil, b.errorf(hc.at, "multiple `finally` blocks are not allowed; combine into a single block")
		}
		h.seenFinally = true
		body, err := b.body(hc.Body, hc.at, "finally")
		if err != nil {
			return nil, err
		}
		return &syntax.Stage{Kind: syntax.StageFinally, Body: body, Span: span}, nil
	case "else":
		if !h.lastTyped && !h.try.Direct {
			return nil, b.errorf(hc.at, "`else` needs a preceding typed `catch` or `throw`, or direct mode `returns`")
		}
		body, err := b.body(hc.Body, hc.at, "else")
		if err != nil {
			return nil, err
		}
		h.lastTyped = false
		return &syntax.Stage{Kind: syntax.StageCatch, Sugar: true, Body: body, Span: span}, nil
	}

	st := &syntax.Stage{Kind: syntax.StageCatch, Type: hc.Type, Span: span}
	keyword := hc.Kind
	switch hc.Kind {
	case "try_catch":
		st.Fallible = true
		keyword = "catch"
	case "throw":
		st.Kind = syntax.StageThrow
	case "inspect":
		st.Kind = syntax.StageInspect
	}
	if st.Type != "" && !isTypeName(st.Type) {
		return nil, b.errorf(hc.at, "expected a type name, found %q", st.Type)
	}

	switch hc.Search {
	case "":
	case "any", "all":
		st.Search = syntax.SearchAny
		if hc.Search == "all" {
			st.Search = syntax.SearchAll
		}
		if h.try.Kind != syntax.TryAny && h.try.Kind != syntax.TryAll {
			return nil, b.errorf(hc.at, "`%s %s` is only allowed when the pipeline uses `try any` or `try all`", keyword, hc.Search)
		}
		if st.Type == "" {
			return nil, b.errorf(hc.at, "`search: %s` requires a type", hc.Search)
		}
	default:
		return nil, b.errorf(hc.at, "search %q not supported (use \"any\" or \"all\")", hc.Search)
	}

	var err error
	if st.Binding, err = b.bind(hc.Bind, hc.at); err != nil {
		return nil, err
	}
	if st.Kind == syntax.StageInspect && st.Binding.Kind == syntax.BindNone {
		return nil, b.errorf(hc.at, "`inspect` requires a binding: `bind: e`")
	}
	if hc.When.Src != "" {
		if st.Guard, err = b.expr(hc.When); err != nil {
			return nil, err
		}
	}

	switch {
	case hc.Match != nil && hc.Body.Src != "":
		return nil, b.errorf(hc.at, "handler has both `body` and `match`")
	case hc.Match != nil:
		if st.Match, err = b.match(hc.Match, hc.at); err != nil {
			return nil, err
		}
	default:
		if st.Body, err = b.body(hc.Body, hc.at, keyword); err != nil {
			return nil, err
		}
	}
	h.lastTyped = st.Type != "" && st.Kind != syntax.StageInspect
	return st, nil
}

func (b *builder) match(mc *MatchConfig, at syntax.Position) (*syntax.Match, error) {
	if mc.On.Src == "" {
		return nil, b.errorf(at, "match needs a subject in `on`")
	}
	m := &syntax.Match{Span: b.span(at)}
	var err error
	if m.Subject, err = b.expr(mc.On); err != nil {
		return nil, err
	}
	wildcard := false
	for _, ac := range mc.Arms {
		arm := &syntax.Arm{Span: b.span(ac.Case.at)}
		switch strings.TrimSpace(ac.Case.Src) {
		case "_":
			wildcard = true
		case "":
			return nil, b.errorf(ac.Case.at, "match arm needs a `case`")
		default:
			if arm.Pattern, err = b.expr(ac.Case); err != nil {
				return nil, err
			}
		}
		if strings.TrimSpace(ac.Body.Src) == "" {
			return nil, b.errorf(ac.Case.at, "match arm must produce a value")
		}
		if arm.Body, err = syntax.ParseBlock(b.file, ac.Body.padded()); err != nil {
			return nil, err
		}
		m.Arms = append(m.Arms, arm)
	}
	if !wildcard {
		return nil, b.errorf(at, "non-exhaustive `match`: add a `case: _` arm")
	}
	return m, nil
}

func (b *builder) bind(name string, at syntax.Position) (syntax.Binding, error) {
	switch name {
	case "":
		return syntax.Binding{}, nil
	case "_":
		return syntax.Binding{Kind: syntax.BindUnderscore}, nil
	}
	if err := b.checkName(name, at); err != nil {
		return syntax.Binding{}, err
	}
	return syntax.Binding{Kind: syntax.BindNamed, Name: name}, nil
}

func (b *builder) checkName(name string, at syntax.Position) error {
	if strings.HasPrefix(name, "__") {
		return b.errorf(at, "`%s` is reserved for internal use; choose a different binding name", name)
	}
	if !isIdent(name) {
		return b.errorf(at, "%q is not a valid name", name)
	}
	return nil
}

// checkCalls reports the first call to a function that is neither registered
// nor builtin.
func (b *builder) checkCalls(reg *Registry, p *syntax.Pipeline) error {
	builtins := pipeline.Builtins()
	var missing *syntax.Call
	walkCalls(p, func(c *syntax.Call) {
		if missing != nil {
			return
		}
		if _, ok := reg.Get(c.Func); ok {
			return
		}
		if _, ok := builtins[c.Func]; !ok {
			missing = c
		}
	})
	if missing != nil {
		return &syntax.SyntaxError{File: b.file, Pos: missing.Span.Start, Msg: fmt.Sprintf("function %q not in registry", missing.Func)}
	}
	return nil
}

func walkCalls(p *syntax.Pipeline, visit func(*syntax.Call)) {
	for _, e := range p.Exprs() {
		syntax.Walk(e, func(x syntax.Expr) bool {
			switch n := x.(type) {
			case *syntax.Call:
				visit(n)
			case *syntax.Nested:
				walkCalls(n.Pipeline, visit)
				return false
			}
			return true
		})
	}
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r != '_' && !unicode.IsLetter(r) && (i == 0 || !unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

// isTypeName accepts Name or a qualified name such as io.EOF.
func isTypeName(s string) bool {
	parts := strings.Split(s, ".")
	for _, p := range parts {
		if !isIdent(p) {
			return false
		}
	}
	return len(parts) > 1 || unicode.IsUpper(rune(s[0]))
}
