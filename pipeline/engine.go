package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/syntax"
)

// outcome is the state of one pipeline between stages: a value, a failure, or
// a loop signal. recovered is set once a Catch produced the value.
type outcome struct {
	value     any
	fail      *failure.Value
	sig       error
	recovered bool
}

func (o outcome) result() (any, error) {
	switch {
	case o.sig != nil:
		return nil, o.sig
	case o.fail != nil:
		return nil, o.fail
	}
	return o.value, nil
}

// execution runs one pipeline, top-level or nested.
type execution struct {
	r        *runner
	p        *syntax.Pipeline
	sc       *scope
	top      bool
	scopes   []*syntax.Stage
	tryWiths []*syntax.Stage
	rest     int // first stage after the try withs
}

// exec runs p in a child of parent. Only the top-level pipeline reports to the
// Observer.
func (r *runner) exec(ctx context.Context, p *syntax.Pipeline, parent *scope, top bool) (any, error) {
	x := &execution{
		r:   r,
		p:   p,
		top: top,
		sc:  &scope{parent: parent, async: parent.async || p.Try.Async},
	}
	next, o, ok := x.preludes(ctx)
	if !ok {
		return o.result()
	}
	x.tryWiths = withsAt(p.Stages, next)
	x.rest = next + len(x.tryWiths)
	if fin := finallyIndex(p.Stages); fin >= 0 {
		defer x.finally(ctx, fin)
	}
	if p.Try.Kind == syntax.TryWhile {
		o = x.retry(ctx)
	} else {
		o = x.body(ctx)
		if o.sig == nil {
			o = x.chain(ctx, o, x.sc)
		}
	}
	if o.fail != nil {
		o.fail = x.scoped(ctx, o.fail)
	}
	return o.result()
}

// preludes evaluates the leading require and scope stages. ok is false when a
// require failed and the pipeline must stop with o.
func (x *execution) preludes(ctx context.Context) (next int, o outcome, ok bool) {
	stages := x.p.Stages
	for next < len(stages) {
		s := stages[next]
		switch s.Kind {
		case syntax.StageScope:
			x.scopes = append(x.scopes, s)
			next++
		case syntax.StageRequire:
			if o, failed := x.require(ctx, next); failed {
				if o.fail != nil {
					o.fail = x.scoped(ctx, o.fail)
				}
				return next, o, false
			}
			next++
		default:
			return next, outcome{}, true
		}
	}
	return next, outcome{}, true
}

func (x *execution) require(ctx context.Context, i int) (outcome, bool) {
	s := x.p.Stages[i]
	info := StageInfo{Index: i, Kind: s.Kind.String(), Span: s.Span, Element: -1}
	held, err := x.observe(ctx, info, func() (any, error) { return x.r.cond(ctx, s.Cond, x.sc) })
	if err == nil && held.(bool) {
		return outcome{}, false
	}
	if IsSignal(err) {
		return outcome{sig: err}, true
	}
	var f *failure.Value
	if err != nil {
		f = x.r.types.Wrap(err)
	} else {
		v, err := x.r.eval(ctx, s.Fail, x.sc)
		if IsSignal(err) {
			return outcome{sig: err}, true
		}
		f = x.r.produced(v, err)
	}
	x.r.log.Debug("require failed", zap.Stringer("at", s.Span), zap.Error(f))
	return outcome{fail: x.frame(ctx, f, s.Span, s.Withs, x.sc)}, true
}

// body runs the try body with the strategy of its kind. Failures come back
// with the try frames attached.
func (x *execution) body(ctx context.Context) outcome {
	t := x.p.Try
	switch t.Kind {
	case syntax.TryWhen:
		return x.when(ctx)
	case syntax.TryForEach, syntax.TryAll:
		return x.each(ctx, t.Kind == syntax.TryAll)
	case syntax.TryAny:
		return x.first(ctx)
	default:
		return x.step(ctx, t.Body, x.sc, -1)
	}
}

// step runs one try body evaluation.
func (x *execution) step(ctx context.Context, b *syntax.Block, sc *scope, element int) outcome {
	t := x.p.Try
	info := StageInfo{Index: -1, Kind: "try", Span: t.Span, Element: element}
	v, err := x.observe(ctx, info, func() (any, error) { return x.r.evalBlock(ctx, b, sc) })
	switch {
	case err == nil:
		return outcome{value: v}
	case IsSignal(err):
		return outcome{sig: err}
	}
	return outcome{fail: x.frame(ctx, x.r.types.Wrap(err), t.Span, x.tryWiths, sc)}
}

// fail turns a failure raised outside any body (bad iteration source,
// cancellation) into a try failure.
func (x *execution) fail(ctx context.Context, err error, sc *scope) outcome {
	return outcome{fail: x.frame(ctx, x.r.types.Wrap(err), x.p.Try.Span, x.tryWiths, sc)}
}

func (x *execution) when(ctx context.Context) outcome {
	t := x.p.Try
	for _, b := range t.Branches {
		ok, err := x.r.cond(ctx, b.Cond, x.sc)
		if IsSignal(err) {
			return outcome{sig: err}
		}
		if err != nil {
			return x.fail(ctx, err, x.sc)
		}
		if ok {
			return x.step(ctx, b.Body, x.sc, -1)
		}
	}
	if t.Else != nil {
		return x.step(ctx, t.Else, x.sc, -1)
	}
	return outcome{}
}

func (x *execution) items(ctx context.Context) ([]any, error) {
	src, err := x.r.eval(ctx, x.p.Try.Source, x.sc)
	if err != nil {
		return nil, err
	}
	list, ok := toList(src)
	if !ok && src != nil {
		return nil, failure.Errorf("%s: cannot iterate over %T", x.p.Try.Source.Position(), src)
	}
	return list, nil
}

// each runs the body for every element and stops at the first failure. With
// collect it returns every result, otherwise the last one.
func (x *execution) each(ctx context.Context, collect bool) outcome {
	t := x.p.Try
	items, err := x.items(ctx)
	if IsSignal(err) {
		return outcome{sig: err}
	}
	if err != nil {
		return x.fail(ctx, err, x.sc)
	}
	var results []any
	if collect {
		results = make([]any, 0, len(items))
	}
	var last any
	for i, el := range items {
		esc := x.sc.with(t.Var, el)
		if err := ctx.Err(); err != nil {
			return x.fail(ctx, err, esc)
		}
		o := x.step(ctx, t.Body, esc, i)
		if o.sig != nil || o.fail != nil {
			return o
		}
		last = o.value
		if collect {
			results = append(results, o.value)
		}
	}
	if collect {
		return outcome{value: results}
	}
	return outcome{value: last}
}

// first returns the first element whose body succeeds. When every element
// fails, the last failure propagates with the earlier ones linked as causes.
func (x *execution) first(ctx context.Context) outcome {
	t := x.p.Try
	items, err := x.items(ctx)
	if IsSignal(err) {
		return outcome{sig: err}
	}
	if err != nil {
		return x.fail(ctx, err, x.sc)
	}
	if len(items) == 0 {
		return x.fail(ctx, failure.Msg("empty sequence in try any"), x.sc)
	}
	var earlier []*failure.Value
	var last outcome
	for i, el := range items {
		esc := x.sc.with(t.Var, el)
		if err := ctx.Err(); err != nil {
			last = x.fail(ctx, err, esc)
			break
		}
		o := x.step(ctx, t.Body, esc, i)
		if o.sig != nil || o.fail == nil {
			return o
		}
		if i < len(items)-1 {
			x.diagnose(ctx, o.fail, esc)
			earlier = append(earlier, o.fail)
		}
		last = o
	}
	for _, e := range earlier {
		if err := last.fail.Link(e); err != nil {
			x.r.log.Debug("element failure not linked", zap.Error(err))
		}
	}
	return last
}

// diagnose runs the any/all tagged inspect and throw stages on a failed
// element that is about to be discarded. A throw only annotates the element's
// own trace.
func (x *execution) diagnose(ctx context.Context, f *failure.Value, sc *scope) {
	for i := x.rest; i < len(x.p.Stages); i++ {
		s := x.p.Stages[i]
		if s.Search == syntax.SearchSingle || (s.Kind != syntax.StageInspect && s.Kind != syntax.StageThrow) {
			continue
		}
		hsc, ok := x.match(ctx, s, f, sc)
		if !ok {
			continue
		}
		v, err := x.handler(ctx, i, hsc)
		if IsSignal(err) {
			x.r.log.Warn("loop signal ignored in element diagnostics", zap.Stringer("at", s.Span))
			continue
		}
		if s.Kind == syntax.StageInspect {
			if err != nil {
				x.r.log.Warn("inspect body failed", zap.Stringer("at", s.Span), zap.Error(err))
			}
			continue
		}
		next := x.r.produced(v, err)
		f.Push(failure.Frame{Location: location(s.Span), Message: "throw: " + next.Message()})
	}
}

// retry runs a `try while` body until it succeeds, a catch recovers it, the
// condition turns false or the retry policy gives up. The body always runs
// once. Each failed attempt walks the handler chain on its own.
func (x *execution) retry(ctx context.Context) outcome {
	t := x.p.Try
	policy := x.r.retry
	for attempt := 0; ; attempt++ {
		asc := x.sc.with("attempt", int64(attempt))
		o := x.step(ctx, t.Body, asc, attempt)
		if o.sig != nil {
			return o
		}
		o = x.chain(ctx, o, asc)
		if o.sig != nil || o.fail == nil {
			return o
		}
		if !policy.allows(attempt+1, o.fail) {
			x.r.log.Debug("retry policy stopped", zap.Int("attempts", attempt+1))
			return o
		}
		more, err := x.r.cond(ctx, t.Cond, x.sc.with("attempt", int64(attempt+1)))
		if err != nil {
			if IsSignal(err) {
				return outcome{sig: err}
			}
			x.r.log.Warn("retry condition failed", zap.Stringer("at", t.Span), zap.Error(err))
			return o
		}
		if !more {
			return o
		}
		d := policy.delay(attempt)
		x.r.log.Debug("retrying", zap.Int("attempt", attempt+1), zap.Duration("backoff", d), zap.Error(o.fail))
		if err := sleep(ctx, d); err != nil {
			f := failure.Replace(o.fail, x.r.types.Wrap(err))
			f.Push(failure.Frame{Location: location(t.Span)})
			return outcome{fail: f}
		}
	}
}

// chain walks the stages after the try: then bodies while the outcome is a
// value, handlers while it is a failure.
func (x *execution) chain(ctx context.Context, o outcome, sc *scope) outcome {
	stages := x.p.Stages
	for i := x.rest; i < len(stages); i++ {
		switch s := stages[i]; s.Kind {
		case syntax.StageThen:
			if o.fail != nil {
				continue
			}
			o = x.then(ctx, i, o.value, sc)
		case syntax.StageCatch, syntax.StageThrow, syntax.StageInspect:
			if o.fail == nil {
				continue
			}
			o = x.handle(ctx, i, o.fail, sc)
		}
		if o.sig != nil || o.recovered {
			return o
		}
	}
	return o
}

func (x *execution) then(ctx context.Context, i int, value any, sc *scope) outcome {
	s := x.p.Stages[i]
	tsc := sc.with(s.Binding.Name, value)
	info := StageInfo{Index: i, Kind: s.Kind.String(), Span: s.Span, Element: -1}
	v, err := x.observe(ctx, info, func() (any, error) { return x.r.evalBlock(ctx, s.Body, tsc) })
	switch {
	case err == nil:
		return outcome{value: v}
	case IsSignal(err):
		return outcome{sig: err}
	}
	return outcome{fail: x.frame(ctx, x.r.types.Wrap(err), s.Span, withsAt(x.p.Stages, i+1), tsc)}
}

// handle dispatches a failure to the handler at i.
func (x *execution) handle(ctx context.Context, i int, cur *failure.Value, sc *scope) outcome {
	s := x.p.Stages[i]
	hsc, ok := x.match(ctx, s, cur, sc)
	if !ok {
		return outcome{fail: cur}
	}
	x.r.log.Debug("handler matched", zap.String("kind", s.Kind.String()), zap.String("type", cur.Tag().Name), zap.Stringer("at", s.Span))
	v, err := x.handler(ctx, i, hsc)
	if IsSignal(err) {
		if s.Kind == syntax.StageInspect {
			x.r.log.Warn("loop signal ignored in inspect", zap.Stringer("at", s.Span))
			return outcome{fail: cur}
		}
		return outcome{sig: err}
	}
	switch s.Kind {
	case syntax.StageInspect:
		if err != nil {
			x.r.log.Warn("inspect body failed", zap.Stringer("at", s.Span), zap.Error(err))
		}
		return outcome{fail: cur}
	case syntax.StageThrow:
		next := failure.Replace(cur, x.r.produced(v, err))
		next.Push(failure.Frame{Location: location(s.Span)})
		return outcome{fail: next}
	}
	if err != nil {
		if !s.Fallible {
			x.r.log.Debug("catch body failed", zap.Stringer("at", s.Span), zap.Error(err))
		}
		next := failure.Replace(cur, x.r.types.Wrap(err))
		next.Push(failure.Frame{Location: location(s.Span)})
		return outcome{fail: next}
	}
	return outcome{value: v, recovered: true}
}

// match reports whether the handler s applies to cur and returns the scope its
// body runs in, with the binding and guard already applied.
func (x *execution) match(ctx context.Context, s *syntax.Stage, cur *failure.Value, sc *scope) (*scope, bool) {
	name := ""
	if s.Binding.Kind == syntax.BindNamed {
		name = s.Binding.Name
	}
	switch s.Search {
	case syntax.SearchAll:
		found := cur.All(failure.OfType(s.Type))
		if len(found) == 0 {
			return nil, false
		}
		errs := make([]any, len(found))
		for i, f := range found {
			errs[i] = f
		}
		hsc := sc.with(name, errs)
		return hsc, x.guard(ctx, s, hsc)
	case syntax.SearchAny:
		for _, n := range cur.Chain() {
			if !n.Tag().Matches(s.Type) {
				continue
			}
			hsc := sc.with(name, n)
			if x.guard(ctx, s, hsc) {
				return hsc, true
			}
		}
		return nil, false
	}
	if !cur.Tag().Matches(s.Type) {
		return nil, false
	}
	hsc := sc.with(name, cur)
	return hsc, x.guard(ctx, s, hsc)
}

// guard evaluates the `when` predicate of s. Anything but true, including a
// failing predicate, is a non-match.
func (x *execution) guard(ctx context.Context, s *syntax.Stage, sc *scope) bool {
	if s.Guard == nil {
		return true
	}
	v, err := x.r.eval(ctx, s.Guard, sc)
	if err != nil {
		x.r.log.Warn("guard failed", zap.Stringer("at", s.Guard.Position()), zap.Error(err))
		return false
	}
	b, ok := v.(bool)
	if !ok {
		x.r.log.Warn("guard is not a bool", zap.Stringer("at", s.Guard.Position()), zap.String("type", typeName(v)))
		return false
	}
	return b
}

// handler runs the body or match table of the stage at i.
func (x *execution) handler(ctx context.Context, i int, sc *scope) (any, error) {
	s := x.p.Stages[i]
	info := StageInfo{Index: i, Kind: s.Kind.String(), Span: s.Span, Element: -1}
	return x.observe(ctx, info, func() (any, error) {
		if s.Match != nil {
			return x.r.evalMatch(ctx, s.Match, sc)
		}
		return x.r.evalBlock(ctx, s.Body, sc)
	})
}

// finally runs the finally stage at i. It ignores cancellation of ctx and never
// changes the outcome.
func (x *execution) finally(ctx context.Context, i int) {
	ctx = context.WithoutCancel(ctx)
	if _, err := x.handler(ctx, i, x.sc); err != nil {
		x.r.log.Warn("finally body failed", zap.Stringer("at", x.p.Stages[i].Span), zap.Error(err))
	}
}

// frame records a failure at site: one frame per with stage, or a bare frame
// when there are none.
func (x *execution) frame(ctx context.Context, f *failure.Value, site syntax.Span, withs []*syntax.Stage, sc *scope) *failure.Value {
	if len(withs) == 0 {
		return f.Push(failure.Frame{Location: location(site)})
	}
	for _, w := range withs {
		f.Push(failure.Frame{Location: location(w.Span), Message: w.Message, Attrs: x.attrs(ctx, w.Attrs, sc)})
	}
	return f
}

// scoped appends the frames of the declared scopes, innermost first.
func (x *execution) scoped(ctx context.Context, f *failure.Value) *failure.Value {
	for i := len(x.scopes) - 1; i >= 0; i-- {
		s := x.scopes[i]
		f.Push(failure.Frame{Location: location(s.Span), Message: s.Message, Attrs: x.attrs(ctx, s.Attrs, x.sc)})
	}
	return f
}

func (x *execution) attrs(ctx context.Context, fields []syntax.Field, sc *scope) []failure.Attr {
	if len(fields) == 0 {
		return nil
	}
	out := make([]failure.Attr, 0, len(fields))
	for _, fd := range fields {
		v, err := x.r.eval(ctx, fd.Value, sc)
		if err != nil {
			x.r.log.Warn("attachment failed", zap.String("key", fd.Key), zap.Error(err))
			v = "<error: " + err.Error() + ">"
		}
		out = append(out, failure.Attr{Key: fd.Key, Value: v})
	}
	return out
}

// observe calls fn between the Observer's stage hooks.
func (x *execution) observe(ctx context.Context, info StageInfo, fn func() (any, error)) (any, error) {
	if !x.top || x.r.obs == nil {
		return fn()
	}
	x.r.beforeStage(ctx, info)
	start := time.Now()
	v, err := fn()
	x.r.afterStage(ctx, info, err, time.Since(start))
	return v, err
}

func location(s syntax.Span) failure.Location {
	return failure.Location{File: s.File, Line: s.Start.Line, Col: s.Start.Col}
}

// withsAt returns the run of With stages starting at i.
func withsAt(stages []*syntax.Stage, i int) []*syntax.Stage {
	j := i
	for j < len(stages) && stages[j].Kind == syntax.StageWith {
		j++
	}
	return stages[i:j]
}

func finallyIndex(stages []*syntax.Stage) int {
	for i, s := range stages {
		if s.Kind == syntax.StageFinally {
			return i
		}
	}
	return -1
}
