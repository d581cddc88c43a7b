package pipeline

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/syntax"
)

// eval computes the value of e. The error is a loop signal or a failure.
func (r *runner) eval(ctx context.Context, e syntax.Expr, sc *scope) (any, error) {
	switch n := e.(type) {
	case nil:
		return nil, nil
	case *syntax.Literal:
		return n.Value, nil
	case *syntax.Ident:
		if v, ok := sc.lookup(n.Name); ok {
			return v, nil
		}
		return nil, failure.Errorf("%s: undefined name %q", n.Span, n.Name)
	case *syntax.Selector:
		x, err := r.eval(ctx, n.X, sc)
		if err != nil {
			return nil, err
		}
		return selectField(x, n)
	case *syntax.Index:
		x, err := r.eval(ctx, n.X, sc)
		if err != nil {
			return nil, err
		}
		i, err := r.eval(ctx, n.Index, sc)
		if err != nil {
			return nil, err
		}
		return index(x, i, n.Span)
	case *syntax.Call:
		return r.call(ctx, n, sc)
	case *syntax.Unary:
		x, err := r.eval(ctx, n.X, sc)
		if err != nil {
			return nil, err
		}
		return unary(n, x)
	case *syntax.Binary:
		return r.binary(ctx, n, sc)
	case *syntax.List:
		out := make([]any, 0, len(n.Elems))
		for _, el := range n.Elems {
			v, err := r.eval(ctx, el, sc)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *syntax.Signal:
		if n.Continue {
			return nil, ErrContinue
		}
		return nil, ErrBreak
	case *syntax.Nested:
		return r.exec(ctx, n.Pipeline, sc, false)
	case *syntax.Block:
		return r.evalBlock(ctx, n, sc)
	default:
		return nil, failure.Errorf("%s: unsupported expression %T", e.Position(), e)
	}
}

// evalBlock evaluates each expression in order and returns the last value.
func (r *runner) evalBlock(ctx context.Context, b *syntax.Block, sc *scope) (any, error) {
	if b == nil {
		return nil, nil
	}
	var last any
	for _, e := range b.Exprs {
		v, err := r.eval(ctx, e, sc)
		if err != nil {
			return nil, err
		}
		last = v
	}
	return last, nil
}

// evalMatch runs the body of the first arm whose pattern equals the subject.
func (r *runner) evalMatch(ctx context.Context, m *syntax.Match, sc *scope) (any, error) {
	subject, err := r.eval(ctx, m.Subject, sc)
	if err != nil {
		return nil, err
	}
	for _, arm := range m.Arms {
		if arm.Pattern == nil {
			return r.evalBlock(ctx, arm.Body, sc)
		}
		p, err := r.eval(ctx, arm.Pattern, sc)
		if err != nil {
			return nil, err
		}
		if equal(subject, p) {
			return r.evalBlock(ctx, arm.Body, sc)
		}
	}
	return nil, nil
}

// cond evaluates a condition that must produce a bool.
func (r *runner) cond(ctx context.Context, e syntax.Expr, sc *scope) (bool, error) {
	v, err := r.eval(ctx, e, sc)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, failure.Errorf("%s: condition is %T, not bool", e.Position(), v)
	}
	return b, nil
}

func (r *runner) call(ctx context.Context, n *syntax.Call, sc *scope) (any, error) {
	fn, ok := r.funcs.Lookup(n.Func)
	if !ok {
		return nil, failure.Errorf("%s: unknown function %q", n.Span, n.Func)
	}
	args := make([]any, 0, len(n.Args))
	for _, a := range n.Args {
		v, err := r.eval(ctx, a, sc)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	v, err := fn(ctx, args...)
	if err == nil {
		if fut, ok := v.(Future); ok && sc.async {
			r.log.Debug("awaiting", zap.String("func", n.Func), zap.Stringer("at", n.Span))
			v, err = fut.Await(ctx)
		}
	}
	return r.adopt(v, err)
}

// adopt copies failures a host function hands back, so frames pushed during
// this run never land on a Value the host still holds.
func (r *runner) adopt(v any, err error) (any, error) {
	if err != nil {
		return nil, r.types.Adopt(err)
	}
	if f, ok := v.(*failure.Value); ok {
		return f.Clone(), nil
	}
	return v, nil
}

func (r *runner) binary(ctx context.Context, n *syntax.Binary, sc *scope) (any, error) {
	x, err := r.eval(ctx, n.X, sc)
	if err != nil {
		return nil, err
	}
	if n.Op == syntax.TokenAndAnd || n.Op == syntax.TokenOrOr {
		xb, ok := x.(bool)
		if !ok {
			return nil, failure.Errorf("%s: operand of %s is %T, not bool", n.Span, n.Op, x)
		}
		if xb == (n.Op == syntax.TokenOrOr) {
			return xb, nil
		}
		y, err := r.eval(ctx, n.Y, sc)
		if err != nil {
			return nil, err
		}
		yb, ok := y.(bool)
		if !ok {
			return nil, failure.Errorf("%s: operand of %s is %T, not bool", n.Span, n.Op, y)
		}
		return yb, nil
	}
	y, err := r.eval(ctx, n.Y, sc)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case syntax.TokenEq:
		return equal(x, y), nil
	case syntax.TokenNotEq:
		return !equal(x, y), nil
	case syntax.TokenLt, syntax.TokenLe, syntax.TokenGt, syntax.TokenGe:
		c, ok := compare(x, y)
		if !ok {
			return nil, failure.Errorf("%s: cannot compare %T and %T", n.Span, x, y)
		}
		switch n.Op {
		case syntax.TokenLt:
			return c < 0, nil
		case syntax.TokenLe:
			return c <= 0, nil
		case syntax.TokenGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case syntax.TokenPlus:
		if xs, ok := x.(string); ok {
			if ys, ok := y.(string); ok {
				return xs + ys, nil
			}
		}
		return arith(n, x, y)
	case syntax.TokenMinus:
		return arith(n, x, y)
	}
	return nil, failure.Errorf("%s: unknown operator %s", n.Span, n.Op)
}

func unary(n *syntax.Unary, x any) (any, error) {
	switch n.Op {
	case syntax.TokenBang:
		b, ok := x.(bool)
		if !ok {
			return nil, failure.Errorf("%s: operand of `!` is %T, not bool", n.Span, x)
		}
		return !b, nil
	case syntax.TokenMinus:
		if i, ok := integer(x); ok {
			return -i, nil
		}
		if f, ok := number(x); ok {
			return -f, nil
		}
		return nil, failure.Errorf("%s: operand of `-` is %T, not a number", n.Span, x)
	}
	return nil, failure.Errorf("%s: unknown operator %s", n.Span, n.Op)
}

func arith(n *syntax.Binary, x, y any) (any, error) {
	if xi, ok := integer(x); ok {
		if yi, ok := integer(y); ok {
			if n.Op == syntax.TokenPlus {
				return xi + yi, nil
			}
			return xi - yi, nil
		}
	}
	xf, xok := number(x)
	yf, yok := number(y)
	if !xok || !yok {
		return nil, failure.Errorf("%s: cannot apply %s to %T and %T", n.Span, n.Op, x, y)
	}
	if n.Op == syntax.TokenPlus {
		return xf + yf, nil
	}
	return xf - yf, nil
}

// integer converts Go integer kinds to int64.
func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	}
	return 0, false
}

// number converts any Go numeric kind to float64.
func number(v any) (float64, bool) {
	if i, ok := integer(v); ok {
		return float64(i), true
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func equal(x, y any) bool {
	if xf, ok := number(x); ok {
		yf, ok := number(y)
		return ok && xf == yf
	}
	return reflect.DeepEqual(x, y)
}

func compare(x, y any) (int, bool) {
	if xs, ok := x.(string); ok {
		ys, ok := y.(string)
		if !ok {
			return 0, false
		}
		switch {
		case xs < ys:
			return -1, true
		case xs > ys:
			return 1, true
		}
		return 0, true
	}
	xf, xok := number(x)
	yf, yok := number(y)
	if !xok || !yok {
		return 0, false
	}
	switch {
	case xf < yf:
		return -1, true
	case xf > yf:
		return 1, true
	}
	return 0, true
}

// selectField resolves x.name for failures, maps and Fielder values.
func selectField(x any, n *syntax.Selector) (any, error) {
	switch v := x.(type) {
	case *failure.Value:
		if f, ok := v.Field(n.Name); ok {
			return f, nil
		}
	case failure.Fielder:
		if f, ok := v.Field(n.Name); ok {
			return f, nil
		}
	case error:
		if f, ok := failure.New(v).Field(n.Name); ok {
			return f, nil
		}
	case map[string]any:
		if f, ok := v[n.Name]; ok {
			return f, nil
		}
	case map[string]string:
		if f, ok := v[n.Name]; ok {
			return f, nil
		}
	}
	return nil, failure.Errorf("%s: %T has no field %q", n.Span, x, n.Name)
}

func index(x, i any, at syntax.Span) (any, error) {
	if key, ok := i.(string); ok {
		rv := reflect.ValueOf(x)
		if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
			v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
			if !v.IsValid() {
				return nil, nil
			}
			return v.Interface(), nil
		}
		return nil, failure.Errorf("%s: cannot index %T with a string", at, x)
	}
	n, ok := integer(i)
	if !ok {
		return nil, failure.Errorf("%s: index is %T, not an integer", at, i)
	}
	list, ok := toList(x)
	if !ok {
		return nil, failure.Errorf("%s: cannot index %T", at, x)
	}
	if n < 0 {
		n += int64(len(list))
	}
	if n < 0 || n >= int64(len(list)) {
		return nil, failure.Errorf("%s: index %d out of range [0:%d]", at, n, len(list))
	}
	return list[n], nil
}

// toList converts slices and arrays of any element type to []any.
func toList(x any) ([]any, bool) {
	switch v := x.(type) {
	case []any:
		return v, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(x)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// produced turns the outcome of a throw body or a require failure expression
// into the failure it stands for.
func (r *runner) produced(v any, err error) *failure.Value {
	if err != nil {
		return r.types.Wrap(err)
	}
	switch t := v.(type) {
	case *failure.Value:
		if t != nil {
			return t
		}
	case error:
		return r.types.Wrap(t)
	case string:
		return failure.Msg(t)
	case nil:
	default:
		return failure.Msg(fmt.Sprint(t))
	}
	return failure.Msg("no failure value")
}

func typeName(v any) string { return fmt.Sprintf("%T", v) }
