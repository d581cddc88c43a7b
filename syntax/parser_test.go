package syntax

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func mustParse(t *testing.T, src string) *Pipeline {
	t.Helper()
	p, err := Parse("test.pipe", src)
	if err != nil {
		var se *SyntaxError
		if errors.As(err, &se) {
			t.Fatalf("parse: %s", se.Snippet())
		}
		t.Fatalf("parse: %v", err)
	}
	return p
}

func kinds(p *Pipeline) []string {
	var out []string
	for _, s := range p.Stages {
		out = append(out, s.Kind.String())
	}
	return out
}

// --- Pipelines ---

func TestParse_StageOrderPreserved(t *testing.T) {
	p := mustParse(t, `
		require ready() else "not ready",
		scope "loading user", { id: 7 },
		try { fetch(id)? } with "fetching", { attempt: 1 } with "second"
		then |u| { decode(u) } with "decoding"
		inspect e { log(e) }
		throw NotFound(e) { raise("Missing", e.message) }
		catch Missing(_) when retries > 3 { null }
		catch e { fallback() }
		finally { close() }
	`)
	want := []string{"require", "scope", "with", "with", "then", "with", "inspect", "throw", "catch", "catch", "finally"}
	if diff := cmp.Diff(want, kinds(p)); diff != "" {
		t.Errorf("stage order (-want +got):\n%s", diff)
	}
	if p.Try.Kind != TryBasic {
		t.Errorf("try kind: got %v", p.Try.Kind)
	}
}

func TestParse_Outline(t *testing.T) {
	p := mustParse(t, `try { load(id) } with "loading", { id: id } catch NotFound(e) when e.code == 404 { null }`)
	got := Describe(p)
	want := Outline{
		Name: "test.pipe",
		Try:  TryOutline{Kind: "basic", Body: "{ load(id) }"},
		Stages: []StageOutline{
			{Kind: "with", Message: "loading", Data: map[string]string{"id": "id"}},
			{Kind: "catch", Type: "NotFound", Binding: "e", Guard: "e.code == 404", Body: "{ null }"},
		},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreTypes(Span{})); diff != "" {
		t.Errorf("outline (-want +got):\n%s", diff)
	}
}

func TestParse_TryForms(t *testing.T) {
	tests := []struct {
		src  string
		kind TryKind
	}{
		{`try { a() }`, TryBasic},
		{`try when x > 1 { a() } else when x > 0 { b() } else { c() }`, TryWhen},
		{`try for x in items { op(x)? }`, TryForEach},
		{`try any host in ["a", "b"] { dial(host) }`, TryAny},
		{`try all x in xs { op(x) }`, TryAll},
		{`try while attempt < 3 { flaky() }`, TryWhile},
		{`async try { fetch() }`, TryBasic},
	}
	for _, tt := range tests {
		p := mustParse(t, tt.src)
		if p.Try.Kind != tt.kind {
			t.Errorf("%s: got kind %v, want %v", tt.src, p.Try.Kind, tt.kind)
		}
	}
}

func TestParse_Conditional(t *testing.T) {
	p := mustParse(t, `try when a { x() } else when b { y() } else { z() }`)
	if len(p.Try.Branches) != 2 {
		t.Fatalf("branches: got %d, want 2", len(p.Try.Branches))
	}
	if p.Try.Else == nil {
		t.Fatal("expected else block")
	}
	if len(p.Stages) != 0 {
		t.Errorf("else of a conditional try must not become a handler: %v", kinds(p))
	}
}

func TestParse_IteratingForm(t *testing.T) {
	p := mustParse(t, `try any x in sources() { read(x) } catch any Timeout(e) { null } catch all NotFound |errs| { len(errs) }`)
	if p.Try.Var != "x" {
		t.Errorf("var: got %q", p.Try.Var)
	}
	if got := FormatExpr(p.Try.Source); got != "sources()" {
		t.Errorf("source: got %q", got)
	}
	if p.Stages[0].Search != SearchAny || p.Stages[1].Search != SearchAll {
		t.Errorf("search modes: got %v, %v", p.Stages[0].Search, p.Stages[1].Search)
	}
	if p.Stages[1].Binding.Name != "errs" {
		t.Errorf("all binding: got %q", p.Stages[1].Binding.Name)
	}
}

func TestParse_Bindings(t *testing.T) {
	p := mustParse(t, `try { a() } catch NotFound(_) { 1 } catch Timeout { 2 } throw io.Error(e) { e } catch _ { 3 }`)
	want := []Binding{{Kind: BindUnderscore}, {Kind: BindNone}, {Kind: BindNamed, Name: "e"}, {Kind: BindUnderscore}}
	var got []Binding
	for _, s := range p.Stages {
		got = append(got, s.Binding)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bindings (-want +got):\n%s", diff)
	}
	if p.Stages[2].Type != "io.Error" {
		t.Errorf("dotted type: got %q", p.Stages[2].Type)
	}
}

func TestParse_ElseSugar(t *testing.T) {
	p := mustParse(t, `try -> User { load() } catch NotFound(e) { guest() } else { anonymous() }`)
	if !p.Try.Direct || p.Try.Result != "User" {
		t.Errorf("direct mode: got %v %q", p.Try.Direct, p.Try.Result)
	}
	last := p.Stages[len(p.Stages)-1]
	if !last.Sugar || !last.CatchAll() {
		t.Errorf("else should be an untyped catch-all, got %+v", last)
	}
}

func TestParse_FallibleCatch(t *testing.T) {
	p := mustParse(t, `try { primary() } try catch e { secondary() }`)
	if !p.Stages[0].Fallible || p.Stages[0].Kind != StageCatch {
		t.Errorf("expected fallible catch, got %+v", p.Stages[0])
	}
}

func TestParse_Match(t *testing.T) {
	p := mustParse(t, `try { get() } catch HTTPStatus(e) match e.status { 404 => null, 500 => { retry() }, _ => raise("Fatal", e.message) }`)
	m := p.Stages[0].Match
	if m == nil {
		t.Fatal("expected match body")
	}
	if len(m.Arms) != 3 || m.Arms[2].Pattern != nil {
		t.Errorf("arms: got %d, wildcard last = %v", len(m.Arms), m.Arms[len(m.Arms)-1].Pattern == nil)
	}
}

func TestParse_Nested(t *testing.T) {
	p := mustParse(t, `try { try { fail("root") } with "ctx1" } with "ctx2"`)
	nested := p.Nested()
	if len(nested) != 1 {
		t.Fatalf("nested: got %d", len(nested))
	}
	if nested[0].Stages[0].Message != "ctx1" || p.Stages[0].Message != "ctx2" {
		t.Errorf("with messages: inner %q outer %q", nested[0].Stages[0].Message, p.Stages[0].Message)
	}
}

func TestParse_RequireBlockFailure(t *testing.T) {
	p := mustParse(t, `require n > 0 else { raise("Invalid", "n must be positive") } with { n: n }, try { div(10, n) }`)
	if _, ok := p.Stages[0].Fail.(*Block); !ok {
		t.Errorf("require failure: got %T", p.Stages[0].Fail)
	}
	if w := p.Stages[0].Withs; len(w) != 1 || w[0].Kind != StageWith || w[0].Attrs[0].Key != "n" {
		t.Errorf("require withs: got %+v", w)
	}
	if len(p.Stages) != 1 {
		t.Errorf("require withs must not reach the stage list, got %v", kinds(p))
	}
}

func TestParse_RequireThenTryWiths(t *testing.T) {
	p := mustParse(t, `require ok() else "not ok" with "checking" try { a() } with "loading"`)
	if diff := cmp.Diff([]string{"require", "with"}, kinds(p)); diff != "" {
		t.Errorf("stage order (-want +got):\n%s", diff)
	}
	if len(p.Stages[0].Withs) != 1 || p.Stages[0].Withs[0].Message != "checking" {
		t.Errorf("require withs: got %+v", p.Stages[0].Withs)
	}
	if p.Stages[1].Message != "loading" {
		t.Errorf("try with: got %q", p.Stages[1].Message)
	}
}

func TestParse_Expressions(t *testing.T) {
	tests := map[string]string{
		`a || b && !c`:         "a || b && !c",
		`x.y.z == "q"`:         `x.y.z == "q"`,
		`http.get(url)?`:       "http.get(url)?",
		`items[0] + 1`:         "items[0] + 1",
		`[1, 2.5, true, null]`: "[1, 2.5, true, null]",
		`-(n) < 3`:             "-n < 3",
	}
	for src, want := range tests {
		e, err := ParseExpr("expr", src)
		if err != nil {
			t.Errorf("%s: %v", src, err)
			continue
		}
		if got := FormatExpr(e); got != want {
			t.Errorf("%s: got %q, want %q", src, got, want)
		}
	}
}

func TestParse_Precedence(t *testing.T) {
	e, err := ParseExpr("expr", `a == 1 || b && c`)
	if err != nil {
		t.Fatal(err)
	}
	or, ok := e.(*Binary)
	if !ok || or.Op != TokenOrOr {
		t.Fatalf("expected || at the root, got %s", FormatExpr(e))
	}
	if and, ok := or.Y.(*Binary); !ok || and.Op != TokenAndAnd {
		t.Errorf("expected && on the right, got %s", FormatExpr(or.Y))
	}
}

// --- Errors ---

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name, src, want string
	}{
		{"inspect binding", `try { a() } inspect { log() }`, "`inspect` requires a binding"},
		{"any needs type", `try any x in xs { a(x) } catch any e { 1 }`, "`any` requires a type"},
		{"all needs type", `try all x in xs { a(x) } catch all |e| { 1 }`, "`all` requires a type"},
		{"if guard", `try { a() } catch e if e.code == 1 { 1 }`, "use `when` for guards, not `if`"},
		{"missing body", `try { a() } catch e`, "missing body after binding"},
		{"reserved", `try { a() } catch __err { 1 }`, "`__err` is reserved for internal use"},
		{"two finally", `try { a() } finally { b() } finally { c() }`, "multiple `finally` blocks are not allowed"},
		{"all parens", `try all x in xs { a(x) } catch all NotFound(e) { 1 }`, "catch all needs |e| not (e)"},
		{"not a try", `catch e { 1 }`, "expected `try`, `require`, or `scope`"},
		{"require else", `require ok() "msg", try { a() }`, "missing 'else' in require"},
		{"while cond", `try while { a() }`, "expected condition before `{`"},
		{"iterator", `try for x in { a(x) }`, "missing iterator expression"},
		{"search outside iteration", `try { a() } catch any NotFound(e) { 1 }`, "only allowed when the pipeline uses `try any` or `try all`"},
		{"search in for-each", `try for x in xs { a(x) } throw all NotFound |e| { 1 }`, "only allowed when the pipeline uses `try any` or `try all`"},
		{"else without typed", `try { a() } else { b() }`, "`else` needs a preceding typed"},
		{"direct with require", `require ok() else "no", try -> int { a() } else { 0 }`, "cannot be combined with direct mode"},
		{"scope after handlers", `try { a() } catch e { 1 } scope "x"`, "`scope` must come before `try`"},
		{"unknown keyword", `try { a() } rescue e { 1 }`, "unknown keyword `rescue`"},
		{"empty arm", `try { a() } catch e match e.code { 1 => {}, _ => 2 }`, "match arm must produce a value"},
		{"not exhaustive", `try { a() } catch e match e.code { 1 => 2 }`, "non-exhaustive `match`"},
		{"unterminated", `try { a("x) }`, "unterminated string literal"},
		{"single equals", `try { a() } catch e when e.code = 1 { 1 }`, "use `==` to compare"},
		{"then after handler", `try { a() } catch e { 1 } then |x| { x }`, "`then` must come before error handlers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.pipe", tt.src)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SyntaxError, got %T", err)
			}
			if !strings.Contains(se.Msg, tt.want) {
				t.Errorf("got %q, want it to contain %q", se.Msg, tt.want)
			}
		})
	}
}

func TestSyntaxError_Snippet(t *testing.T) {
	_, err := Parse("bad.pipe", "try { a() }\ncatch e if x { 1 }")
	var se *SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SyntaxError, got %v", err)
	}
	if se.Pos.Line != 2 || se.Pos.Col != 9 {
		t.Errorf("position: got %v", se.Pos)
	}
	want := "bad.pipe:2:9: use `when` for guards, not `if`: `catch e when condition { ... }` (near 'if')\n" +
		"  2 | catch e if x { 1 }\n" +
		"              ^"
	if got := se.Snippet(); got != want {
		t.Errorf("snippet:\n%s\nwant:\n%s", got, want)
	}
}
