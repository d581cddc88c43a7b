package syntax

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the logger used for parse tracing. The default discards.
func WithLogger(l *zap.Logger) Option {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

// Parser is a recursive-descent parser over a token slice.
type Parser struct {
	file   string
	src    string
	toks   []Token
	pos    int
	try    *Try // try of the pipeline whose stages are being parsed
	logger *zap.Logger
}

// Parse parses a complete pipeline description. file names the source in
// spans and errors.
func Parse(file, src string, opts ...Option) (*Pipeline, error) {
	p, err := newParser(file, src, opts)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("parsing pipeline", zap.String("file", file), zap.Int("tokens", len(p.toks)))
	pl, err := p.parsePipeline()
	if err == nil && !p.at(TokenEOF) {
		err = p.errorf(p.cur(), "unexpected %s after pipeline", p.cur().Kind)
	}
	if err != nil {
		p.logger.Debug("parse failed", zap.String("file", file), zap.Error(err))
		return nil, err
	}
	return pl, nil
}

// ParseExpr parses a single expression, as used by structured pipeline forms.
func ParseExpr(file, src string, opts ...Option) (Expr, error) {
	p, err := newParser(file, src, opts)
	if err != nil {
		return nil, err
	}
	e, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if !p.at(TokenEOF) {
		return nil, p.errorf(p.cur(), "unexpected %s after expression", p.cur().Kind)
	}
	return e, nil
}

// ParseBlock parses src as the contents of a `{ }` body.
func ParseBlock(file, src string, opts ...Option) (*Block, error) {
	p, err := newParser(file, src, opts)
	if err != nil {
		return nil, err
	}
	start := p.cur()
	b := &Block{}
	if err := p.parseBlockBody(b, TokenEOF); err != nil {
		return nil, err
	}
	b.Span = p.span(start)
	return b, nil
}

func newParser(file, src string, opts []Option) (*Parser, error) {
	toks, err := NewLexer(file, src).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{file: file, src: src, toks: toks, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// --- token helpers ---

func (p *Parser) cur() Token { return p.toks[p.pos] }

func (p *Parser) peek(n int) Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *Parser) prev() Token {
	if p.pos == 0 {
		return p.toks[0]
	}
	return p.toks[p.pos-1]
}

func (p *Parser) advance() Token {
	t := p.cur()
	if t.Kind != TokenEOF {
		p.pos++
	}
	return t
}

func (p *Parser) at(k TokenKind) bool { return p.cur().Kind == k }

func (p *Parser) accept(k TokenKind) bool {
	if p.at(k) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(k TokenKind, context string) (Token, error) {
	if !p.at(k) {
		return Token{}, p.errorf(p.cur(), "expected %s %s, found %s", k, context, p.cur().Kind)
	}
	return p.advance(), nil
}

func (p *Parser) span(start Token) Span {
	end := p.prev().End
	if p.pos == 0 || end.Offset < start.Pos.Offset {
		end = start.End
	}
	return Span{File: p.file, Start: start.Pos, End: end}
}

func (p *Parser) errorf(at Token, format string, args ...any) *SyntaxError {
	near := at.Text
	if at.Kind == TokenEOF {
		near = ""
	}
	return errorAt(p.file, p.src, at.Pos, fmt.Sprintf(format, args...), near)
}

// --- pipeline ---

func (p *Parser) parsePipeline() (*Pipeline, error) {
	start := p.cur()
	pl := &Pipeline{Name: p.file}

	var prelude []*Stage
	for parsing := true; parsing; {
		switch p.cur().Kind {
		case TokenRequire:
			st, err := p.parseRequire()
			if err != nil {
				return nil, err
			}
			if st.Withs, err = p.parseWiths(); err != nil {
				return nil, err
			}
			prelude = append(prelude, st)
			p.accept(TokenComma)
		case TokenScope:
			st, err := p.parseScope()
			if err != nil {
				return nil, err
			}
			prelude = append(prelude, st)
		default:
			parsing = false
		}
	}

	t, err := p.parseTry()
	if err != nil {
		return nil, err
	}
	if t.Direct && len(prelude) > 0 {
		return nil, &SyntaxError{File: p.file, Pos: prelude[0].Span.Start, Msg: fmt.Sprintf("`%s` cannot be combined with direct mode `try -> %s`", prelude[0].Kind, t.Result), line: sourceLine(p.src, prelude[0].Span.Start.Line)}
	}
	pl.Try = t
	pl.Stages = prelude

	saved := p.try
	p.try = t
	defer func() { p.try = saved }()

	withs, err := p.parseWiths()
	if err != nil {
		return nil, err
	}
	pl.Stages = append(pl.Stages, withs...)

	if err := p.parseStages(pl); err != nil {
		return nil, err
	}
	pl.Span = p.span(start)
	return pl, nil
}

func (p *Parser) parseStages(pl *Pipeline) error {
	var (
		handlers    bool
		lastTyped   bool
		seenFinally bool
	)
	for {
		p.accept(TokenComma)
		tok := p.cur()
		switch tok.Kind {
		case TokenEOF, TokenRBrace, TokenSemi:
			return nil

		case TokenThen:
			if handlers {
				return p.errorf(tok, "`then` must come before error handlers")
			}
			st, err := p.parseThen()
			if err != nil {
				return err
			}
			pl.Stages = append(pl.Stages, st)
			withs, err := p.parseWiths()
			if err != nil {
				return err
			}
			pl.Stages = append(pl.Stages, withs...)

		case TokenCatch, TokenThrow, TokenInspect:
			p.advance()
			st, err := p.parseClause(stageKind(tok.Kind), tok)
			if err != nil {
				return err
			}
			pl.Stages = append(pl.Stages, st)
			handlers = true
			lastTyped = st.Type != "" && st.Kind != StageInspect

		case TokenTry:
			if p.peek(1).Kind != TokenCatch {
				return p.errorf(tok, "expected `catch` after `try` in handler position: `try catch e { ... }`")
			}
			p.advance()
			p.advance()
			st, err := p.parseClause(StageCatch, tok)
			if err != nil {
				return err
			}
			st.Fallible = true
			pl.Stages = append(pl.Stages, st)
			handlers = true
			lastTyped = st.Type != ""

		case TokenElse:
			if !lastTyped && !pl.Try.Direct {
				return p.errorf(tok, "`else` needs a preceding typed `catch` or `throw`, or direct mode `try -> T`")
			}
			p.advance()
			body, err := p.parseBlock()
			if err != nil {
				return err
			}
			pl.Stages = append(pl.Stages, &Stage{Kind: StageCatch, Sugar: true, Body: body, Span: p.span(tok)})
			handlers = true
			lastTyped = false

		case TokenFinally:
			if seenFinally {
				return p.errorf(tok, "multiple `finally` blocks are not allowed; combine into a single block")
			}
			seenFinally = true
			p.advance()
			body, err := p.parseBlock()
			if err != nil {
				return err
			}
			pl.Stages = append(pl.Stages, &Stage{Kind: StageFinally, Body: body, Span: p.span(tok)})

		case TokenWith:
			return p.errorf(tok, "`with` must directly follow a `try` or `then` step")
		case TokenScope, TokenRequire:
			return p.errorf(tok, "`%s` must come before `try`", tok.Text)
		case TokenIdent:
			return p.errorf(tok, "unknown keyword `%s` in handler position; expected `catch`, `throw`, `inspect`, `finally` or `then`", tok.Text)
		default:
			return p.errorf(tok, "unexpected %s in handler position", tok.Kind)
		}
	}
}

func stageKind(k TokenKind) StageKind {
	switch k {
	case TokenThrow:
		return StageThrow
	case TokenInspect:
		return StageInspect
	default:
		return StageCatch
	}
}

func (p *Parser) parseTry() (*Try, error) {
	start := p.cur()
	t := &Try{}
	t.Async = p.accept(TokenAsync)
	if !p.at(TokenTry) {
		return nil, p.errorf(p.cur(), "expected `try`, `require`, or `scope`, found %s", p.cur().Kind)
	}
	p.advance()

	if p.accept(TokenArrow) {
		if p.at(TokenIdent) && !p.atType() {
			t.Result = p.advance().Text
		} else {
			name, err := p.parseTypeName("after `->`")
			if err != nil {
				return nil, err
			}
			t.Result = name
		}
		t.Direct = true
	}

	var err error
	switch tok := p.cur(); tok.Kind {
	case TokenLBrace:
		t.Kind = TryBasic
		t.Body, err = p.parseBlock()
	case TokenWhen:
		t.Kind = TryWhen
		err = p.parseBranches(t)
	case TokenFor, TokenAny, TokenAll:
		p.advance()
		t.Kind = map[TokenKind]TryKind{TokenFor: TryForEach, TokenAny: TryAny, TokenAll: TryAll}[tok.Kind]
		name, err := p.expect(TokenIdent, "as loop variable")
		if err != nil {
			return nil, err
		}
		if err := checkBindingName(p, name); err != nil {
			return nil, err
		}
		t.Var = name.Text
		if _, err := p.expect(TokenIn, "after loop variable"); err != nil {
			return nil, err
		}
		if p.at(TokenLBrace) {
			return nil, p.errorf(p.cur(), "missing iterator expression: `try %s %s in ITERATOR { ... }`", tok.Text, t.Var)
		}
		if t.Source, err = p.parseExpr(); err != nil {
			return nil, err
		}
		if t.Body, err = p.parseBlock(); err != nil {
			return nil, err
		}
	case TokenWhile:
		p.advance()
		t.Kind = TryWhile
		if p.at(TokenLBrace) {
			return nil, p.errorf(p.cur(), "expected condition before `{`")
		}
		if t.Cond, err = p.parseExpr(); err != nil {
			return nil, err
		}
		t.Body, err = p.parseBlock()
	case TokenCatch:
		return nil, p.errorf(tok, "missing try body: `try { ... } catch e { ... }`")
	default:
		return nil, p.errorf(tok, "expected `{`, `when`, `for`, `any`, `all` or `while` after `try`, found %s", tok.Kind)
	}
	if err != nil {
		return nil, err
	}
	t.Span = p.span(start)
	return t, nil
}

func (p *Parser) parseBranches(t *Try) error {
	for {
		start := p.advance() // when
		if p.at(TokenLBrace) {
			return p.errorf(p.cur(), "expected condition before `{`")
		}
		cond, err := p.parseExpr()
		if err != nil {
			return err
		}
		body, err := p.parseBlock()
		if err != nil {
			return err
		}
		t.Branches = append(t.Branches, &Branch{Cond: cond, Body: body, Span: p.span(start)})
		if !p.at(TokenElse) {
			return nil
		}
		p.advance()
		if !p.at(TokenWhen) {
			t.Else, err = p.parseBlock()
			return err
		}
	}
}

func (p *Parser) parseRequire() (*Stage, error) {
	start := p.advance()
	st := &Stage{Kind: StageRequire}
	if p.at(TokenElse) || p.at(TokenLBrace) {
		return nil, p.errorf(p.cur(), "expected condition after `require`")
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	st.Cond = cond
	if !p.accept(TokenElse) {
		return nil, p.errorf(p.cur(), "missing 'else' in require: `require COND else \"message\", ...`")
	}
	switch tok := p.cur(); tok.Kind {
	case TokenString:
		p.advance()
		st.Fail = &Literal{Value: tok.Text, Span: p.span(tok)}
	case TokenLBrace:
		if st.Fail, err = p.parseBlock(); err != nil {
			return nil, err
		}
	default:
		return nil, p.errorf(tok, "expected a message string or `{ error }` after `else` in require")
	}
	st.Span = p.span(start)
	return st, nil
}

func (p *Parser) parseScope() (*Stage, error) {
	start := p.advance()
	label, err := p.expect(TokenString, "as scope name")
	if err != nil {
		return nil, err
	}
	st := &Stage{Kind: StageScope, Message: label.Text}
	if p.at(TokenComma) && p.peek(1).Kind == TokenLBrace {
		p.advance()
		if st.Attrs, err = p.parseObject(); err != nil {
			return nil, err
		}
	}
	st.Span = p.span(start)
	p.accept(TokenComma)
	return st, nil
}

func (p *Parser) parseThen() (*Stage, error) {
	start := p.advance()
	st := &Stage{Kind: StageThen}
	if p.accept(TokenPipe) {
		name, err := p.expect(TokenIdent, "as then binding")
		if err != nil {
			return nil, err
		}
		if st.Binding, err = p.binding(name); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenPipe, "after then binding"); err != nil {
			return nil, err
		}
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	st.Body = body
	st.Span = p.span(start)
	return st, nil
}

func (p *Parser) parseWiths() ([]*Stage, error) {
	var out []*Stage
	for p.at(TokenWith) || (p.at(TokenComma) && p.peek(1).Kind == TokenWith) {
		p.accept(TokenComma)
		start := p.advance()
		st := &Stage{Kind: StageWith}
		var err error
		switch p.cur().Kind {
		case TokenString:
			st.Message = p.advance().Text
			if p.at(TokenComma) && p.peek(1).Kind == TokenLBrace {
				p.advance()
				st.Attrs, err = p.parseObject()
			}
		case TokenLBrace:
			st.Attrs, err = p.parseObject()
		default:
			return nil, p.errorf(p.cur(), "expected a message string or `{ key: value }` after `with`")
		}
		if err != nil {
			return nil, err
		}
		st.Span = p.span(start)
		out = append(out, st)
	}
	return out, nil
}

func (p *Parser) parseObject() ([]Field, error) {
	if _, err := p.expect(TokenLBrace, "to open data"); err != nil {
		return nil, err
	}
	var fields []Field
	for !p.at(TokenRBrace) {
		key := p.cur()
		if key.Kind != TokenIdent && key.Kind != TokenString && !key.Kind.IsKeyword() {
			return nil, p.errorf(key, "expected a key in data block, found %s", key.Kind)
		}
		p.advance()
		if _, err := p.expect(TokenColon, "after key"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Key: key.Text, Value: val, Span: p.span(key)})
		if !p.accept(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRBrace, "to close data"); err != nil {
		return nil, err
	}
	return fields, nil
}

// parseClause parses the matching grammar shared by catch, throw and inspect.
func (p *Parser) parseClause(kind StageKind, start Token) (*Stage, error) {
	st := &Stage{Kind: kind}
	keyword := kind.String()

	if mode := p.cur(); mode.Kind == TokenAny || mode.Kind == TokenAll {
		p.advance()
		st.Search = SearchAny
		example := fmt.Sprintf("`%s any Type(e) { ... }`", keyword)
		if mode.Kind == TokenAll {
			st.Search = SearchAll
			example = fmt.Sprintf("`%s all Type |errors| { ... }`", keyword)
		}
		if p.try == nil || (p.try.Kind != TryAny && p.try.Kind != TryAll) {
			return nil, p.errorf(mode, "`%s %s` is only allowed when the pipeline uses `try any` or `try all`", keyword, mode.Text)
		}
		if !p.atType() {
			return nil, p.errorf(p.cur(), "`%s` requires a type: %s", mode.Text, example)
		}
	}

	if p.atType() {
		name, err := p.parseTypeName("")
		if err != nil {
			return nil, err
		}
		st.Type = name
	}

	switch tok := p.cur(); tok.Kind {
	case TokenLParen:
		if st.Search == SearchAll {
			return nil, p.errorf(tok, "%s all needs |e| not (e)", keyword)
		}
		if st.Type == "" {
			return nil, p.errorf(tok, "a parenthesised binding needs a type: `%s Type(e) { ... }`", keyword)
		}
		p.advance()
		name, err := p.expect(TokenIdent, "as binding")
		if err != nil {
			return nil, err
		}
		if st.Binding, err = p.binding(name); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, "after binding"); err != nil {
			return nil, err
		}
	case TokenPipe:
		if st.Search != SearchAll {
			return nil, p.errorf(tok, "`|e|` bindings are only used with `all`: `%s all Type |errors| { ... }`", keyword)
		}
		p.advance()
		name, err := p.expect(TokenIdent, "as binding")
		if err != nil {
			return nil, err
		}
		if st.Binding, err = p.binding(name); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenPipe, "after binding"); err != nil {
			return nil, err
		}
	case TokenIdent:
		if st.Type != "" {
			return nil, p.errorf(tok, "typed bindings are written `%s %s(%s) { ... }`", keyword, st.Type, tok.Text)
		}
		p.advance()
		var err error
		if st.Binding, err = p.binding(tok); err != nil {
			return nil, err
		}
	}

	if kind == StageInspect && st.Binding.Kind == BindNone {
		return nil, p.errorf(p.cur(), "`inspect` requires a binding: `inspect e { ... }`")
	}

	if p.at(TokenIf) {
		return nil, p.errorf(p.cur(), "use `when` for guards, not `if`: `%s e when condition { ... }`", keyword)
	}
	if p.accept(TokenWhen) {
		guard, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		st.Guard = guard
	}

	switch {
	case p.at(TokenMatch):
		m, err := p.parseMatch()
		if err != nil {
			return nil, err
		}
		st.Match = m
	case p.at(TokenLBrace):
		body, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		st.Body = body
	default:
		return nil, p.errorf(p.cur(), "missing body after binding, expected `{ ... }`")
	}
	st.Span = p.span(start)
	return st, nil
}

func (p *Parser) binding(name Token) (Binding, error) {
	if err := checkBindingName(p, name); err != nil {
		return Binding{}, err
	}
	if name.Text == "_" {
		return Binding{Kind: BindUnderscore}, nil
	}
	return Binding{Kind: BindNamed, Name: name.Text}, nil
}

func checkBindingName(p *Parser, name Token) error {
	if strings.HasPrefix(name.Text, "__") {
		return p.errorf(name, "`%s` is reserved for internal use; choose a different binding name", name.Text)
	}
	return nil
}

func (p *Parser) parseMatch() (*Match, error) {
	start := p.advance()
	subject, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	m := &Match{Subject: subject}
	if _, err := p.expect(TokenLBrace, "to open match arms"); err != nil {
		return nil, err
	}
	wildcard := false
	for !p.at(TokenRBrace) {
		armStart := p.cur()
		arm := &Arm{}
		if armStart.Kind == TokenIdent && armStart.Text == "_" {
			p.advance()
			wildcard = true
		} else {
			if arm.Pattern, err = p.parseExpr(); err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(TokenFatArrow, "after match pattern"); err != nil {
			return nil, err
		}
		if p.at(TokenLBrace) {
			if arm.Body, err = p.parseBlock(); err != nil {
				return nil, err
			}
			if len(arm.Body.Exprs) == 0 {
				return nil, &SyntaxError{File: p.file, Pos: arm.Body.Span.Start, Msg: "match arm must produce a value", Near: "{", line: sourceLine(p.src, arm.Body.Span.Start.Line)}
			}
		} else {
			e, err := p.parseStatement()
			if err != nil {
				return nil, err
			}
			arm.Body = &Block{Exprs: []Expr{e}, Span: e.Position()}
		}
		arm.Span = p.span(armStart)
		m.Arms = append(m.Arms, arm)
		if !p.accept(TokenComma) {
			break
		}
	}
	end, err := p.expect(TokenRBrace, "to close match")
	if err != nil {
		return nil, err
	}
	if !wildcard {
		return nil, p.errorf(end, "non-exhaustive `match`: add a `_ => ...` arm")
	}
	m.Span = p.span(start)
	return m, nil
}

func (p *Parser) atType() bool {
	tok := p.cur()
	if tok.Kind != TokenIdent || tok.Text == "" {
		return false
	}
	if unicode.IsUpper(rune(tok.Text[0])) {
		return true
	}
	// a lowercase qualifier such as io.Error
	return p.peek(1).Kind == TokenDot && p.peek(2).Kind == TokenIdent
}

func (p *Parser) parseTypeName(context string) (string, error) {
	if !p.atType() {
		return "", p.errorf(p.cur(), "expected a type name %s, found %s", context, p.cur().Kind)
	}
	parts := []string{p.advance().Text}
	for p.at(TokenDot) && p.peek(1).Kind == TokenIdent {
		p.advance()
		parts = append(parts, p.advance().Text)
	}
	return strings.Join(parts, "."), nil
}

// --- blocks and expressions ---

func (p *Parser) parseBlock() (*Block, error) {
	open, err := p.expect(TokenLBrace, "to open body")
	if err != nil {
		return nil, err
	}
	b := &Block{}
	if err := p.parseBlockBody(b, TokenRBrace); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRBrace, "to close body"); err != nil {
		if p.at(TokenEOF) {
			return nil, p.errorf(open, "unclosed `{`")
		}
		return nil, err
	}
	b.Span = p.span(open)
	return b, nil
}

func (p *Parser) parseBlockBody(b *Block, end TokenKind) error {
	for !p.at(end) && !p.at(TokenEOF) {
		e, err := p.parseStatement()
		if err != nil {
			return err
		}
		b.Exprs = append(b.Exprs, e)
		if !p.accept(TokenSemi) {
			break
		}
	}
	return nil
}

func (p *Parser) parseStatement() (Expr, error) {
	switch p.cur().Kind {
	case TokenTry, TokenAsync, TokenRequire, TokenScope:
		start := p.cur()
		pl, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		return &Nested{Pipeline: pl, Span: p.span(start)}, nil
	}
	return p.parseExpr()
}

func (p *Parser) parseExpr() (Expr, error) { return p.parseBinary(1) }

func precedence(k TokenKind) int {
	switch k {
	case TokenOrOr:
		return 1
	case TokenAndAnd:
		return 2
	case TokenEq, TokenNotEq, TokenLt, TokenLe, TokenGt, TokenGe:
		return 3
	case TokenPlus, TokenMinus:
		return 4
	}
	return 0
}

func (p *Parser) parseBinary(min int) (Expr, error) {
	start := p.cur()
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		prec := precedence(p.cur().Kind)
		if prec == 0 || prec < min {
			return left, nil
		}
		op := p.advance()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op.Kind, X: left, Y: right, Span: p.span(start)}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	if tok := p.cur(); tok.Kind == TokenBang || tok.Kind == TokenMinus {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: tok.Kind, X: x, Span: p.span(tok)}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	start := p.cur()
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch tok := p.cur(); tok.Kind {
		case TokenDot:
			p.advance()
			name := p.cur()
			if name.Kind != TokenIdent && !name.Kind.IsKeyword() {
				return nil, p.errorf(name, "expected field name after `.`")
			}
			p.advance()
			x = &Selector{X: x, Name: name.Text, Span: p.span(start)}
		case TokenLParen:
			fn, ok := calleeName(x)
			if !ok {
				return nil, p.errorf(tok, "only named functions can be called")
			}
			p.advance()
			var args []Expr
			for !p.at(TokenRParen) {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if !p.accept(TokenComma) {
					break
				}
			}
			if _, err := p.expect(TokenRParen, "to close call"); err != nil {
				return nil, err
			}
			x = &Call{Func: fn, Args: args, Span: p.span(start)}
		case TokenLBrack:
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRBrack, "to close index"); err != nil {
				return nil, err
			}
			x = &Index{X: x, Index: idx, Span: p.span(start)}
		case TokenQuestion:
			call, ok := x.(*Call)
			if !ok {
				return nil, p.errorf(tok, "`?` can only follow a call")
			}
			p.advance()
			call.Propagate = true
			call.Span = p.span(start)
		default:
			return x, nil
		}
	}
}

func calleeName(x Expr) (string, bool) {
	switch n := x.(type) {
	case *Ident:
		return n.Name, true
	case *Selector:
		base, ok := calleeName(n.X)
		if !ok {
			return "", false
		}
		return base + "." + n.Name, true
	}
	return "", false
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.cur()
	switch tok.Kind {
	case TokenInt:
		p.advance()
		n, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return nil, p.errorf(tok, "invalid integer %s", tok.Text)
		}
		return &Literal{Value: n, Span: p.span(tok)}, nil
	case TokenFloat:
		p.advance()
		f, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, p.errorf(tok, "invalid number %s", tok.Text)
		}
		return &Literal{Value: f, Span: p.span(tok)}, nil
	case TokenString:
		p.advance()
		return &Literal{Value: tok.Text, Span: p.span(tok)}, nil
	case TokenTrue, TokenFalse:
		p.advance()
		return &Literal{Value: tok.Kind == TokenTrue, Span: p.span(tok)}, nil
	case TokenNull:
		p.advance()
		return &Literal{Value: nil, Span: p.span(tok)}, nil
	case TokenIdent:
		p.advance()
		return &Ident{Name: tok.Text, Span: p.span(tok)}, nil
	case TokenBreak, TokenContinue:
		p.advance()
		return &Signal{Continue: tok.Kind == TokenContinue, Span: p.span(tok)}, nil
	case TokenLParen:
		p.advance()
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, "to close parenthesis"); err != nil {
			return nil, err
		}
		return x, nil
	case TokenLBrack:
		p.advance()
		list := &List{}
		for !p.at(TokenRBrack) {
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			list.Elems = append(list.Elems, x)
			if !p.accept(TokenComma) {
				break
			}
		}
		if _, err := p.expect(TokenRBrack, "to close list"); err != nil {
			return nil, err
		}
		list.Span = p.span(tok)
		return list, nil
	case TokenIf:
		return nil, p.errorf(tok, "`if` is not an expression here; use `try when cond { ... }` or a `when` guard")
	}
	return nil, p.errorf(tok, "expected expression, found %s", tok.Kind)
}
