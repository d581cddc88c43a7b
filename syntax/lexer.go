package syntax

import (
	"strings"
)

// Lexer turns pipeline source into tokens.
type Lexer struct {
	file    string
	input   string
	pos     int // offset of ch
	readPos int
	ch      byte
	line    int
	col     int
}

// NewLexer returns a lexer over src. file is used in error positions.
func NewLexer(file, src string) *Lexer {
	l := &Lexer{file: file, input: src, line: 1, col: 0}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
	l.col++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) here() Position { return Position{Offset: l.pos, Line: l.line, Col: l.col} }

func (l *Lexer) skipSpaceAndComments() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for l.ch != '\n' && l.pos < len(l.input) {
				l.readChar()
			}
		default:
			return
		}
	}
}

// Tokenize returns every token up to and including EOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	var out []Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.Kind == TokenEOF {
			return out, nil
		}
	}
}

// Next returns the next token.
func (l *Lexer) Next() (Token, error) {
	l.skipSpaceAndComments()
	start := l.here()
	if l.pos >= len(l.input) {
		return Token{Kind: TokenEOF, Pos: start, End: start}, nil
	}

	two := func(next byte, pair, single TokenKind) Token {
		if l.peekChar() == next {
			l.readChar()
			l.readChar()
			return Token{Kind: pair, Text: l.input[start.Offset:l.pos], Pos: start, End: l.here()}
		}
		l.readChar()
		return Token{Kind: single, Text: l.input[start.Offset:l.pos], Pos: start, End: l.here()}
	}
	one := func(kind TokenKind) Token {
		l.readChar()
		return Token{Kind: kind, Text: l.input[start.Offset:l.pos], Pos: start, End: l.here()}
	}

	switch ch := l.ch; {
	case ch == '{':
		return one(TokenLBrace), nil
	case ch == '}':
		return one(TokenRBrace), nil
	case ch == '(':
		return one(TokenLParen), nil
	case ch == ')':
		return one(TokenRParen), nil
	case ch == '[':
		return one(TokenLBrack), nil
	case ch == ']':
		return one(TokenRBrack), nil
	case ch == ',':
		return one(TokenComma), nil
	case ch == ';':
		return one(TokenSemi), nil
	case ch == ':':
		return one(TokenColon), nil
	case ch == '.':
		return one(TokenDot), nil
	case ch == '?':
		return one(TokenQuestion), nil
	case ch == '+':
		return one(TokenPlus), nil
	case ch == '-':
		return two('>', TokenArrow, TokenMinus), nil
	case ch == '|':
		return two('|', TokenOrOr, TokenPipe), nil
	case ch == '!':
		return two('=', TokenNotEq, TokenBang), nil
	case ch == '<':
		return two('=', TokenLe, TokenLt), nil
	case ch == '>':
		return two('=', TokenGe, TokenGt), nil
	case ch == '=':
		switch l.peekChar() {
		case '=':
			return two('=', TokenEq, TokenEq), nil
		case '>':
			return two('>', TokenFatArrow, TokenFatArrow), nil
		}
		return Token{}, errorAt(l.file, l.input, start, "unexpected `=`; use `==` to compare", "=")
	case ch == '&':
		if l.peekChar() == '&' {
			return two('&', TokenAndAnd, TokenAndAnd), nil
		}
		return Token{}, errorAt(l.file, l.input, start, "unexpected `&`; use `&&`", "&")
	case ch == '"':
		return l.readString(start)
	case isDigit(ch):
		return l.readNumber(start), nil
	case isLetter(ch):
		for isLetter(l.ch) || isDigit(l.ch) {
			l.readChar()
		}
		text := l.input[start.Offset:l.pos]
		kind := TokenIdent
		if kw, ok := keywords[text]; ok {
			kind = kw
		}
		return Token{Kind: kind, Text: text, Pos: start, End: l.here()}, nil
	default:
		return Token{}, errorAt(l.file, l.input, start, "unexpected character "+quoteByte(ch), string(ch))
	}
}

func (l *Lexer) readString(start Position) (Token, error) {
	var b strings.Builder
	l.readChar() // opening quote
	for {
		if l.pos >= len(l.input) || l.ch == '\n' {
			return Token{}, errorAt(l.file, l.input, start, "unterminated string literal", "\"")
		}
		switch l.ch {
		case '"':
			l.readChar()
			return Token{Kind: TokenString, Text: b.String(), Pos: start, End: l.here()}, nil
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '"', '\\':
				b.WriteByte(l.ch)
			default:
				return Token{}, errorAt(l.file, l.input, l.here(), "unknown escape sequence \\"+string(l.ch), "\\")
			}
			l.readChar()
		default:
			b.WriteByte(l.ch)
			l.readChar()
		}
	}
}

func (l *Lexer) readNumber(start Position) Token {
	kind := TokenInt
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		kind = TokenFloat
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return Token{Kind: kind, Text: l.input[start.Offset:l.pos], Pos: start, End: l.here()}
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool { return '0' <= ch && ch <= '9' }

func quoteByte(ch byte) string {
	if ch < 0x20 || ch >= 0x7f {
		return "0x" + strings.ToUpper(string("0123456789abcdef"[ch>>4])+string("0123456789abcdef"[ch&0xf]))
	}
	return "`" + string(ch) + "`"
}
