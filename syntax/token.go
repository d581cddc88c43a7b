package syntax

import "fmt"

// TokenKind is the lexical class of a token.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenIdent
	TokenString
	TokenInt
	TokenFloat

	TokenLBrace   // {
	TokenRBrace   // }
	TokenLParen   // (
	TokenRParen   // )
	TokenLBrack   // [
	TokenRBrack   // ]
	TokenComma    // ,
	TokenSemi     // ;
	TokenColon    // :
	TokenDot      // .
	TokenPipe     // |
	TokenArrow    // ->
	TokenFatArrow // =>
	TokenQuestion // ?
	TokenBang     // !
	TokenPlus     // +
	TokenMinus    // -
	TokenEq       // ==
	TokenNotEq    // !=
	TokenLt       // <
	TokenLe       // <=
	TokenGt       // >
	TokenGe       // >=
	TokenAndAnd   // &&
	TokenOrOr     // ||

	keywordStart
	TokenTry
	TokenCatch
	TokenThrow
	TokenInspect
	TokenFinally
	TokenWith
	TokenScope
	TokenRequire
	TokenThen
	TokenElse
	TokenWhen
	TokenMatch
	TokenFor
	TokenIn
	TokenAny
	TokenAll
	TokenWhile
	TokenAsync
	TokenBreak
	TokenContinue
	TokenTrue
	TokenFalse
	TokenNull
	TokenIf
	keywordEnd
)

var keywords = map[string]TokenKind{
	"try":      TokenTry,
	"catch":    TokenCatch,
	"throw":    TokenThrow,
	"inspect":  TokenInspect,
	"finally":  TokenFinally,
	"with":     TokenWith,
	"scope":    TokenScope,
	"require":  TokenRequire,
	"then":     TokenThen,
	"else":     TokenElse,
	"when":     TokenWhen,
	"match":    TokenMatch,
	"for":      TokenFor,
	"in":       TokenIn,
	"any":      TokenAny,
	"all":      TokenAll,
	"while":    TokenWhile,
	"async":    TokenAsync,
	"break":    TokenBreak,
	"continue": TokenContinue,
	"true":     TokenTrue,
	"false":    TokenFalse,
	"null":     TokenNull,
	"if":       TokenIf,
}

var punctNames = map[TokenKind]string{
	TokenLBrace: "{", TokenRBrace: "}", TokenLParen: "(", TokenRParen: ")",
	TokenLBrack: "[", TokenRBrack: "]", TokenComma: ",", TokenSemi: ";",
	TokenColon: ":", TokenDot: ".", TokenPipe: "|", TokenArrow: "->",
	TokenFatArrow: "=>", TokenQuestion: "?", TokenBang: "!", TokenPlus: "+",
	TokenMinus: "-", TokenEq: "==", TokenNotEq: "!=", TokenLt: "<",
	TokenLe: "<=", TokenGt: ">", TokenGe: ">=", TokenAndAnd: "&&", TokenOrOr: "||",
}

// IsKeyword reports whether k is a reserved word.
func (k TokenKind) IsKeyword() bool { return k > keywordStart && k < keywordEnd }

func (k TokenKind) String() string {
	switch k {
	case TokenEOF:
		return "end of input"
	case TokenIdent:
		return "identifier"
	case TokenString:
		return "string"
	case TokenInt, TokenFloat:
		return "number"
	}
	if s, ok := punctNames[k]; ok {
		return "`" + s + "`"
	}
	for word, kw := range keywords {
		if kw == k {
			return "`" + word + "`"
		}
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// Position is a point in the source. Line and Col are 1-based; Col counts bytes.
type Position struct {
	Offset int `json:"offset" yaml:"offset"`
	Line   int `json:"line" yaml:"line"`
	Col    int `json:"col" yaml:"col"`
}

func (p Position) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Col) }

// Span is a source range within a named file.
type Span struct {
	File  string   `json:"file" yaml:"file"`
	Start Position `json:"start" yaml:"start"`
	End   Position `json:"end" yaml:"end"`
}

func (s Span) String() string { return fmt.Sprintf("%s:%d:%d", s.File, s.Start.Line, s.Start.Col) }

// Token is one lexeme. Text holds the decoded value for strings.
type Token struct {
	Kind TokenKind
	Text string
	Pos  Position
	End  Position
}

func (t Token) String() string {
	switch t.Kind {
	case TokenEOF:
		return "end of input"
	case TokenString:
		return fmt.Sprintf("%q", t.Text)
	}
	return t.Text
}
