package syntax

import (
	"fmt"
	"strings"
)

// SyntaxError reports why source could not be turned into a Pipeline.
type SyntaxError struct {
	File string
	Pos  Position
	Msg  string
	Near string // offending token text, if any
	line string // source line for the snippet
}

func (e *SyntaxError) Error() string {
	if e.Near != "" {
		return fmt.Sprintf("%s:%d:%d: %s (near '%s')", e.File, e.Pos.Line, e.Pos.Col, e.Msg, e.Near)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Pos.Line, e.Pos.Col, e.Msg)
}

// Snippet returns the error followed by the offending source line and a caret
// under the column.
func (e *SyntaxError) Snippet() string {
	if e.line == "" {
		return e.Error()
	}
	col := e.Pos.Col
	if col < 1 {
		col = 1
	}
	var b strings.Builder
	b.WriteString(e.Error())
	fmt.Fprintf(&b, "\n  %d | %s\n", e.Pos.Line, e.line)
	gutter := len(fmt.Sprintf("  %d | ", e.Pos.Line))
	b.WriteString(strings.Repeat(" ", gutter+col-1))
	b.WriteString("^")
	return b.String()
}

// Span returns the error location as a one-token span.
func (e *SyntaxError) Span() Span {
	end := e.Pos
	end.Col += len(e.Near)
	end.Offset += len(e.Near)
	return Span{File: e.File, Start: e.Pos, End: end}
}

func errorAt(file, src string, pos Position, msg, near string) *SyntaxError {
	return &SyntaxError{File: file, Pos: pos, Msg: msg, Near: near, line: sourceLine(src, pos.Line)}
}

func sourceLine(src string, line int) string {
	if line < 1 {
		return ""
	}
	lines := strings.Split(src, "\n")
	if line > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[line-1], "\r")
}
