package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dcshock/trypipe/syntax"
)

// Severity ranks a diagnostic. Only SeverityError rejects a pipeline.
type Severity int

const (
	SeverityOff Severity = iota
	SeverityError
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "off"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "error":
		*s = SeverityError
	case "warning", "warn":
		*s = SeverityWarning
	case "info":
		*s = SeverityInfo
	case "off", "none", "":
		*s = SeverityOff
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Code identifies the rule behind a diagnostic.
type Code string

const (
	UnreachableHandler    Code = "UnreachableHandler"
	CatchAllNotTerminal   Code = "CatchAllNotTerminal"
	TypeNarrowingConflict Code = "TypeNarrowingConflict"
	MissingTerminal       Code = "MissingTerminal"
	UnknownType           Code = "UnknownType"
	SyntaxError           Code = "SyntaxError"
)

// Diagnostic is the structured form tooling consumes.
type Diagnostic struct {
	Severity Severity    `json:"severity"`
	Span     syntax.Span `json:"span"`
	Message  string      `json:"message"`
	Code     Code        `json:"code,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Code == "" {
		return fmt.Sprintf("%s: %s: %s", d.Span, d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: %s: %s [%s]", d.Span, d.Severity, d.Message, d.Code)
}

// FromSyntax converts a parse failure into a diagnostic.
func FromSyntax(err error) (Diagnostic, bool) {
	var se *syntax.SyntaxError
	if !errors.As(err, &se) {
		return Diagnostic{}, false
	}
	return Diagnostic{
		Severity: SeverityError,
		Span:     se.Span(),
		Message:  se.Msg,
		Code:     SyntaxError,
	}, true
}

// Error rejects a pipeline. It holds every error-severity diagnostic.
type Error struct {
	Diagnostics []Diagnostic
}

func (e *Error) Error() string {
	if len(e.Diagnostics) == 0 {
		return "validate: pipeline rejected"
	}
	msg := e.Diagnostics[0].String()
	if n := len(e.Diagnostics) - 1; n > 0 {
		msg += fmt.Sprintf(" (and %d more)", n)
	}
	return msg
}

// Has reports whether any diagnostic carries code.
func (e *Error) Has(code Code) bool {
	for _, d := range e.Diagnostics {
		if d.Code == code {
			return true
		}
	}
	return false
}
