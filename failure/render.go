package failure

import (
	"fmt"
	"io"
	"strings"
)

// Trace renders the message followed by every frame, oldest first.
func (v *Value) Trace() string {
	var b strings.Builder
	v.writeTrace(&b)
	return b.String()
}

func (v *Value) writeTrace(w io.Writer) {
	_, _ = fmt.Fprintln(w, v.Message())
	if len(v.frames) == 0 {
		return
	}
	_, _ = io.WriteString(w, "\nTrace (most recent last):\n")
	for _, f := range v.frames {
		_, _ = fmt.Fprintf(w, "  %s", f.Location)
		if f.Message != "" {
			_, _ = fmt.Fprintf(w, "\n    → %s", f.Message)
		}
		for _, a := range f.Attrs {
			_, _ = fmt.Fprintf(w, "\n    %s: %s", a.Key, FormatAttr(a.Value))
		}
		_, _ = io.WriteString(w, "\n")
	}
	if v.dropped > 0 {
		_, _ = fmt.Fprintf(w, "  ... %d more frames omitted\n", v.dropped)
	}
}

// Format implements fmt.Formatter: %+v prints the trace, %q the quoted
// message, and every other verb the message.
func (v *Value) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			v.writeTrace(s)
			return
		}
		_, _ = io.WriteString(s, v.Message())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", v.Message())
	default:
		_, _ = io.WriteString(s, v.Message())
	}
}

// FormatAttr prints an attribute value the way traces show it: strings bare,
// nil as null, everything else with %v.
func FormatAttr(val any) string {
	switch x := val.(type) {
	case nil:
		return "null"
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}
