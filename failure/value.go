package failure

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
)

// MaxFrames bounds the number of frames kept on a single Value. Frames pushed
// past the limit are counted, not stored.
const MaxFrames = 32

// ErrCycle is returned by Link when the cause already reaches the value.
var ErrCycle = errors.New("failure: cause would create a cycle")

// Location is a source position: a pipeline file position or a Go call site.
type Location struct {
	File string
	Line int
	Col  int
}

func (l Location) String() string {
	return l.File + ":" + strconv.Itoa(l.Line) + ":" + strconv.Itoa(l.Col)
}

// Here returns the location of the caller of Here, skipping skip extra frames.
// Go call sites carry no column; Col is reported as 1.
func Here(skip int) Location {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Location{File: "unknown", Line: 0, Col: 0}
	}
	return Location{File: filepath.Base(file), Line: line, Col: 1}
}

// Attr is one key/value pair attached to a frame.
type Attr struct {
	Key   string
	Value any
}

// Frame is one recorded propagation point.
type Frame struct {
	Location Location
	Message  string
	Attrs    []Attr
}

// Value is a failure flowing through a pipeline.
type Value struct {
	err     error
	tag     Tag
	frames  []Frame
	dropped int
	causes  []*Value
	origin  *Value // set by Clone
}

// New wraps err in a fresh Value classified with the default type table.
// New(nil) returns nil.
func New(err error) *Value {
	if err == nil {
		return nil
	}
	return &Value{err: err, tag: Default.Classify(err)}
}

// Wrap is Default.Wrap.
func Wrap(err error) *Value {
	return Default.Wrap(err)
}

// Msg returns a Value whose payload is a plain text failure.
func Msg(text string) *Value {
	return New(&messageError{text: text})
}

// Errorf is Msg with formatting. A %w verb keeps the wrapped error reachable
// through errors.Is and errors.As.
func Errorf(format string, args ...any) *Value {
	err := fmt.Errorf(format, args...)
	if errors.Unwrap(err) == nil {
		return Msg(err.Error())
	}
	return New(&messageError{text: err.Error(), wrapped: err})
}

// Raise returns a Value with a named payload, e.g. Raise("NotFound", "no user 7").
func Raise(name, text string) *Value {
	return New(&namedError{name: name, text: text})
}

// Error returns the payload message without the trace.
func (v *Value) Error() string { return v.err.Error() }

// Unwrap exposes the payload and every cause to errors.Is and errors.As.
func (v *Value) Unwrap() []error {
	out := make([]error, 0, 1+len(v.causes))
	out = append(out, v.err)
	for _, c := range v.causes {
		out = append(out, c)
	}
	return out
}

// Payload returns the wrapped error.
func (v *Value) Payload() error { return v.err }

// Message returns the payload's message.
func (v *Value) Message() string { return v.err.Error() }

// Tag returns the payload classification.
func (v *Value) Tag() Tag { return v.tag }

// Frames returns a copy of the recorded frames, oldest first.
func (v *Value) Frames() []Frame {
	out := make([]Frame, len(v.frames))
	copy(out, v.frames)
	return out
}

// Dropped reports how many frames were discarded after MaxFrames was reached.
func (v *Value) Dropped() int { return v.dropped }

// Causes returns the directly linked causes, oldest first.
func (v *Value) Causes() []*Value {
	out := make([]*Value, len(v.causes))
	copy(out, v.causes)
	return out
}

// Push appends a frame.
func (v *Value) Push(f Frame) *Value {
	if len(v.frames) >= MaxFrames {
		v.dropped++
		return v
	}
	if len(f.Attrs) > 0 {
		f.Attrs = append([]Attr(nil), f.Attrs...)
	}
	v.frames = append(v.frames, f)
	return v
}

// Link appends cause to v's causes. Linking a value that already reaches v
// returns ErrCycle; linking a cause already in v's chain is a no-op.
func (v *Value) Link(cause *Value) error {
	if cause == nil {
		return nil
	}
	if cause == v || cause.reaches(v) {
		return ErrCycle
	}
	if v.reaches(cause) {
		return nil
	}
	v.causes = append(v.causes, cause)
	return nil
}

// Clone returns a copy of v that shares its payload and causes but owns its
// frames.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	c := *v
	c.frames = append([]Frame(nil), v.frames...)
	c.causes = append([]*Value(nil), v.causes...)
	c.origin = v
	return &c
}

// inherit copies frames from prev, used when a failure replaces another and
// keeps its provenance.
func (v *Value) inherit(prev *Value) {
	for _, f := range prev.frames {
		v.Push(f)
	}
	v.dropped += prev.dropped
}

// Replace returns next carrying prev's frames ahead of its own, with prev
// linked as a cause. It is how a transformation keeps the trace intact.
func Replace(prev, next *Value) *Value {
	// a copy of prev already carries its frames
	if prev == nil || next == nil || prev == next || next.origin == prev {
		return next
	}
	own := next.frames
	next.frames = nil
	next.inherit(prev)
	for _, f := range own {
		next.Push(f)
	}
	// ErrCycle means prev already reaches next; the trace is kept either way.
	_ = next.Link(prev)
	return next
}

// Fielder is implemented by payloads that expose named fields to guard
// expressions, e.g. an HTTP status code.
type Fielder interface {
	Field(name string) (any, bool)
}

// Field resolves a name used as e.name in a pipeline expression: message and
// type are built in, then payload fields, then the most recent frame attribute
// with that key.
func (v *Value) Field(name string) (any, bool) {
	switch name {
	case "message":
		return v.Message(), true
	case "type":
		return v.tag.Name, true
	case "frames":
		return len(v.frames), true
	}
	var f Fielder
	if errors.As(v.err, &f) {
		if val, ok := f.Field(name); ok {
			return val, true
		}
	}
	for i := len(v.frames) - 1; i >= 0; i-- {
		for _, a := range v.frames[i].Attrs {
			if a.Key == name {
				return a.Value, true
			}
		}
	}
	return nil, false
}

// As downcasts the payload of v to T.
func As[T any](v *Value) (T, bool) {
	var zero T
	if v == nil {
		return zero, false
	}
	var target T
	if errors.As(v.err, &target) {
		return target, true
	}
	return zero, false
}

type messageError struct {
	text    string
	wrapped error
}

func (e *messageError) Error() string { return e.text }
func (e *messageError) Unwrap() error { return e.wrapped }

type namedError struct {
	name, text string
}

func (e *namedError) Error() string    { return e.text }
func (e *namedError) ErrorTag() string { return e.name }
