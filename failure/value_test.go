package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loc(line int) Location { return Location{File: "load.pipe", Line: line, Col: 1} }

func TestWrap_KeepsExistingValue(t *testing.T) {
	v := Msg("root").Push(Frame{Location: loc(1), Message: "ctx1"})
	require.Same(t, v, Wrap(v))
}

func TestWrap_KeepsHostContext(t *testing.T) {
	inner := Raise("NotFound", "no row").Push(Frame{Location: loc(1), Message: "querying"})
	wrapped := fmt.Errorf("lookup user 7: %w", inner)

	got := Wrap(wrapped)
	require.NotSame(t, inner, got)
	assert.Equal(t, "lookup user 7: no row", got.Error())
	assert.Equal(t, "NotFound", got.Tag().Name, "an unknown wrapper keeps the inner type")
	require.Len(t, got.Frames(), 1)
	assert.Equal(t, "querying", got.Frames()[0].Message)
	assert.Same(t, inner, got.Causes()[0])

	got.Push(Frame{Location: loc(2)})
	assert.Len(t, inner.Frames(), 1, "the inner value is not modified")
}

func TestClone_OwnsFrames(t *testing.T) {
	v := Raise("Gone", "gone").Push(Frame{Location: loc(1)})
	c := v.Clone()
	c.Push(Frame{Location: loc(2)})

	assert.Len(t, v.Frames(), 1)
	assert.Len(t, c.Frames(), 2)
	assert.Equal(t, v.Tag(), c.Tag())
	assert.True(t, errors.Is(c, v.Payload()))

	// replacing a value with its own copy adds nothing
	got := Replace(v, c)
	require.Same(t, c, got)
	assert.Len(t, got.Frames(), 2)
	assert.Empty(t, got.Causes())
}

type lookupError struct{ id int }

func (e *lookupError) Error() string { return fmt.Sprintf("lookup %d", e.id) }

func TestAdopt(t *testing.T) {
	types := NewTypes()
	RegisterType[*lookupError](types, "Lookup")

	// a Value built against the default table is reclassified on the copy
	shared := New(&lookupError{id: 7})
	require.Equal(t, KindUnknown, shared.Tag().Kind)
	adopted, ok := types.Adopt(shared).(*Value)
	require.True(t, ok)
	require.NotSame(t, shared, adopted)
	assert.Equal(t, "Lookup", adopted.Tag().Name)
	assert.Equal(t, KindUnknown, shared.Tag().Kind)

	plain := errors.New("plain")
	assert.Same(t, plain, types.Adopt(plain))
	assert.Nil(t, types.Adopt(nil))

	wrapped, ok := types.Adopt(fmt.Errorf("outer: %w", shared)).(*Value)
	require.True(t, ok)
	assert.Equal(t, "outer: lookup 7", wrapped.Message())
}

func TestNew_Nil(t *testing.T) {
	assert.Nil(t, New(nil))
	assert.Nil(t, Wrap(nil))
}

func TestClassify(t *testing.T) {
	types := NewTypes()
	RegisterType[*fs.PathError](types, "PathError")
	sentinel := errors.New("gone")
	types.RegisterSentinel("Gone", sentinel)

	tests := []struct {
		err  error
		kind Kind
		name string
	}{
		{Msg("x").Payload(), KindMessage, MessageType},
		{Raise("NotFound", "no user").Payload(), KindNamed, "NotFound"},
		{&fs.PathError{Op: "open", Path: "/x", Err: fs.ErrNotExist}, KindNamed, "PathError"},
		{fmt.Errorf("wrapped: %w", sentinel), KindNamed, "Gone"},
		{errors.New("plain"), KindUnknown, "*errors.errorString"},
	}
	for _, tt := range tests {
		tag := types.Classify(tt.err)
		if tag.Kind != tt.kind || tag.Name != tt.name {
			t.Errorf("Classify(%v): got %v/%q, want %v/%q", tt.err, tag.Kind, tag.Name, tt.kind, tt.name)
		}
	}
}

func TestTagMatches(t *testing.T) {
	assert.True(t, Tag{Kind: KindNamed, Name: "NotFound"}.Matches(""))
	assert.True(t, Tag{Kind: KindNamed, Name: "NotFound"}.Matches("NotFound"))
	assert.False(t, Tag{Kind: KindNamed, Name: "NotFound"}.Matches("Timeout"))
	assert.False(t, Tag{Kind: KindUnknown, Name: "*errors.errorString"}.Matches("*errors.errorString"))
}

func TestPush_FrameLimit(t *testing.T) {
	v := Msg("deep")
	for i := 0; i < MaxFrames+5; i++ {
		v.Push(Frame{Location: loc(i + 1)})
	}
	assert.Len(t, v.Frames(), MaxFrames)
	assert.Equal(t, 5, v.Dropped())
	assert.Contains(t, v.Trace(), "... 5 more frames omitted")
}

func TestPush_FramesAreCopied(t *testing.T) {
	attrs := []Attr{{Key: "id", Value: 1}}
	v := Msg("x").Push(Frame{Location: loc(1), Attrs: attrs})
	attrs[0].Value = 2

	assert.Equal(t, 1, v.Frames()[0].Attrs[0].Value)
	frames := v.Frames()
	frames[0].Message = "changed"
	assert.Empty(t, v.Frames()[0].Message)
}

func TestLink_RejectsCycles(t *testing.T) {
	a, b, c := Msg("a"), Msg("b"), Msg("c")
	require.NoError(t, b.Link(a))
	require.NoError(t, c.Link(b))

	assert.ErrorIs(t, a.Link(c), ErrCycle)
	assert.ErrorIs(t, a.Link(a), ErrCycle)
	require.NoError(t, c.Link(a))
	assert.Len(t, c.Causes(), 1, "linking a value already in the chain is a no-op")
}

func TestChain_AnyAll(t *testing.T) {
	first := Raise("NotFound", "first")
	second := Raise("Timeout", "second")
	third := Raise("NotFound", "third")
	require.NoError(t, third.Link(first))
	require.NoError(t, third.Link(second))

	chain := third.Chain()
	require.Len(t, chain, 3)
	assert.Equal(t, []string{"third", "first", "second"}, []string{chain[0].Message(), chain[1].Message(), chain[2].Message()})

	got, ok := third.Any(OfType("Timeout"))
	require.True(t, ok)
	assert.Same(t, second, got)

	all := third.All(OfType("NotFound"))
	require.Len(t, all, 2)
	assert.Same(t, third, all[0])
	assert.Same(t, first, all[1])

	_, ok = third.Any(OfType("Missing"))
	assert.False(t, ok)
}

func TestReplace_KeepsTraceAndCause(t *testing.T) {
	prev := Msg("io failed").Push(Frame{Location: loc(1), Message: "reading"})
	next := Raise("Config", "bad config").Push(Frame{Location: loc(4)})

	got := Replace(prev, next)
	require.Same(t, next, got)
	frames := got.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "reading", frames[0].Message)
	assert.Equal(t, 4, frames[1].Location.Line)
	assert.True(t, errors.Is(got, prev.Payload()))
	assert.Same(t, prev, got.Causes()[0])
}

func TestTrace(t *testing.T) {
	v := Msg("connection refused")
	v.Push(Frame{Location: loc(3), Message: "loading user", Attrs: []Attr{{Key: "id", Value: 42}, {Key: "region", Value: "eu"}}})
	v.Push(Frame{Location: Location{File: "main.pipe", Line: 9, Col: 5}})

	want := "connection refused\n" +
		"\n" +
		"Trace (most recent last):\n" +
		"  load.pipe:3:1\n" +
		"    → loading user\n" +
		"    id: 42\n" +
		"    region: eu\n" +
		"  main.pipe:9:5\n"
	assert.Equal(t, want, v.Trace())
	assert.Equal(t, want, fmt.Sprintf("%+v", v))
	assert.Equal(t, "connection refused", fmt.Sprintf("%v", v))
	assert.Equal(t, "connection refused", v.Error())
}

func TestFormat_Verbs(t *testing.T) {
	v := Msg("boom").Push(Frame{Location: loc(1)})
	assert.Equal(t, "boom", fmt.Sprintf("%s", v))
	assert.Equal(t, `"boom"`, fmt.Sprintf("%q", v))
	assert.Equal(t, "boom", fmt.Sprintf("%d", v))
	assert.Equal(t, "boom", fmt.Sprintf("%x", v))
}

func TestTrace_NoFrames(t *testing.T) {
	assert.Equal(t, "boom\n", Msg("boom").Trace())
}

func TestField(t *testing.T) {
	v := Raise("NotFound", "no user").Push(Frame{Location: loc(1), Attrs: []Attr{{Key: "id", Value: 7}}})

	msg, _ := v.Field("message")
	assert.Equal(t, "no user", msg)
	typ, _ := v.Field("type")
	assert.Equal(t, "NotFound", typ)
	id, ok := v.Field("id")
	assert.True(t, ok)
	assert.Equal(t, 7, id)
	_, ok = v.Field("missing")
	assert.False(t, ok)
}

func TestAs(t *testing.T) {
	pe := &fs.PathError{Op: "open", Path: "/etc/x", Err: fs.ErrNotExist}
	v := New(pe)

	got, ok := As[*fs.PathError](v)
	require.True(t, ok)
	assert.Equal(t, "/etc/x", got.Path)

	_, ok = As[*json.SyntaxError](v)
	assert.False(t, ok)
}

func TestErrorf_KeepsWrapped(t *testing.T) {
	v := Errorf("open: %w", fs.ErrNotExist)
	assert.Equal(t, MessageType, v.Tag().Name)
	assert.True(t, errors.Is(v, fs.ErrNotExist))
}

func TestJSON_RoundTrip(t *testing.T) {
	cause := Msg("disk full")
	v := Raise("WriteFailed", "cannot save").Push(Frame{Location: loc(2), Message: "saving", Attrs: []Attr{{Key: "path", Value: "/tmp/x"}}})
	require.NoError(t, v.Link(cause))

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"message": "cannot save",
		"kind": "named",
		"type": "WriteFailed",
		"trace": [{"file": "load.pipe", "line": 2, "col": 1, "message": "saving",
			"attachments": [{"key": "path", "value": "/tmp/x"}]}],
		"causes": [{"message": "disk full", "kind": "message", "type": "Message", "trace": []}]
	}`, string(data))

	var back Value
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, v.Tag(), back.Tag())
	assert.Equal(t, v.Trace(), back.Trace())
	require.Len(t, back.Causes(), 1)
	assert.Equal(t, "disk full", back.Causes()[0].Message())
}

func TestHere(t *testing.T) {
	l := Here(0)
	assert.Equal(t, "value_test.go", l.File)
	assert.Greater(t, l.Line, 0)
}
