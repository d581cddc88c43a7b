package failure

import (
	"errors"
	"fmt"
	"sync"
)

// Kind is the variant of a Tag.
type Kind uint8

const (
	// KindUnknown is the open variant: a payload no table entry recognised.
	KindUnknown Kind = iota
	// KindMessage is a plain text failure built by Msg or Errorf.
	KindMessage
	// KindNamed is a member of the closed, registered set.
	KindNamed
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindNamed:
		return "named"
	default:
		return "unknown"
	}
}

// MessageType is the tag name of plain text failures.
const MessageType = "Message"

// Tag classifies a payload. For KindUnknown, Name is the payload's Go type
// (e.g. "*fs.PathError") and only wildcard patterns match it.
type Tag struct {
	Kind Kind
	Name string
}

// Matches reports whether a stage type pattern selects this tag. The empty
// pattern is the wildcard.
func (t Tag) Matches(pattern string) bool {
	if pattern == "" {
		return true
	}
	return t.Kind != KindUnknown && t.Name == pattern
}

func (t Tag) String() string { return t.Name }

// Tagged is implemented by errors that name their own variant.
type Tagged interface {
	ErrorTag() string
}

type variant struct {
	name  string
	match func(error) bool
}

// Types is the table of named variants known when a pipeline is built.
// It is safe for concurrent use.
type Types struct {
	mu       sync.RWMutex
	variants []variant
}

// Default is the table used by New and Wrap.
var Default = NewTypes()

// NewTypes returns an empty table. Message and Tagged payloads are always
// recognised.
func NewTypes() *Types {
	return &Types{}
}

// Register adds a named variant. Variants are tried in registration order.
func (t *Types) Register(name string, match func(error) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.variants {
		if t.variants[i].name == name {
			t.variants[i].match = match
			return
		}
	}
	t.variants = append(t.variants, variant{name: name, match: match})
}

// RegisterType registers name for payloads whose outermost dynamic type is T.
func RegisterType[T error](t *Types, name string) {
	t.Register(name, func(err error) bool {
		_, ok := err.(T)
		return ok
	})
}

// RegisterSentinel registers name for payloads that are, or wrap, target.
func (t *Types) RegisterSentinel(name string, target error) {
	t.Register(name, func(err error) bool { return errors.Is(err, target) })
}

// Names returns the registered variant names in registration order.
func (t *Types) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.variants))
	for _, v := range t.variants {
		names = append(names, v.name)
	}
	return names
}

// Known reports whether name is a registered variant or the message type.
func (t *Types) Known(name string) bool {
	if name == MessageType {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, v := range t.variants {
		if v.name == name {
			return true
		}
	}
	return false
}

// Classify returns the tag for err.
func (t *Types) Classify(err error) Tag {
	switch e := err.(type) {
	case nil:
		return Tag{}
	case *messageError:
		return Tag{Kind: KindMessage, Name: MessageType}
	case Tagged:
		return Tag{Kind: KindNamed, Name: e.ErrorTag()}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, v := range t.variants {
		if v.match(err) {
			return Tag{Kind: KindNamed, Name: v.name}
		}
	}
	return Tag{Kind: KindUnknown, Name: fmt.Sprintf("%T", err)}
}

// Wrap returns err when it is a *Value, or a new Value classified by t. When
// err wraps a Value further down its chain, the new Value keeps err's message,
// carries the inner frames and links the inner Value as a cause; an unknown
// classification falls back to the inner tag.
func (t *Types) Wrap(err error) *Value {
	if err == nil {
		return nil
	}
	if v, ok := err.(*Value); ok {
		return v
	}
	v := &Value{err: err, tag: t.Classify(err)}
	var inner *Value
	if errors.As(err, &inner) {
		if v.tag.Kind == KindUnknown {
			v.tag = inner.tag
		}
		v.inherit(inner)
		_ = v.Link(inner)
	}
	return v
}

// Adopt returns an error the caller may push frames onto. A *Value is
// copied, and reclassified against t when its payload was unknown. An error
// wrapping a Value is wrapped as by Wrap. Any other error comes back as is.
func (t *Types) Adopt(err error) error {
	switch v := err.(type) {
	case nil:
		return nil
	case *Value:
		c := v.Clone()
		if c.tag.Kind == KindUnknown {
			c.tag = t.Classify(c.err)
		}
		return c
	}
	var inner *Value
	if errors.As(err, &inner) {
		return t.Wrap(err)
	}
	return err
}
