package failure

import (
	"encoding/json"
	"errors"
)

type jsonAttr struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type jsonFrame struct {
	File        string     `json:"file"`
	Line        int        `json:"line"`
	Col         int        `json:"col"`
	Message     string     `json:"message,omitempty"`
	Attachments []jsonAttr `json:"attachments,omitempty"`
}

type jsonValue struct {
	Message string      `json:"message"`
	Kind    string      `json:"kind"`
	Type    string      `json:"type,omitempty"`
	Trace   []jsonFrame `json:"trace"`
	Omitted int         `json:"omitted,omitempty"`
	Causes  []*Value    `json:"causes,omitempty"`
}

// MarshalJSON encodes the message, tag, frames and causes. The payload's Go
// type is not preserved.
func (v *Value) MarshalJSON() ([]byte, error) {
	out := jsonValue{
		Message: v.Message(),
		Kind:    v.tag.Kind.String(),
		Type:    v.tag.Name,
		Trace:   make([]jsonFrame, 0, len(v.frames)),
		Omitted: v.dropped,
		Causes:  v.causes,
	}
	for _, f := range v.frames {
		jf := jsonFrame{File: f.Location.File, Line: f.Location.Line, Col: f.Location.Col, Message: f.Message}
		for _, a := range f.Attrs {
			jf.Attachments = append(jf.Attachments, jsonAttr{Key: a.Key, Value: a.Value})
		}
		out.Trace = append(out.Trace, jf)
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a Value. Named tags come back as named payloads,
// everything else as a plain message payload keeping the original tag.
func (v *Value) UnmarshalJSON(data []byte) error {
	var in jsonValue
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*v = Value{}
	switch in.Kind {
	case KindNamed.String():
		v.err = &namedError{name: in.Type, text: in.Message}
		v.tag = Tag{Kind: KindNamed, Name: in.Type}
	case KindMessage.String():
		v.err = &messageError{text: in.Message}
		v.tag = Tag{Kind: KindMessage, Name: MessageType}
	default:
		v.err = errors.New(in.Message)
		v.tag = Tag{Kind: KindUnknown, Name: in.Type}
	}
	for _, jf := range in.Trace {
		f := Frame{Location: Location{File: jf.File, Line: jf.Line, Col: jf.Col}, Message: jf.Message}
		for _, a := range jf.Attachments {
			f.Attrs = append(f.Attrs, Attr{Key: a.Key, Value: a.Value})
		}
		v.Push(f)
	}
	v.dropped += in.Omitted
	for _, c := range in.Causes {
		if err := v.Link(c); err != nil {
			return err
		}
	}
	return nil
}
