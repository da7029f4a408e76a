package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// InputSource tags the variant held by an InputValue.
type InputSource string

const (
	SourceStatic  InputSource = "static"
	SourceDynamic InputSource = "dynamic"
)

// InputValue is either a static literal or a reference to a dynamic source
// (an expression resolved at render time). Switch on Source to match it.
type InputValue struct {
	Source     InputSource
	Value      any    // SourceStatic only
	Expression string // SourceDynamic only
}

// Static returns a static input value.
func Static(v any) InputValue {
	return InputValue{Source: SourceStatic, Value: v}
}

// Dynamic returns a dynamic source reference.
func Dynamic(expression string) InputValue {
	return InputValue{Source: SourceDynamic, Expression: expression}
}

// IsEmpty reports whether the value carries nothing usable. A static value is
// empty when it is nil, "", or an empty list/object; a dynamic value is empty
// when it has no expression.
func (v InputValue) IsEmpty() bool {
	switch v.Source {
	case SourceStatic:
		switch x := v.Value.(type) {
		case nil:
			return true
		case string:
			return x == ""
		case []any:
			return len(x) == 0
		case map[string]any:
			return len(x) == 0
		}
		return false
	case SourceDynamic:
		return v.Expression == ""
	}
	return true
}

type inputValueJSON struct {
	Source     InputSource `json:"source"`
	Value      any         `json:"value,omitempty"`
	Expression string      `json:"expression,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v InputValue) MarshalJSON() ([]byte, error) {
	switch v.Source {
	case SourceStatic:
		return json.Marshal(inputValueJSON{Source: SourceStatic, Value: v.Value})
	case SourceDynamic:
		return json.Marshal(inputValueJSON{Source: SourceDynamic, Expression: v.Expression})
	}
	return nil, fmt.Errorf("input value: unknown source %q", v.Source)
}

// UnmarshalJSON implements json.Unmarshaler. An object carrying a "source"
// key is decoded as a tagged value; anything else is a static literal.
func (v *InputValue) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return err
		}
		if _, tagged := probe["source"]; tagged {
			var raw inputValueJSON
			if err := json.Unmarshal(trimmed, &raw); err != nil {
				return err
			}
			switch raw.Source {
			case SourceStatic:
				*v = Static(raw.Value)
			case SourceDynamic:
				*v = Dynamic(raw.Expression)
			default:
				return fmt.Errorf("input value: unknown source %q", raw.Source)
			}
			return nil
		}
	}
	var literal any
	if err := json.Unmarshal(trimmed, &literal); err != nil {
		return err
	}
	*v = Static(literal)
	return nil
}

// NamedInput is one entry of an Inputs map.
type NamedInput struct {
	Name  string
	Value InputValue
}

// Inputs is an insertion-ordered map of input values. It encodes as a JSON
// object whose key order is preserved in both directions.
type Inputs []NamedInput

// Get returns the value stored under name.
func (in Inputs) Get(name string) (InputValue, bool) {
	for _, e := range in {
		if e.Name == name {
			return e.Value, true
		}
	}
	return InputValue{}, false
}

// Set replaces the value under name, or appends it.
func (in *Inputs) Set(name string, v InputValue) {
	for i := range *in {
		if (*in)[i].Name == name {
			(*in)[i].Value = v
			return
		}
	}
	*in = append(*in, NamedInput{Name: name, Value: v})
}

// Names returns the input names in order.
func (in Inputs) Names() []string {
	names := make([]string, len(in))
	for i, e := range in {
		names[i] = e.Name
	}
	return names
}

// MarshalJSON implements json.Marshaler.
func (in Inputs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range in {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", e.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (in *Inputs) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*in = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("inputs: expected object, got %v", tok)
	}
	out := Inputs{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("inputs: expected key, got %v", tok)
		}
		var v InputValue
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
		out.Set(name, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*in = out
	return nil
}

// TreeItem is one node of a component tree. Trees are persisted and
// transmitted as flat, unordered lists of items; structure is derived from
// ParentUUID and Slot only.
type TreeItem struct {
	UUID       string       `json:"uuid"`
	Component  ComponentRef `json:"component"`
	ParentUUID string       `json:"parent_uuid,omitempty"`
	Slot       string       `json:"slot,omitempty"`
	Inputs     Inputs       `json:"inputs,omitempty"`
	Label      string       `json:"label,omitempty"`
}

// IsRoot reports whether the item has no parent.
func (it TreeItem) IsRoot() bool {
	return it.ParentUUID == ""
}

// ExposedSlot forwards an empty slot of one tree node to an outer
// composition context under an alias name.
type ExposedSlot struct {
	Name     string `json:"name" validate:"required,max=64,machine_name"`
	NodeUUID string `json:"node_uuid" validate:"required"`
	Slot     string `json:"slot" validate:"required"`
	Label    string `json:"label" validate:"required"`
}
