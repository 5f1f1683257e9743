package model

import (
	"fmt"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Ref points at another entity by identifier only.
type Ref struct {
	Category Category `json:"category"`
	ID       int64    `json:"id"`
}

// Entity is one normalized record. Attributes that were null or missing
// upstream are absent from the map rather than zero-valued.
type Entity struct {
	Category   Category         `json:"category"`
	ID         int64            `json:"id"`
	Attributes map[string]Value `json:"attributes"`
	Refs       map[string]Ref   `json:"refs,omitempty"`
}

// Attr returns a named attribute. The pseudo-attribute "id" resolves to the entity id.
func (e Entity) Attr(name string) (Value, bool) {
	if name == "id" {
		return IntValue(e.ID), true
	}
	v, ok := e.Attributes[name]
	return v, ok
}

// Str returns a string attribute or "".
func (e Entity) Str(name string) string {
	if v, ok := e.Attributes[name]; ok && v.Kind == KindString {
		return v.Str
	}
	return ""
}

// Int returns an integer attribute.
func (e Entity) Int(name string) (int64, bool) {
	v, ok := e.Attributes[name]
	if !ok || v.Kind != KindInt {
		return 0, false
	}
	return v.Int, true
}

// Bool returns a boolean attribute, false when absent.
func (e Entity) Bool(name string) bool {
	v, ok := e.Attributes[name]
	return ok && v.Kind == KindBool && v.Bool
}

// Time returns a time attribute.
func (e Entity) Time(name string) (time.Time, bool) {
	v, ok := e.Attributes[name]
	if !ok || v.Kind != KindTime {
		return time.Time{}, false
	}
	return v.Time, true
}

// Equal compares two entities by content.
func (e Entity) Equal(o Entity) bool {
	if e.Category != o.Category || e.ID != o.ID || len(e.Attributes) != len(o.Attributes) || len(e.Refs) != len(o.Refs) {
		return false
	}
	for k, v := range e.Attributes {
		ov, ok := o.Attributes[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	for k, r := range e.Refs {
		if o.Refs[k] != r {
			return false
		}
	}
	return true
}

// SortByID orders entities by ascending id in place.
func SortByID(entities []Entity) {
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
}

type storedValue struct {
	K Kind                `json:"k"`
	V jsoniter.RawMessage `json:"v"`
}

type storedEntity struct {
	Attributes map[string]storedValue `json:"a"`
	Refs       map[string]Ref         `json:"r,omitempty"`
}

// EncodeBody serializes attributes and refs with their kinds so they can be
// restored exactly.
func EncodeBody(e Entity) ([]byte, error) {
	out := storedEntity{Attributes: make(map[string]storedValue, len(e.Attributes)), Refs: e.Refs}
	for name, v := range e.Attributes {
		var raw any
		switch v.Kind {
		case KindTime:
			raw = v.Time.Format(time.RFC3339Nano)
		default:
			raw = v.Interface()
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out.Attributes[name] = storedValue{K: v.Kind, V: b}
	}
	return json.Marshal(out)
}

// DecodeBody restores an entity body written by EncodeBody.
func DecodeBody(category Category, id int64, body []byte) (Entity, error) {
	var in storedEntity
	if err := json.Unmarshal(body, &in); err != nil {
		return Entity{}, fmt.Errorf("decode entity %s/%d: %w", category, id, err)
	}
	e := Entity{Category: category, ID: id, Attributes: make(map[string]Value, len(in.Attributes)), Refs: in.Refs}
	for name, sv := range in.Attributes {
		v, err := decodeStored(sv)
		if err != nil {
			return Entity{}, fmt.Errorf("decode %s/%d %s: %w", category, id, name, err)
		}
		e.Attributes[name] = v
	}
	return e, nil
}

func decodeStored(sv storedValue) (Value, error) {
	switch sv.K {
	case KindInt:
		var n int64
		err := json.Unmarshal(sv.V, &n)
		return IntValue(n), err
	case KindFloat:
		var f float64
		err := json.Unmarshal(sv.V, &f)
		return FloatValue(f), err
	case KindString:
		var s string
		err := json.Unmarshal(sv.V, &s)
		return StringValue(s), err
	case KindBool:
		var b bool
		err := json.Unmarshal(sv.V, &b)
		return BoolValue(b), err
	case KindTime:
		var s string
		if err := json.Unmarshal(sv.V, &s); err != nil {
			return Value{}, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		return TimeValue(t), err
	default:
		return Value{}, fmt.Errorf("%w: %d", ErrUnknownKind, sv.K)
	}
}
