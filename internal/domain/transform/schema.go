package transform

import (
	"fmt"

	"github.com/okian/fplcache/internal/domain/model"
)

// Field describes one attribute of a category as served to readers.
type Field struct {
	Name     string         `json:"name"`
	Kind     model.Kind     `json:"kind"`
	Upstream string         `json:"upstream,omitempty"`
	Required bool           `json:"required,omitempty"`
	Derived  bool           `json:"derived,omitempty"`
	Ref      model.Category `json:"ref,omitempty"`
}

// Schema lists the attributes a category's entities may carry, including
// the id pseudo-attribute and derived fields.
func Schema(category model.Category) ([]Field, error) {
	if category == model.Standings {
		return append([]Field(nil), standingsSchema...), nil
	}
	t, ok := tables[category]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFieldTable, category)
	}
	out := make([]Field, 0, len(t.Fields)+len(t.Derived))
	for _, f := range t.Fields {
		out = append(out, Field{
			Name:     f.Internal,
			Kind:     f.Kind,
			Upstream: f.Upstream,
			Required: f.Required,
			Ref:      f.Ref,
		})
	}
	return append(out, t.Derived...), nil
}

// FieldKind returns the kind of a named attribute.
func FieldKind(category model.Category, name string) (model.Kind, bool) {
	fields, err := Schema(category)
	if err != nil {
		return model.KindInvalid, false
	}
	for _, f := range fields {
		if f.Name == name {
			return f.Kind, true
		}
	}
	return model.KindInvalid, false
}
