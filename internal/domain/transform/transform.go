// Package transform normalizes raw upstream records into typed entities.
//
// Every category has a statically declared field table. Records that miss a
// required field or carry a value of the wrong type are skipped and reported,
// never fatal to the rest of the batch.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/okian/fplcache/internal/domain/model"
)

// decoder keeps integers exact by decoding numbers as json.Number.
var decoder = jsoniter.Config{UseNumber: true}.Froze()

// FieldSpec maps one upstream field onto one internal attribute.
type FieldSpec struct {
	Upstream string
	Internal string
	Kind     model.Kind
	Required bool
	// Ref marks the attribute as an identifier of an entity in another category.
	Ref model.Category
}

// Table is the complete mapping for a category.
type Table struct {
	Category model.Category
	Fields   []FieldSpec
	Derived  []Field
	derive   func(e *model.Entity)
}

// Result is the output of Normalize.
type Result struct {
	Category model.Category
	Entities []model.Entity
	Skipped  []*TransformError
}

// Normalize converts raw records of one category into entities. It performs
// no I/O and returns entities in input order.
func Normalize(category model.Category, records []model.RawRecord) (Result, error) {
	table, ok := tables[category]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoFieldTable, category)
	}
	res := Result{Category: category, Entities: make([]model.Entity, 0, len(records))}
	seen := make(map[int64]struct{}, len(records))
	for i, rec := range records {
		e, terr := table.apply(rec)
		if terr != nil {
			terr.Index = i
			terr.Record = rec
			res.Skipped = append(res.Skipped, terr)
			continue
		}
		if _, dup := seen[e.ID]; dup {
			res.Skipped = append(res.Skipped, &TransformError{
				Category: category, Index: i, RecordID: e.ID, Record: rec, Reason: ErrDuplicateID,
			})
			continue
		}
		seen[e.ID] = struct{}{}
		res.Entities = append(res.Entities, e)
	}
	return res, nil
}

func (t *Table) apply(rec model.RawRecord) (model.Entity, *TransformError) {
	var obj map[string]any
	if err := decoder.Unmarshal(rec, &obj); err != nil || obj == nil {
		return model.Entity{}, &TransformError{Category: t.Category, Reason: ErrNotObject}
	}

	e := model.Entity{Category: t.Category, Attributes: make(map[string]model.Value, len(t.Fields)+len(t.Derived))}
	for _, f := range t.Fields {
		raw, present := obj[f.Upstream]
		if s, isStr := raw.(string); isStr && s == "" && f.Kind != model.KindString {
			present = false
		}
		if !present || raw == nil {
			if f.Required {
				return model.Entity{}, &TransformError{Category: t.Category, RecordID: e.ID, Field: f.Upstream, Reason: ErrMissingField}
			}
			continue
		}
		v, err := coerce(f.Kind, raw)
		if err != nil {
			return model.Entity{}, &TransformError{Category: t.Category, RecordID: e.ID, Field: f.Upstream, Reason: err}
		}
		if f.Internal == "id" {
			e.ID = v.Int
			continue
		}
		e.Attributes[f.Internal] = v
		if f.Ref != "" {
			if e.Refs == nil {
				e.Refs = make(map[string]model.Ref)
			}
			e.Refs[f.Internal] = model.Ref{Category: f.Ref, ID: v.Int}
		}
	}
	if t.derive != nil {
		t.derive(&e)
	}
	return e, nil
}

func coerce(kind model.Kind, raw any) (model.Value, error) {
	switch kind {
	case model.KindInt:
		return coerceInt(raw)
	case model.KindFloat:
		return coerceFloat(raw)
	case model.KindString:
		s, ok := raw.(string)
		if !ok {
			return model.Value{}, mismatch(kind, raw)
		}
		return model.StringValue(s), nil
	case model.KindBool:
		b, ok := raw.(bool)
		if !ok {
			return model.Value{}, mismatch(kind, raw)
		}
		return model.BoolValue(b), nil
	case model.KindTime:
		s, ok := raw.(string)
		if !ok {
			return model.Value{}, mismatch(kind, raw)
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return model.Value{}, fmt.Errorf("%w: %q is not RFC3339", ErrTypeMismatch, s)
		}
		return model.TimeValue(ts), nil
	default:
		return model.Value{}, fmt.Errorf("%w: %v", model.ErrUnknownKind, kind)
	}
}

func coerceInt(raw any) (model.Value, error) {
	var text string
	switch v := raw.(type) {
	case json.Number:
		text = v.String()
	case float64:
		text = strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		text = strings.TrimSpace(v)
	default:
		return model.Value{}, mismatch(model.KindInt, raw)
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return model.IntValue(n), nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return model.Value{}, mismatch(model.KindInt, raw)
	}
	return model.IntValue(int64(f)), nil
}

func coerceFloat(raw any) (model.Value, error) {
	var text string
	switch v := raw.(type) {
	case json.Number:
		text = v.String()
	case float64:
		return model.FloatValue(v), nil
	case string:
		text = strings.TrimSpace(v)
	default:
		return model.Value{}, mismatch(model.KindFloat, raw)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return model.Value{}, mismatch(model.KindFloat, raw)
	}
	return model.FloatValue(f), nil
}

func mismatch(kind model.Kind, raw any) error {
	return fmt.Errorf("%w: want %s, got %T", ErrTypeMismatch, kind, raw)
}
