// Package query implements the filter grammar used by the read API.
//
// A filter is written field:op:value, for example total_points:gte:100 or
// web_name:contains:son. Fields are validated against the category schema and
// values are parsed into the field's kind before any snapshot is read.
package query

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/internal/domain/transform"
)

// Paging defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Op is a comparison operator.
type Op string

// Supported operators.
const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpContains Op = "contains"
)

var ops = map[Op]struct{}{
	OpEq: {}, OpNe: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {}, OpContains: {},
}

// Predicate is one parsed filter.
type Predicate struct {
	Field string      `json:"field"`
	Op    Op          `json:"op"`
	Value model.Value `json:"value"`
}

// Query is a validated list request against one category.
type Query struct {
	Category model.Category
	Filters  []Predicate
	Sort     string
	Desc     bool
	Limit    int
	Offset   int
}

// ParseFilter parses a single field:op:value expression for category.
func ParseFilter(category model.Category, expr string) (Predicate, error) {
	parts := strings.SplitN(expr, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Predicate{}, fmt.Errorf("%w: filter %q must be field:op:value", ErrInvalidQuery, expr)
	}
	field, op, raw := strings.TrimSpace(parts[0]), Op(strings.ToLower(strings.TrimSpace(parts[1]))), parts[2]
	if _, ok := ops[op]; !ok {
		return Predicate{}, fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, op)
	}
	kind, ok := transform.FieldKind(category, field)
	if !ok {
		return Predicate{}, fmt.Errorf("%w: unknown field %q for %s", ErrInvalidQuery, field, category)
	}
	if op == OpContains && kind != model.KindString {
		return Predicate{}, fmt.Errorf("%w: contains needs a string field, %q is %s", ErrInvalidQuery, field, kind)
	}
	if kind == model.KindBool && op != OpEq && op != OpNe {
		return Predicate{}, fmt.Errorf("%w: %q is boolean and supports only eq and ne", ErrInvalidQuery, field)
	}
	v, err := model.ParseValue(kind, raw)
	if err != nil {
		return Predicate{}, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, field, err)
	}
	return Predicate{Field: field, Op: op, Value: v}, nil
}

// Parse builds a Query from URL parameters: repeated filter, sort, order,
// limit and offset. maxLimit caps limit; zero means MaxLimit.
func Parse(category model.Category, params url.Values, maxLimit int) (Query, error) {
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}
	q := Query{Category: category, Limit: min(DefaultLimit, maxLimit)}
	for _, expr := range params["filter"] {
		p, err := ParseFilter(category, expr)
		if err != nil {
			return Query{}, err
		}
		q.Filters = append(q.Filters, p)
	}
	if s := strings.TrimSpace(params.Get("sort")); s != "" {
		if _, ok := transform.FieldKind(category, s); !ok {
			return Query{}, fmt.Errorf("%w: unknown sort field %q", ErrInvalidQuery, s)
		}
		q.Sort = s
	}
	switch strings.ToLower(strings.TrimSpace(params.Get("order"))) {
	case "", "asc":
	case "desc":
		q.Desc = true
	default:
		return Query{}, fmt.Errorf("%w: order must be asc or desc", ErrInvalidQuery)
	}
	if s := params.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxLimit {
			return Query{}, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidQuery, maxLimit)
		}
		q.Limit = n
	}
	if s := params.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return Query{}, fmt.Errorf("%w: offset must be a non-negative integer", ErrInvalidQuery)
		}
		q.Offset = n
	}
	return q, nil
}

// Match reports whether e satisfies the predicate. An absent attribute never matches.
func (p Predicate) Match(e model.Entity) bool {
	v, ok := e.Attr(p.Field)
	if !ok {
		return false
	}
	if p.Op == OpContains {
		return v.Kind == model.KindString && strings.Contains(strings.ToLower(v.Str), strings.ToLower(p.Value.Str))
	}
	if v.Kind == model.KindString && p.Value.Kind == model.KindString && (p.Op == OpEq || p.Op == OpNe) {
		return strings.EqualFold(v.Str, p.Value.Str) == (p.Op == OpEq)
	}
	c, ok := model.Compare(v, p.Value)
	if !ok {
		return false
	}
	switch p.Op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	}
	return false
}

// Match reports whether e satisfies every filter.
func (q Query) Match(e model.Entity) bool {
	for _, p := range q.Filters {
		if !p.Match(e) {
			return false
		}
	}
	return true
}

// Apply filters, sorts and pages entities. It returns the page and the
// number of matches before paging.
func (q Query) Apply(entities []model.Entity) ([]model.Entity, int) {
	matched := make([]model.Entity, 0, len(entities))
	for _, e := range entities {
		if q.Match(e) {
			matched = append(matched, e)
		}
	}
	SortBy(matched, q.Sort, q.Desc)
	total := len(matched)
	if q.Offset >= total {
		return []model.Entity{}, total
	}
	end := total
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	return matched[q.Offset:end], total
}

// SortBy orders entities by field, placing entities without it last and
// breaking ties by id. An empty field sorts by id.
func SortBy(entities []model.Entity, field string, desc bool) {
	if field == "" {
		field = "id"
	}
	sort.SliceStable(entities, func(i, j int) bool {
		a, aok := entities[i].Attr(field)
		b, bok := entities[j].Attr(field)
		switch {
		case aok && !bok:
			return true
		case !aok && bok:
			return false
		case aok && bok:
			if c, ok := model.Compare(a, b); ok && c != 0 {
				return (c < 0) != desc
			}
		}
		return entities[i].ID < entities[j].ID
	})
}
