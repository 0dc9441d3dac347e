// Package query is the storage-agnostic query specification: filters, sort
// keys and a page window, validated against a schema when built.
package query

import (
	"sort"
	"strings"

	"resourceapi/internal/model"
	"resourceapi/internal/schema"
)

// Operator is a filter comparison.
type Operator string

const (
	Eq       Operator = "eq"
	Ne       Operator = "ne"
	In       Operator = "in"
	Gt       Operator = "gt"
	Gte      Operator = "gte"
	Lt       Operator = "lt"
	Lte      Operator = "lte"
	Contains Operator = "contains"
	Prefix   Operator = "prefix"
)

// Operators lists every supported operator.
var Operators = []Operator{Eq, Ne, In, Gt, Gte, Lt, Lte, Contains, Prefix}

func (o Operator) valid() bool {
	for _, op := range Operators {
		if op == o {
			return true
		}
	}
	return false
}

func (o Operator) ranged() bool { return o == Gt || o == Gte || o == Lt || o == Lte }

func (o Operator) textual() bool { return o == Contains || o == Prefix }

// Direction is a sort order.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Filter is one predicate. For In, Value is a []any of coerced values.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// SortKey orders results by one field.
type SortKey struct {
	Field string
	Dir   Direction
}

// Spec is an immutable, validated query. Filters are ANDed. Results are
// ordered by the sort keys and then by id ascending.
type Spec struct {
	schema      *schema.Schema
	filters     []Filter
	sort        []SortKey
	limit       int
	offset      int
	fingerprint string
}

// All returns a spec matching every entity of s with no window.
func All(s *schema.Schema) Spec {
	spec, _ := NewBuilder(s).Build()
	return spec
}

// Schema returns the schema the spec was built against.
func (q Spec) Schema() *schema.Schema { return q.schema }

// Filters returns a copy of the filters.
func (q Spec) Filters() []Filter {
	out := make([]Filter, len(q.filters))
	copy(out, q.filters)
	return out
}

// Sort returns a copy of the sort keys, without the implicit id tie-break.
func (q Spec) Sort() []SortKey {
	out := make([]SortKey, len(q.sort))
	copy(out, q.sort)
	return out
}

// Limit is the page size; 0 means unbounded.
func (q Spec) Limit() int { return q.limit }

// Offset is the number of matching entities skipped.
func (q Spec) Offset() int { return q.offset }

// Match reports whether e satisfies every filter. A filter never matches an
// entity whose field is unset.
func (q Spec) Match(e model.Entity) bool {
	for _, f := range q.filters {
		v, ok := q.schema.ValueOf(e, f.Field)
		if !ok || v == nil || !matches(f, v) {
			return false
		}
	}
	return true
}

func matches(f Filter, v any) bool {
	switch f.Op {
	case Eq:
		return Compare(v, f.Value) == 0
	case Ne:
		return Compare(v, f.Value) != 0
	case In:
		for _, want := range f.Value.([]any) {
			if Compare(v, want) == 0 {
				return true
			}
		}
		return false
	case Gt:
		return Compare(v, f.Value) > 0
	case Gte:
		return Compare(v, f.Value) >= 0
	case Lt:
		return Compare(v, f.Value) < 0
	case Lte:
		return Compare(v, f.Value) <= 0
	case Contains:
		s, ok := v.(string)
		return ok && strings.Contains(s, f.Value.(string))
	case Prefix:
		s, ok := v.(string)
		return ok && strings.HasPrefix(s, f.Value.(string))
	}
	return false
}

// Less orders a before b under the spec's sort keys with the id tie-break.
func (q Spec) Less(a, b model.Entity) bool {
	for _, k := range q.sort {
		av, _ := q.schema.ValueOf(a, k.Field)
		bv, _ := q.schema.ValueOf(b, k.Field)
		c := Compare(av, bv)
		if c == 0 {
			continue
		}
		if k.Dir == Descending {
			return c > 0
		}
		return c < 0
	}
	return Compare(q.schema.IDValue(a.ID), q.schema.IDValue(b.ID)) < 0
}

// Apply evaluates the spec over an unordered set of entities.
func (q Spec) Apply(all []model.Entity) Page {
	matched := make([]model.Entity, 0, len(all))
	for _, e := range all {
		if q.Match(e) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return q.Less(matched[i], matched[j]) })

	total := len(matched)
	start := q.offset
	if start > total {
		start = total
	}
	end := total
	if q.limit > 0 && start+q.limit < end {
		end = start + q.limit
	}
	return NewPage(q, matched[start:end], total)
}

// Page is one window of a query result.
type Page struct {
	Items      []model.Entity
	Total      int
	HasMore    bool
	NextCursor string
}

// NewPage builds the page for items fetched at the spec's window out of
// total matching entities.
func NewPage(q Spec, items []model.Entity, total int) Page {
	p := Page{Items: items, Total: total}
	if p.Items == nil {
		p.Items = []model.Entity{}
	}
	next := q.offset + len(items)
	if q.limit > 0 && next < total {
		p.HasMore = true
		p.NextCursor = encodeCursor(cursor{Offset: next, Fingerprint: q.fingerprint})
	}
	return p
}
