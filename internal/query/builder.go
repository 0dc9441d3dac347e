package query

import (
	"fmt"
	"reflect"

	"resourceapi/internal/outcome"
	"resourceapi/internal/schema"
)

// Builder assembles a Spec. Problems are collected and reported together by
// Build; the builder is not safe for concurrent use.
type Builder struct {
	schema  *schema.Schema
	filters []Filter
	sort    []SortKey
	limit   int
	offset  int
	cursor  string

	offsetSet bool
	errs      outcome.Collector
}

// NewBuilder starts a query against s.
func NewBuilder(s *schema.Schema) *Builder {
	return &Builder{schema: s}
}

// Where adds a filter. For In, value must be a non-empty slice.
func (b *Builder) Where(field string, op Operator, value any) *Builder {
	path := "filter." + field
	f, ok := b.schema.Field(field)
	switch {
	case !ok:
		b.errs.Add(path, "unknown field")
		return b
	case !op.valid():
		b.errs.Add(path, fmt.Sprintf("unknown operator %q", op))
		return b
	case op.ranged() && !f.Type.Orderable():
		b.errs.Add(path, fmt.Sprintf("operator %s is not supported for %s fields", op, f.Type))
		return b
	case op.textual() && f.Type != schema.String:
		b.errs.Add(path, fmt.Sprintf("operator %s is only supported for string fields", op))
		return b
	}

	if op == In {
		list, ok := toList(value)
		if !ok || len(list) == 0 {
			b.errs.Add(path, "operator in requires a non-empty list")
			return b
		}
		coerced := make([]any, 0, len(list))
		for _, item := range list {
			v, err := b.schema.Coerce(field, item)
			if err != nil {
				b.errs.Add(path, messageOf(err))
				return b
			}
			coerced = append(coerced, v)
		}
		b.filters = append(b.filters, Filter{Field: field, Op: op, Value: coerced})
		return b
	}

	v, err := b.schema.Coerce(field, value)
	if err != nil {
		b.errs.Add(path, messageOf(err))
		return b
	}
	b.filters = append(b.filters, Filter{Field: field, Op: op, Value: v})
	return b
}

// OrderBy appends a sort key.
func (b *Builder) OrderBy(field string, dir Direction) *Builder {
	path := "sort." + field
	if _, ok := b.schema.Field(field); !ok {
		b.errs.Add(path, "unknown field")
		return b
	}
	for _, k := range b.sort {
		if k.Field == field {
			b.errs.Add(path, "sorted more than once")
			return b
		}
	}
	b.sort = append(b.sort, SortKey{Field: field, Dir: dir})
	return b
}

// Limit bounds the page size; n must be positive.
func (b *Builder) Limit(n int) *Builder {
	if n <= 0 {
		b.errs.Add("limit", "must be positive")
		return b
	}
	b.limit = n
	return b
}

// Offset skips n matching entities; n must not be negative.
func (b *Builder) Offset(n int) *Builder {
	if n < 0 {
		b.errs.Add("offset", "must not be negative")
		return b
	}
	b.offset = n
	b.offsetSet = true
	return b
}

// After resumes from a cursor returned in a previous Page. It cannot be
// combined with Offset and must come from a query with the same filters and sort.
func (b *Builder) After(token string) *Builder {
	b.cursor = token
	return b
}

// Build validates the accumulated query.
func (b *Builder) Build() (Spec, error) {
	fp := fingerprint(b.filters, b.sort)
	offset := b.offset

	if b.cursor != "" {
		c, err := decodeCursor(b.cursor)
		switch {
		case b.offsetSet:
			b.errs.Add("cursor", "cannot be combined with offset")
		case err != nil:
			b.errs.Add("cursor", err.Error())
		case c.Fingerprint != fp:
			b.errs.Add("cursor", "does not match the query filters and sort")
		default:
			offset = c.Offset
		}
	}

	if err := b.errs.Err(); err != nil {
		return Spec{}, err
	}
	return Spec{
		schema:      b.schema,
		filters:     append([]Filter(nil), b.filters...),
		sort:        append([]SortKey(nil), b.sort...),
		limit:       b.limit,
		offset:      offset,
		fingerprint: fp,
	}, nil
}

func toList(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func messageOf(err error) string {
	if fields := outcome.FieldsOf(err); len(fields) > 0 {
		return fields[0].Message
	}
	return err.Error()
}
