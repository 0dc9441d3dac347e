package query

import (
	"fmt"
	"strconv"
	"strings"

	"resourceapi/internal/schema"
)

// Params are the raw query-string values of a collection request.
//
//	filter=field:op:value   repeatable; in takes a comma list
//	filter=field:value      eq, only when value holds no colon
//	sort=name,-age          or name:asc,age:desc
//	limit, offset, cursor
type Params struct {
	Filters []string
	Sort    string
	Limit   string
	Offset  string
	Cursor  string

	// DefaultLimit applies when Limit is empty; 0 leaves the page unbounded.
	DefaultLimit int
	// MaxLimit rejects larger limits when positive.
	MaxLimit int
}

// Parse builds a Spec from wire parameters.
func Parse(s *schema.Schema, p Params) (Spec, error) {
	b := NewBuilder(s)

	for _, raw := range p.Filters {
		field, op, value, err := splitFilter(raw)
		if err != nil {
			b.errs.Add("filter", err.Error())
			continue
		}
		if op == In {
			items := strings.Split(value, ",")
			list := make([]any, len(items))
			for i, it := range items {
				list[i] = it
			}
			b.Where(field, op, list)
			continue
		}
		b.Where(field, op, value)
	}

	for _, term := range strings.Split(p.Sort, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		field, dir, err := splitSort(term)
		if err != nil {
			b.errs.Add("sort", err.Error())
			continue
		}
		b.OrderBy(field, dir)
	}

	switch {
	case p.Limit != "":
		n, err := strconv.Atoi(p.Limit)
		if err != nil {
			b.errs.Add("limit", "must be an integer")
			break
		}
		if p.MaxLimit > 0 && n > p.MaxLimit {
			b.errs.Add("limit", fmt.Sprintf("must not exceed %d", p.MaxLimit))
			break
		}
		b.Limit(n)
	case p.DefaultLimit > 0:
		b.Limit(p.DefaultLimit)
	}

	if p.Offset != "" {
		n, err := strconv.Atoi(p.Offset)
		if err != nil {
			b.errs.Add("offset", "must be an integer")
		} else {
			b.Offset(n)
		}
	}

	if p.Cursor != "" {
		b.After(p.Cursor)
	}
	return b.Build()
}

func splitFilter(raw string) (string, Operator, string, error) {
	field, rest, ok := strings.Cut(raw, ":")
	if !ok || field == "" {
		return "", "", "", fmt.Errorf("%q must look like field:op:value", raw)
	}
	op, value, ok := strings.Cut(rest, ":")
	if !ok {
		return field, Eq, rest, nil
	}
	// Where rejects an unknown op under filter.<field>.
	return field, Operator(op), value, nil
}

func splitSort(term string) (string, Direction, error) {
	if strings.HasPrefix(term, "-") {
		return term[1:], Descending, nil
	}
	field, dir, ok := strings.Cut(term, ":")
	if !ok {
		return term, Ascending, nil
	}
	switch strings.ToLower(dir) {
	case "asc":
		return field, Ascending, nil
	case "desc":
		return field, Descending, nil
	}
	return "", Ascending, fmt.Errorf("%q has unknown direction %q", term, dir)
}
