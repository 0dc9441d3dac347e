// Package schema declares the field table of an entity type and maps between
// wire-shaped values and typed model.Entity records.
//
// A Schema is immutable after New and safe for concurrent use.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
)

// Type is the declared value type of a field.
type Type int

const (
	String Type = iota + 1
	Int
	Float
	Bool
	Time
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Time:
		return "time"
	default:
		return "type(" + strconv.Itoa(int(t)) + ")"
	}
}

// Orderable reports whether values of t support range comparison.
func (t Type) Orderable() bool {
	return t == String || t == Int || t == Float || t == Time
}

func (t Type) valid() bool { return t >= String && t <= Time }

// Field declares one attribute of an entity type.
type Field struct {
	Name     string
	Type     Type
	Required bool
	// Default is applied when the field is absent or null on decode.
	Default any
	// Rules is a go-playground/validator tag expression such as "min=1,max=64".
	Rules       string
	Description string
}

// DefaultIDField is the identity field name unless overridden with WithIDField.
const DefaultIDField = "id"

type options struct {
	idField string
}

// Option configures New.
type Option func(*options)

// WithIDField names the identity field.
func WithIDField(name string) Option {
	return func(o *options) { o.idField = name }
}

// Schema is a validated field table.
type Schema struct {
	fields  []Field
	index   map[string]int
	idField string
}

var validate = validator.New()

// New checks the declaration and returns a Schema. Every problem found is
// reported in the returned error.
func New(fields []Field, opts ...Option) (*Schema, error) {
	o := options{idField: DefaultIDField}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Schema{
		fields:  make([]Field, 0, len(fields)),
		index:   make(map[string]int, len(fields)),
		idField: o.idField,
	}

	var errs []error
	for i, f := range fields {
		if f.Name == "" {
			errs = append(errs, fmt.Errorf("field %d: empty name", i))
			continue
		}
		if _, dup := s.index[f.Name]; dup {
			errs = append(errs, fmt.Errorf("field %q: declared twice", f.Name))
			continue
		}
		if !f.Type.valid() {
			errs = append(errs, fmt.Errorf("field %q: unknown type %s", f.Name, f.Type))
			continue
		}
		if f.Default != nil {
			switch {
			case f.Required:
				errs = append(errs, fmt.Errorf("field %q: required field cannot declare a default", f.Name))
			case f.Name == o.idField:
				errs = append(errs, fmt.Errorf("field %q: identity field cannot declare a default", f.Name))
			default:
				v, err := coerce(f.Type, f.Default)
				if err != nil {
					errs = append(errs, fmt.Errorf("field %q: default %s", f.Name, err))
				} else {
					f.Default = v
				}
			}
		}
		if f.Rules != "" {
			if err := checkRules(f.Type, f.Rules); err != nil {
				errs = append(errs, fmt.Errorf("field %q: %w", f.Name, err))
			}
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}

	if i, ok := s.index[o.idField]; !ok {
		errs = append(errs, fmt.Errorf("identity field %q is not declared", o.idField))
	} else if t := s.fields[i].Type; t != Int && t != String {
		errs = append(errs, fmt.Errorf("identity field %q must be int or string, got %s", o.idField, t))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return s, nil
}

// MustNew is New that panics on an invalid declaration. Intended for
// package-level resource tables.
func MustNew(fields []Field, opts ...Option) *Schema {
	s, err := New(fields, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func checkRules(t Type, rules string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid rules %q: %v", rules, r)
		}
	}()
	_ = validate.Var(zero(t), rules)
	return nil
}

func zero(t Type) any {
	switch t {
	case Int:
		return int64(0)
	case Float:
		return float64(0)
	case Bool:
		return false
	case Time:
		return time.Time{}
	default:
		return ""
	}
}

// Fields returns the declared fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a declared field by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// IDField returns the identity field name.
func (s *Schema) IDField() string { return s.idField }

// IDType returns the identity field type, Int or String.
func (s *Schema) IDType() Type { return s.fields[s.index[s.idField]].Type }

// ParseID converts a raw identifier into canonical form.
func (s *Schema) ParseID(raw string) (model.ID, error) {
	v, err := coerce(s.IDType(), raw)
	if err != nil {
		return "", outcome.Invalid(s.idField, err.Error())
	}
	return s.formatID(v)
}

func (s *Schema) formatID(v any) (model.ID, error) {
	switch id := v.(type) {
	case int64:
		return model.ID(strconv.FormatInt(id, 10)), nil
	case string:
		if id == "" {
			return "", outcome.Invalid(s.idField, "must not be empty")
		}
		return model.ID(id), nil
	default:
		return "", outcome.Invalid(s.idField, "unsupported identifier")
	}
}

// IDValue returns the typed form of a canonical id: int64 for Int ids,
// string otherwise.
func (s *Schema) IDValue(id model.ID) any {
	if s.IDType() == Int {
		n, err := strconv.ParseInt(string(id), 10, 64)
		if err == nil {
			return n
		}
	}
	return string(id)
}

// ValueOf returns the typed value of field in e. The identity field is
// resolved from e.ID.
func (s *Schema) ValueOf(e model.Entity, field string) (any, bool) {
	if field == s.idField {
		if e.ID == "" {
			return nil, false
		}
		return s.IDValue(e.ID), true
	}
	v, ok := e.Attributes[field]
	return v, ok
}

// Coerce converts raw into the declared type of field, laxly accepting
// numeric and boolean strings and RFC 3339 timestamps.
func (s *Schema) Coerce(field string, raw any) (any, error) {
	f, ok := s.Field(field)
	if !ok {
		return nil, outcome.Invalid(field, "unknown field")
	}
	v, err := coerce(f.Type, raw)
	if err != nil {
		return nil, outcome.Invalid(field, err.Error())
	}
	return v, nil
}

// Decode validates a wire-shaped record and returns the typed entity.
// Every offending field is reported. A null value is treated as absent.
// The identity field may be absent, in which case the entity has an empty ID.
func (s *Schema) Decode(raw map[string]any) (model.Entity, error) {
	var c outcome.Collector
	e := model.Entity{Attributes: make(map[string]any, len(s.fields))}

	for _, f := range s.fields {
		v, present := raw[f.Name]
		if present && v == nil {
			present = false
		}

		if !present {
			switch {
			case f.Default != nil:
				e.Attributes[f.Name] = f.Default
			case f.Required && f.Name != s.idField:
				c.Add(f.Name, "is required")
			}
			continue
		}

		typed, err := coerce(f.Type, v)
		if err != nil {
			c.Add(f.Name, err.Error())
			continue
		}
		if f.Rules != "" {
			if err := validate.Var(typed, f.Rules); err != nil {
				c.Add(f.Name, ruleMessage(err))
				continue
			}
		}

		if f.Name == s.idField {
			id, err := s.formatID(typed)
			if err != nil {
				c.Merge("", err)
				continue
			}
			e.ID = id
			continue
		}
		e.Attributes[f.Name] = typed
	}

	unknown := make([]string, 0)
	for k := range raw {
		if _, ok := s.index[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		c.Add(k, "unknown field")
	}

	if err := c.Err(); err != nil {
		return model.Entity{}, err
	}
	return e, nil
}

// DecodeMany decodes a list of records. Field paths in the returned error are
// prefixed with the item index, e.g. "[2].name".
func (s *Schema) DecodeMany(items []any) ([]model.Entity, error) {
	var c outcome.Collector
	out := make([]model.Entity, 0, len(items))
	for i, item := range items {
		prefix := "[" + strconv.Itoa(i) + "]"
		obj, ok := item.(map[string]any)
		if !ok {
			c.Add(prefix, "must be an object")
			continue
		}
		e, err := s.Decode(obj)
		if err != nil {
			c.Merge(prefix, err)
			continue
		}
		out = append(out, e)
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize re-runs decoding over a typed entity: values are coerced to their
// declared types, defaults are applied and the id is canonicalised.
func (s *Schema) Normalize(e model.Entity) (model.Entity, error) {
	raw := make(map[string]any, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		raw[k] = v
	}
	if e.ID != "" {
		raw[s.idField] = string(e.ID)
	}
	return s.Decode(raw)
}

// Merge overlays changes, in wire form, on stored and decodes the result, so
// the merged entity passes every rule again. A null change clears the field
// back to its default. changes may repeat the stored id but not alter it.
func (s *Schema) Merge(stored model.Entity, changes map[string]any) (model.Entity, error) {
	wire, err := s.Encode(stored)
	if err != nil {
		return model.Entity{}, err
	}
	for k, v := range changes {
		wire[k] = v
	}
	e, err := s.Decode(wire)
	if err != nil {
		return model.Entity{}, err
	}
	switch e.ID {
	case "":
		e.ID = stored.ID
	case stored.ID:
	default:
		return model.Entity{}, outcome.Invalid(s.idField, "does not match the stored id")
	}
	return e, nil
}

// Validate reports whether e conforms to the schema.
func (s *Schema) Validate(e model.Entity) error {
	_, err := s.Normalize(e)
	return err
}

// Encode renders e for the wire. Every declared field is present; unset
// optional fields are null. Attributes the schema does not declare are an
// error, as are values of the wrong type.
func (s *Schema) Encode(e model.Entity) (map[string]any, error) {
	for k := range e.Attributes {
		if _, ok := s.index[k]; !ok || k == s.idField {
			return nil, outcome.Fatal(fmt.Errorf("encode: attribute %q is not declared", k))
		}
	}

	out := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		if f.Name == s.idField {
			if e.ID == "" {
				out[f.Name] = nil
			} else {
				out[f.Name] = s.IDValue(e.ID)
			}
			continue
		}
		v, ok := e.Attributes[f.Name]
		if !ok || v == nil {
			out[f.Name] = nil
			continue
		}
		if !hasType(f.Type, v) {
			return nil, outcome.Fatal(fmt.Errorf("encode: field %q holds %T, want %s", f.Name, v, f.Type))
		}
		if t, isTime := v.(time.Time); isTime {
			out[f.Name] = t.Format(time.RFC3339Nano)
			continue
		}
		out[f.Name] = v
	}
	return out, nil
}

// EncodeMany encodes each entity in order.
func (s *Schema) EncodeMany(es []model.Entity) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(es))
	for _, e := range es {
		m, err := s.Encode(e)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func ruleMessage(err error) string {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		fe := ves[0]
		if fe.Param() != "" {
			return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
		}
		return "must satisfy " + fe.Tag()
	}
	return err.Error()
}
