package model

// Package model contains the storage-agnostic entity record shared by every layer.
// No validation lives here; the schema package owns that.

// ID is the canonical string form of an entity identifier. Integer ids are
// kept in base-10 form without sign or leading zeros.
type ID string

func (id ID) String() string { return string(id) }

// Entity is a typed record. Attributes holds every declared field except the
// identity field, with values of type string, int64, float64, bool or time.Time.
// A field that is absent from Attributes is unset.
type Entity struct {
	ID         ID             `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

// New builds an Entity, copying attrs.
func New(id ID, attrs map[string]any) Entity {
	e := Entity{ID: id, Attributes: make(map[string]any, len(attrs))}
	for k, v := range attrs {
		e.Attributes[k] = v
	}
	return e
}

// Get returns the attribute value for name.
func (e Entity) Get(name string) (any, bool) {
	v, ok := e.Attributes[name]
	return v, ok
}

// Clone returns a copy that shares no mutable state with e.
// Attribute values are scalars, so copying the map is enough.
func (e Entity) Clone() Entity {
	return New(e.ID, e.Attributes)
}

// CloneAll clones every entity in es.
func CloneAll(es []Entity) []Entity {
	out := make([]Entity, len(es))
	for i, e := range es {
		out[i] = e.Clone()
	}
	return out
}
