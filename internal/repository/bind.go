package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
	"resourceapi/internal/query"
	"resourceapi/internal/schema"
)

// maxIdentityAttempts bounds how often an assigned id is replaced after it
// collided with stored data.
const maxIdentityAttempts = 16

// Bound pairs a schema with an adapter. It validates every entity before the
// adapter sees it and assigns ids through the configured Identity.
type Bound struct {
	schema   *schema.Schema
	adapter  Repository
	identity Identity
}

var _ Repository = (*Bound)(nil)

// BindOption configures Bind.
type BindOption func(*Bound)

// WithIdentity assigns ids to entities created without one. Without an
// identity policy a missing id is a validation failure.
func WithIdentity(id Identity) BindOption {
	return func(b *Bound) { b.identity = id }
}

// Bind returns a repository that enforces s in front of adapter.
func Bind(s *schema.Schema, adapter Repository, opts ...BindOption) (*Bound, error) {
	if s == nil {
		return nil, errors.New("bind: nil schema")
	}
	if adapter == nil {
		return nil, errors.New("bind: nil adapter")
	}
	b := &Bound{schema: s, adapter: adapter}
	for _, opt := range opts {
		opt(b)
	}
	if b.identity != nil && b.identity.Type() != s.IDType() {
		return nil, fmt.Errorf("bind: identity policy issues %s ids but field %q is %s",
			b.identity.Type(), s.IDField(), s.IDType())
	}
	return b, nil
}

// Schema returns the bound schema.
func (b *Bound) Schema() *schema.Schema { return b.schema }

func (b *Bound) Create(ctx context.Context, e model.Entity) (model.Entity, error) {
	e, err := b.schema.Normalize(e)
	if err != nil {
		return model.Entity{}, err
	}
	if e.ID != "" {
		return b.adapter.Create(ctx, e)
	}
	if b.identity == nil {
		return model.Entity{}, outcome.Invalid(b.schema.IDField(), "is required")
	}

	for attempt := 0; ; attempt++ {
		if e.ID, err = b.identity.Next(ctx); err != nil {
			return model.Entity{}, outcome.Fatal(fmt.Errorf("assign id: %w", err))
		}
		out, err := b.adapter.Create(ctx, e)
		if outcome.KindOf(err) != outcome.KindConflict || attempt+1 >= maxIdentityAttempts {
			return out, err
		}
	}
}

func (b *Bound) CreateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	if len(es) == 0 {
		return []model.Entity{}, nil
	}

	var c outcome.Collector
	batch := make([]model.Entity, len(es))
	assigned := make(map[int]bool)
	for i, e := range es {
		n, err := b.schema.Normalize(e)
		if err != nil {
			c.Merge("["+strconv.Itoa(i)+"]", err)
			continue
		}
		if n.ID == "" {
			if b.identity == nil {
				c.Add("["+strconv.Itoa(i)+"]."+b.schema.IDField(), "is required")
				continue
			}
			assigned[i] = true
		}
		batch[i] = n
	}
	if err := c.Err(); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		for i := range assigned {
			id, err := b.identity.Next(ctx)
			if err != nil {
				return nil, outcome.Fatal(fmt.Errorf("assign id: %w", err))
			}
			batch[i].ID = id
		}

		seen := make(map[model.ID]bool, len(batch))
		for _, e := range batch {
			if seen[e.ID] {
				return nil, outcome.Conflict(string(e.ID))
			}
			seen[e.ID] = true
		}

		out, err := b.adapter.CreateMany(ctx, batch)
		if outcome.KindOf(err) != outcome.KindConflict || attempt+1 >= maxIdentityAttempts {
			return out, err
		}
		id, _ := outcome.IDOf(err)
		if !b.wasAssigned(batch, assigned, model.ID(id)) {
			return out, err
		}
	}
}

func (b *Bound) wasAssigned(batch []model.Entity, assigned map[int]bool, id model.ID) bool {
	for i := range assigned {
		if batch[i].ID == id {
			return true
		}
	}
	return false
}

func (b *Bound) Read(ctx context.Context, id model.ID) (model.Entity, error) {
	id, err := b.schema.ParseID(string(id))
	if err != nil {
		return model.Entity{}, err
	}
	return b.adapter.Read(ctx, id)
}

func (b *Bound) Update(ctx context.Context, e model.Entity) (model.Entity, error) {
	if e.ID == "" {
		return model.Entity{}, outcome.Invalid(b.schema.IDField(), "is required")
	}
	e, err := b.schema.Normalize(e)
	if err != nil {
		return model.Entity{}, err
	}
	return b.adapter.Update(ctx, e)
}

func (b *Bound) UpdateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	if len(es) == 0 {
		return []model.Entity{}, nil
	}

	var c outcome.Collector
	batch := make([]model.Entity, len(es))
	for i, e := range es {
		prefix := "[" + strconv.Itoa(i) + "]"
		if e.ID == "" {
			c.Add(prefix+"."+b.schema.IDField(), "is required")
			continue
		}
		n, err := b.schema.Normalize(e)
		if err != nil {
			c.Merge(prefix, err)
			continue
		}
		batch[i] = n
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	if err := UniqueIDs(batch); err != nil {
		return nil, err
	}
	return b.adapter.UpdateMany(ctx, batch)
}

func (b *Bound) Delete(ctx context.Context, id model.ID) error {
	id, err := b.schema.ParseID(string(id))
	if err != nil {
		return err
	}
	return b.adapter.Delete(ctx, id)
}

func (b *Bound) Query(ctx context.Context, spec query.Spec) (query.Page, error) {
	if spec.Schema() != b.schema {
		return query.Page{}, outcome.Fatal(errors.New("query spec was built for a different schema"))
	}
	return b.adapter.Query(ctx, spec)
}

// Exists reports false for ids that cannot be parsed, since no such entity
// can be stored.
func (b *Bound) Exists(ctx context.Context, id model.ID) (bool, error) {
	id, err := b.schema.ParseID(string(id))
	if err != nil {
		return false, nil
	}
	return b.adapter.Exists(ctx, id)
}
