// Package memory is the reference in-process repository adapter.
package memory

import (
	"context"
	"sync"

	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
	"resourceapi/internal/query"
	"resourceapi/internal/repository"
	"resourceapi/internal/repository/keylock"
)

// Store keeps entities in a map. Writes to one id are serialised by a keyed
// lock; a batch is published under a single write lock so readers never see
// part of it.
type Store struct {
	mu    sync.RWMutex
	items map[model.ID]model.Entity
	keys  *keylock.Locker
}

var _ repository.Repository = (*Store)(nil)

// Option configures New.
type Option func(*Store)

// WithSeed preloads entities. Later entries replace earlier ones with the same id.
func WithSeed(es ...model.Entity) Option {
	return func(s *Store) {
		for _, e := range es {
			s.items[e.ID] = e.Clone()
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		items: make(map[model.ID]model.Entity),
		keys:  keylock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func alive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return outcome.Retryable(err)
	}
	return nil
}

func (s *Store) has(id model.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[id]
	return ok
}

func (s *Store) put(e model.Entity) {
	s.mu.Lock()
	s.items[e.ID] = e.Clone()
	s.mu.Unlock()
}

func (s *Store) Create(ctx context.Context, e model.Entity) (model.Entity, error) {
	if err := alive(ctx); err != nil {
		return model.Entity{}, err
	}
	defer s.keys.Lock(string(e.ID))()

	if s.has(e.ID) {
		return model.Entity{}, outcome.Conflict(string(e.ID))
	}
	s.put(e)
	return e.Clone(), nil
}

func (s *Store) CreateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	keys := make([]string, len(es))
	for i, e := range es {
		keys[i] = string(e.ID)
	}
	defer s.keys.Lock(keys...)()

	seen := make(map[model.ID]bool, len(es))
	s.mu.RLock()
	for _, e := range es {
		_, stored := s.items[e.ID]
		if stored || seen[e.ID] {
			s.mu.RUnlock()
			return nil, outcome.Conflict(string(e.ID))
		}
		seen[e.ID] = true
	}
	s.mu.RUnlock()

	s.mu.Lock()
	for _, e := range es {
		s.items[e.ID] = e.Clone()
	}
	s.mu.Unlock()

	return model.CloneAll(es), nil
}

func (s *Store) Read(ctx context.Context, id model.ID) (model.Entity, error) {
	if err := alive(ctx); err != nil {
		return model.Entity{}, err
	}
	s.mu.RLock()
	e, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return model.Entity{}, outcome.NotFound(string(id))
	}
	return e.Clone(), nil
}

func (s *Store) Update(ctx context.Context, e model.Entity) (model.Entity, error) {
	if err := alive(ctx); err != nil {
		return model.Entity{}, err
	}
	defer s.keys.Lock(string(e.ID))()

	if !s.has(e.ID) {
		return model.Entity{}, outcome.NotFound(string(e.ID))
	}
	s.put(e)
	return e.Clone(), nil
}

func (s *Store) UpdateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	if err := repository.UniqueIDs(es); err != nil {
		return nil, err
	}
	keys := make([]string, len(es))
	for i, e := range es {
		keys[i] = string(e.ID)
	}
	defer s.keys.Lock(keys...)()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range es {
		if _, ok := s.items[e.ID]; !ok {
			return nil, outcome.NotFound(string(e.ID))
		}
	}
	for _, e := range es {
		s.items[e.ID] = e.Clone()
	}
	return model.CloneAll(es), nil
}

func (s *Store) Delete(ctx context.Context, id model.ID) error {
	if err := alive(ctx); err != nil {
		return err
	}
	defer s.keys.Lock(string(id))()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return outcome.NotFound(string(id))
	}
	delete(s.items, id)
	return nil
}

func (s *Store) Query(ctx context.Context, spec query.Spec) (query.Page, error) {
	if err := alive(ctx); err != nil {
		return query.Page{}, err
	}
	s.mu.RLock()
	all := make([]model.Entity, 0, len(s.items))
	for _, e := range s.items {
		all = append(all, e)
	}
	s.mu.RUnlock()

	page := spec.Apply(all)
	page.Items = model.CloneAll(page.Items)
	return page, nil
}

func (s *Store) Exists(ctx context.Context, id model.ID) (bool, error) {
	if err := alive(ctx); err != nil {
		return false, err
	}
	return s.has(id), nil
}

// Len returns the number of stored entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
