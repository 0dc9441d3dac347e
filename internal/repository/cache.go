package repository

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"resourceapi/internal/model"
	"resourceapi/internal/query"
)

type cached struct {
	next Repository

	mu      sync.Mutex
	gen     uint64
	pending map[model.ID]int
	items   *lru.Cache[model.ID, model.Entity]
}

// Cache adds a read-through LRU of size entries in front of next for Read
// and Exists. While a write to an id is in flight, lookups of that id go to
// next, and a read that raced a write does not refill the cache.
func Cache(next Repository, size int) (Repository, error) {
	items, err := lru.New[model.ID, model.Entity](size)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &cached{next: next, items: items, pending: make(map[model.ID]int)}, nil
}

// begin marks ids as being written and drops their entries.
func (c *cached) begin(ids ...model.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for _, id := range ids {
		c.pending[id]++
		c.items.Remove(id)
	}
}

func (c *cached) end(ids ...model.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for _, id := range ids {
		if c.pending[id]--; c.pending[id] <= 0 {
			delete(c.pending, id)
		}
		c.items.Remove(id)
	}
}

// lookup returns the cached entity for id, unless a write to it is in flight.
func (c *cached) lookup(id model.ID) (model.Entity, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[id] > 0 {
		return model.Entity{}, c.gen, false
	}
	e, ok := c.items.Get(id)
	return e, c.gen, ok
}

func (c *cached) fill(gen uint64, e model.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen && c.pending[e.ID] == 0 {
		c.items.Add(e.ID, e.Clone())
	}
}

func (c *cached) Create(ctx context.Context, e model.Entity) (model.Entity, error) {
	c.begin(e.ID)
	defer c.end(e.ID)
	return c.next.Create(ctx, e)
}

func (c *cached) CreateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	ids := make([]model.ID, len(es))
	for i, e := range es {
		ids[i] = e.ID
	}
	c.begin(ids...)
	defer c.end(ids...)
	return c.next.CreateMany(ctx, es)
}

func (c *cached) Read(ctx context.Context, id model.ID) (model.Entity, error) {
	e, gen, ok := c.lookup(id)
	if ok {
		return e.Clone(), nil
	}

	e, err := c.next.Read(ctx, id)
	if err != nil {
		return e, err
	}
	c.fill(gen, e)
	return e, nil
}

func (c *cached) Update(ctx context.Context, e model.Entity) (model.Entity, error) {
	c.begin(e.ID)
	defer c.end(e.ID)
	return c.next.Update(ctx, e)
}

func (c *cached) UpdateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	ids := make([]model.ID, len(es))
	for i, e := range es {
		ids[i] = e.ID
	}
	c.begin(ids...)
	defer c.end(ids...)
	return c.next.UpdateMany(ctx, es)
}

func (c *cached) Delete(ctx context.Context, id model.ID) error {
	c.begin(id)
	defer c.end(id)
	return c.next.Delete(ctx, id)
}

func (c *cached) Query(ctx context.Context, spec query.Spec) (query.Page, error) {
	return c.next.Query(ctx, spec)
}

func (c *cached) Exists(ctx context.Context, id model.ID) (bool, error) {
	if _, _, ok := c.lookup(id); ok {
		return true, nil
	}
	return c.next.Exists(ctx, id)
}
