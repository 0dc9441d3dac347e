package repository

// Package repository defines the storage-agnostic persistence contract.
// Adapters live in subpackages (memory, sqlstore, redisstore, objectstore)
// and are bound to a schema with Bind.

import (
	"context"
	"strconv"

	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
	"resourceapi/internal/query"
)

// Repository is the contract every storage adapter implements. Failures are
// reported with the outcome error types; a nil error is success. All methods
// are safe for concurrent use.
type Repository interface {
	// Create stores e. It fails with a Conflict if e.ID is already stored.
	Create(ctx context.Context, e model.Entity) (model.Entity, error)

	// CreateMany stores every entity or none. A duplicate id inside the batch
	// or against stored data is a Conflict.
	CreateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error)

	// Read returns the entity with id or a NotFound.
	Read(ctx context.Context, id model.ID) (model.Entity, error)

	// Update fully replaces the stored entity with e.ID or returns a NotFound.
	Update(ctx context.Context, e model.Entity) (model.Entity, error)

	// UpdateMany fully replaces every entity or none. An id that is not
	// stored is a NotFound; an id repeated inside the batch is a
	// ValidationFailure.
	UpdateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error)

	// Delete removes the entity with id or returns a NotFound.
	Delete(ctx context.Context, id model.ID) error

	// Query returns one page of matching entities.
	Query(ctx context.Context, spec query.Spec) (query.Page, error)

	// Exists reports whether id is stored. It only fails with an adapter failure.
	Exists(ctx context.Context, id model.ID) (bool, error)
}

// UniqueIDs rejects a batch in which an id appears more than once.
func UniqueIDs(es []model.Entity) error {
	var c outcome.Collector
	seen := make(map[model.ID]bool, len(es))
	for i, e := range es {
		if seen[e.ID] {
			c.Add("["+strconv.Itoa(i)+"]", "repeats id "+strconv.Quote(string(e.ID)))
		}
		seen[e.ID] = true
	}
	return c.Err()
}
