package repository

import (
	"context"
	"fmt"

	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
)

// Seed creates each entity in repo, skipping ids that already exist.
// It returns the number of entities created.
func Seed(ctx context.Context, repo Repository, entities ...model.Entity) (int, error) {
	created := 0
	for i, e := range entities {
		_, err := repo.Create(ctx, e)
		switch outcome.KindOf(err) {
		case outcome.KindUnknown:
			created++
		case outcome.KindConflict:
		default:
			return created, fmt.Errorf("seed entity %d: %w", i, err)
		}
	}
	return created, nil
}
