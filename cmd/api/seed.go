package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"resourceapi/internal/model"
	"resourceapi/internal/repository"
)

// readSeed decodes a JSON object mapping resource plurals to arrays of
// entities in wire form.
func readSeed(path string, decls []declaration) (map[string][]model.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	var raw map[string][]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	known := make(map[string]declaration, len(decls))
	for _, d := range decls {
		known[d.name.Plural] = d
	}

	out := make(map[string][]model.Entity, len(raw))
	for plural, items := range raw {
		d, ok := known[plural]
		if !ok {
			return nil, fmt.Errorf("seed file: unknown resource %q", plural)
		}
		es, err := d.schema.DecodeMany(items)
		if err != nil {
			return nil, fmt.Errorf("seed file: %s: %w", plural, err)
		}
		out[plural] = es
	}
	return out, nil
}

// seed creates the entities of seeds, leaving existing ids untouched.
func seed(ctx context.Context, log *slog.Logger, repos map[string]repository.Repository, seeds map[string][]model.Entity) error {
	plurals := make([]string, 0, len(seeds))
	for p := range seeds {
		plurals = append(plurals, p)
	}
	sort.Strings(plurals)

	for _, p := range plurals {
		repo, ok := repos[p]
		if !ok {
			return fmt.Errorf("seed: no repository for %q", p)
		}
		n, err := repository.Seed(ctx, repo, seeds[p]...)
		if err != nil {
			return fmt.Errorf("seed %s: %w", p, err)
		}
		log.Info("seeded resource",
			"component", "repository",
			"event", "seed",
			"resource", p,
			"created", n,
			"skipped", len(seeds[p])-n,
		)
	}
	return nil
}
