package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
	"resourceapi/internal/query"
)

// BreakerSettings configures Guard.
type BreakerSettings struct {
	Name string
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears failure counts while closed; 0 never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	OnStateChange       func(name string, from, to gobreaker.State)
}

type guarded struct {
	next    Repository
	breaker *gobreaker.CircuitBreaker
}

// Guard wraps next with a circuit breaker. Only adapter failures count
// against the breaker; not-found, conflict and validation outcomes are
// ordinary results. While open, calls fail fast with a retryable adapter
// failure. Guard never retries.
func Guard(next Repository, st BreakerSettings) Repository {
	if st.MaxRequests == 0 {
		st.MaxRequests = 1
	}
	if st.Timeout == 0 {
		st.Timeout = 30 * time.Second
	}
	if st.ConsecutiveFailures == 0 {
		st.ConsecutiveFailures = 5
	}
	threshold := st.ConsecutiveFailures

	return &guarded{
		next: next,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        st.Name,
			MaxRequests: st.MaxRequests,
			Interval:    st.Interval,
			Timeout:     st.Timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			OnStateChange: st.OnStateChange,
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, outcome.ErrAdapter)
			},
		}),
	}
}

func run[T any](g *guarded, fn func() (T, error)) (T, error) {
	var out T
	_, err := g.breaker.Execute(func() (interface{}, error) {
		var err error
		out, err = fn()
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out, outcome.Retryable(fmt.Errorf("circuit %q: %w", g.breaker.Name(), err))
	}
	return out, err
}

func (g *guarded) Create(ctx context.Context, e model.Entity) (model.Entity, error) {
	return run(g, func() (model.Entity, error) { return g.next.Create(ctx, e) })
}

func (g *guarded) CreateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	return run(g, func() ([]model.Entity, error) { return g.next.CreateMany(ctx, es) })
}

func (g *guarded) Read(ctx context.Context, id model.ID) (model.Entity, error) {
	return run(g, func() (model.Entity, error) { return g.next.Read(ctx, id) })
}

func (g *guarded) Update(ctx context.Context, e model.Entity) (model.Entity, error) {
	return run(g, func() (model.Entity, error) { return g.next.Update(ctx, e) })
}

func (g *guarded) UpdateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	return run(g, func() ([]model.Entity, error) { return g.next.UpdateMany(ctx, es) })
}

func (g *guarded) Delete(ctx context.Context, id model.ID) error {
	_, err := run(g, func() (struct{}, error) { return struct{}{}, g.next.Delete(ctx, id) })
	return err
}

func (g *guarded) Query(ctx context.Context, spec query.Spec) (query.Page, error) {
	return run(g, func() (query.Page, error) { return g.next.Query(ctx, spec) })
}

func (g *guarded) Exists(ctx context.Context, id model.ID) (bool, error) {
	return run(g, func() (bool, error) { return g.next.Exists(ctx, id) })
}
