package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
	"resourceapi/internal/query"
	"resourceapi/internal/repository"
	"resourceapi/internal/repository/memory"
	"resourceapi/internal/repository/mocks"
	"resourceapi/internal/schema"
)

func itemSchema() *schema.Schema {
	return schema.MustNew([]schema.Field{
		{Name: "id", Type: schema.Int},
		{Name: "name", Type: schema.String, Required: true},
		{Name: "age", Type: schema.Int, Default: 0},
	})
}

func TestBindRejectsIdentityTypeMismatch(t *testing.T) {
	_, err := repository.Bind(itemSchema(), memory.New(), repository.WithIdentity(repository.UUIDIdentity{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issues string ids")
}

func TestBindValidatesBeforeAdapter(t *testing.T) {
	adapter := new(mocks.MockRepository)
	repo, err := repository.Bind(itemSchema(), adapter)
	require.NoError(t, err)

	_, err = repo.Create(context.Background(), model.New("1", map[string]any{"age": "old"}))
	require.Error(t, err)
	assert.Equal(t, []outcome.FieldError{
		{Field: "name", Message: "is required"},
		{Field: "age", Message: "must be an integer"},
	}, outcome.FieldsOf(err))
	adapter.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestBindMissingIDWithoutIdentity(t *testing.T) {
	repo, err := repository.Bind(itemSchema(), memory.New())
	require.NoError(t, err)

	_, err = repo.Create(context.Background(), model.New("", map[string]any{"name": "a"}))
	assert.Equal(t, []outcome.FieldError{{Field: "id", Message: "is required"}}, outcome.FieldsOf(err))

	_, err = repo.CreateMany(context.Background(), []model.Entity{model.New("", map[string]any{"name": "a"})})
	assert.Equal(t, []outcome.FieldError{{Field: "[0].id", Message: "is required"}}, outcome.FieldsOf(err))
}

func TestBindSequenceIdentitySkipsTakenIDs(t *testing.T) {
	ctx := context.Background()
	store := memory.New(memory.WithSeed(model.New("1", map[string]any{"name": "taken", "age": int64(0)})))
	repo, err := repository.Bind(itemSchema(), store, repository.WithIdentity(repository.NewSequence(1)))
	require.NoError(t, err)

	e, err := repo.Create(ctx, model.New("", map[string]any{"name": "a"}))
	require.NoError(t, err)
	assert.Equal(t, model.ID("2"), e.ID)

	es, err := repo.CreateMany(ctx, []model.Entity{
		model.New("", map[string]any{"name": "b"}),
		model.New("10", map[string]any{"name": "c"}),
	})
	require.NoError(t, err)
	assert.Equal(t, model.ID("3"), es[0].ID)
	assert.Equal(t, model.ID("10"), es[1].ID)
}

func TestSequenceResume(t *testing.T) {
	ctx := context.Background()
	store := memory.New(memory.WithSeed(
		model.New("1", map[string]any{"name": "a", "age": int64(0)}),
		model.New("12", map[string]any{"name": "b", "age": int64(0)}),
		model.New("3", map[string]any{"name": "c", "age": int64(0)}),
	))
	seq := repository.NewSequence(1)
	repo, err := repository.Bind(itemSchema(), store, repository.WithIdentity(seq))
	require.NoError(t, err)

	require.NoError(t, seq.Resume(ctx, repo, repo.Schema()))
	e, err := repo.Create(ctx, model.New("", map[string]any{"name": "d"}))
	require.NoError(t, err)
	assert.Equal(t, model.ID("13"), e.ID)

	ahead := repository.NewSequence(100)
	require.NoError(t, ahead.Resume(ctx, repo, repo.Schema()))
	id, err := ahead.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ID("100"), id)

	empty, err := repository.Bind(itemSchema(), memory.New())
	require.NoError(t, err)
	fresh := repository.NewSequence(1)
	require.NoError(t, fresh.Resume(ctx, empty, empty.Schema()))
	id, err = fresh.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ID("1"), id)
}

func TestBindUUIDIdentity(t *testing.T) {
	s := schema.MustNew([]schema.Field{{Name: "id", Type: schema.String}, {Name: "title", Type: schema.String}})
	repo, err := repository.Bind(s, memory.New(), repository.WithIdentity(repository.UUIDIdentity{}))
	require.NoError(t, err)

	e, err := repo.Create(context.Background(), model.New("", map[string]any{"title": "x"}))
	require.NoError(t, err)
	assert.Len(t, e.ID.String(), 36)
}

func TestBindCanonicalisesIDs(t *testing.T) {
	ctx := context.Background()
	repo, err := repository.Bind(itemSchema(), memory.New())
	require.NoError(t, err)

	_, err = repo.Create(ctx, model.New("007", map[string]any{"name": "bond"}))
	require.NoError(t, err)

	e, err := repo.Read(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, model.ID("7"), e.ID)

	_, err = repo.Read(ctx, "seven")
	assert.Equal(t, outcome.KindValidation, outcome.KindOf(err))

	ok, err := repo.Exists(ctx, "seven")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBindRejectsForeignSpec(t *testing.T) {
	repo, err := repository.Bind(itemSchema(), memory.New())
	require.NoError(t, err)

	_, err = repo.Query(context.Background(), query.All(itemSchema()))
	assert.Equal(t, outcome.KindFatal, outcome.KindOf(err))
}

func TestBindBatchDuplicateAfterCanonicalisation(t *testing.T) {
	adapter := new(mocks.MockRepository)
	repo, err := repository.Bind(itemSchema(), adapter)
	require.NoError(t, err)

	_, err = repo.CreateMany(context.Background(), []model.Entity{
		model.New("1", map[string]any{"name": "a"}),
		model.New("01", map[string]any{"name": "b"}),
	})
	assert.Equal(t, outcome.KindConflict, outcome.KindOf(err))
	adapter.AssertNotCalled(t, "CreateMany", mock.Anything, mock.Anything)
}

func TestSeedIgnoresConflicts(t *testing.T) {
	ctx := context.Background()
	repo, err := repository.Bind(itemSchema(), memory.New())
	require.NoError(t, err)

	n, err := repository.Seed(ctx, repo,
		model.New("1", map[string]any{"name": "a"}),
		model.New("1", map[string]any{"name": "dup"}),
		model.New("2", map[string]any{"name": "b"}),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = repository.Seed(ctx, repo, model.New("3", map[string]any{}))
	assert.Equal(t, outcome.KindValidation, outcome.KindOf(err))
}
