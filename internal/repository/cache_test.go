package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
	"resourceapi/internal/repository"
	"resourceapi/internal/repository/mocks"
)

func TestCacheServesRepeatedReads(t *testing.T) {
	ctx := context.Background()
	adapter := new(mocks.MockRepository)
	stored := model.New("1", map[string]any{"name": "a"})
	adapter.On("Read", mock.Anything, model.ID("1")).Return(stored, nil)

	repo, err := repository.Cache(adapter, 8)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		e, err := repo.Read(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, "a", e.Attributes["name"])
	}
	adapter.AssertNumberOfCalls(t, "Read", 1)

	ok, err := repo.Exists(ctx, "1")
	require.NoError(t, err)
	assert.True(t, ok)
	adapter.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
}

func TestCacheInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	adapter := new(mocks.MockRepository)
	v1 := model.New("1", map[string]any{"name": "a"})
	v2 := model.New("1", map[string]any{"name": "b"})
	adapter.On("Read", mock.Anything, model.ID("1")).Return(v1, nil).Once()
	adapter.On("Update", mock.Anything, v2).Return(v2, nil)
	adapter.On("Read", mock.Anything, model.ID("1")).Return(v2, nil).Once()
	adapter.On("Delete", mock.Anything, model.ID("1")).Return(nil)
	adapter.On("Read", mock.Anything, model.ID("1")).Return(model.Entity{}, outcome.NotFound("1")).Once()

	repo, err := repository.Cache(adapter, 8)
	require.NoError(t, err)

	e, err := repo.Read(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "a", e.Attributes["name"])

	_, err = repo.Update(ctx, v2)
	require.NoError(t, err)
	e, err = repo.Read(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "b", e.Attributes["name"])

	require.NoError(t, repo.Delete(ctx, "1"))
	_, err = repo.Read(ctx, "1")
	assert.Equal(t, outcome.KindNotFound, outcome.KindOf(err))
	adapter.AssertExpectations(t)
}

func TestCacheRejectsBadSize(t *testing.T) {
	_, err := repository.Cache(new(mocks.MockRepository), 0)
	assert.Error(t, err)
}

func TestCacheBypassedWhileWriteInFlight(t *testing.T) {
	ctx := context.Background()
	adapter := new(mocks.MockRepository)
	stored := model.New("1", map[string]any{"name": "a"})
	adapter.On("Read", mock.Anything, model.ID("1")).Return(stored, nil).Once()

	repo, err := repository.Cache(adapter, 8)
	require.NoError(t, err)
	_, err = repo.Read(ctx, "1")
	require.NoError(t, err)

	// the adapter has removed the entity but Delete has not returned yet
	existsDuring := true
	var readErrDuring error
	adapter.On("Exists", mock.Anything, model.ID("1")).Return(false, nil).Once()
	adapter.On("Read", mock.Anything, model.ID("1")).Return(model.Entity{}, outcome.NotFound("1")).Twice()
	adapter.On("Delete", mock.Anything, model.ID("1")).Return(nil).Run(func(mock.Arguments) {
		existsDuring, _ = repo.Exists(ctx, "1")
		_, readErrDuring = repo.Read(ctx, "1")
	})

	require.NoError(t, repo.Delete(ctx, "1"))
	assert.False(t, existsDuring)
	assert.Equal(t, outcome.KindNotFound, outcome.KindOf(readErrDuring))

	_, err = repo.Read(ctx, "1")
	assert.Equal(t, outcome.KindNotFound, outcome.KindOf(err))
	adapter.AssertExpectations(t)
}
