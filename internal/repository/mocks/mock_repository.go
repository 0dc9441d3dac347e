package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"resourceapi/internal/model"
	"resourceapi/internal/query"
	"resourceapi/internal/repository"
)

type MockRepository struct {
	mock.Mock
}

var _ repository.Repository = (*MockRepository)(nil)

func (m *MockRepository) Create(ctx context.Context, e model.Entity) (model.Entity, error) {
	args := m.Called(ctx, e)
	return args.Get(0).(model.Entity), args.Error(1)
}

func (m *MockRepository) CreateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	args := m.Called(ctx, es)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Entity), args.Error(1)
}

func (m *MockRepository) Read(ctx context.Context, id model.ID) (model.Entity, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Entity), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, e model.Entity) (model.Entity, error) {
	args := m.Called(ctx, e)
	return args.Get(0).(model.Entity), args.Error(1)
}

func (m *MockRepository) UpdateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	args := m.Called(ctx, es)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Entity), args.Error(1)
}

func (m *MockRepository) Delete(ctx context.Context, id model.ID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) Query(ctx context.Context, spec query.Spec) (query.Page, error) {
	args := m.Called(ctx, spec)
	return args.Get(0).(query.Page), args.Error(1)
}

func (m *MockRepository) Exists(ctx context.Context, id model.ID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
