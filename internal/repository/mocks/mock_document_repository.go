package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"docvault/internal/model"
	"docvault/internal/repository"
)

type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) FindByID(ctx context.Context, id string) (*model.DocumentRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DocumentRecord), args.Error(1)
}

func (m *MockDocumentRepository) ListLineage(ctx context.Context, lineage model.Lineage) ([]model.DocumentRecord, error) {
	args := m.Called(ctx, lineage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DocumentRecord), args.Error(1)
}

func (m *MockDocumentRepository) ListScope(ctx context.Context, scope repository.Scope, pq repository.PageQuery) (*repository.PageResult[model.DocumentRecord], error) {
	args := m.Called(ctx, scope, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.DocumentRecord]), args.Error(1)
}

func (m *MockDocumentRepository) ListPendingPurge(ctx context.Context, deletedBefore time.Time, limit int) ([]model.DocumentRecord, error) {
	args := m.Called(ctx, deletedBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DocumentRecord), args.Error(1)
}

// WithinLineage hands fn the *MockLineageTx given to Return unless the second return value is an error.
func (m *MockDocumentRepository) WithinLineage(ctx context.Context, lineage model.Lineage, fn func(ctx context.Context, tx repository.LineageTx) error) error {
	args := m.Called(ctx, lineage, fn)
	if err := args.Error(1); err != nil {
		return err
	}
	return fn(ctx, args.Get(0).(*MockLineageTx))
}

type MockLineageTx struct {
	mock.Mock
}

func (m *MockLineageTx) Records(ctx context.Context) ([]model.DocumentRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DocumentRecord), args.Error(1)
}

func (m *MockLineageTx) NextVersion(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockLineageTx) Insert(ctx context.Context, rec *model.DocumentRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockLineageTx) Update(ctx context.Context, rec *model.DocumentRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockLineageTx) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
