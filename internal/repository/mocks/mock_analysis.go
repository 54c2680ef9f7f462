package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/joseph-ayodele/labwise/internal/entity"
	"github.com/joseph-ayodele/labwise/internal/repository"
)

type MockAnalysisRepository struct {
	mock.Mock
}

var _ repository.AnalysisRepository = (*MockAnalysisRepository)(nil)

func (m *MockAnalysisRepository) Create(ctx context.Context, req repository.CreateAnalysisRequest) (*entity.Analysis, error) {
	args := m.Called(ctx, req)
	a, _ := args.Get(0).(*entity.Analysis)
	return a, args.Error(1)
}

func (m *MockAnalysisRepository) MarkRunning(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAnalysisRepository) Complete(ctx context.Context, id string, c entity.Completion) error {
	return m.Called(ctx, id, c).Error(0)
}

func (m *MockAnalysisRepository) Fail(ctx context.Context, id string, f entity.Failure) error {
	return m.Called(ctx, id, f).Error(0)
}

func (m *MockAnalysisRepository) Get(ctx context.Context, id string) (*entity.Analysis, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*entity.Analysis)
	return a, args.Error(1)
}

func (m *MockAnalysisRepository) List(ctx context.Context, limit, offset int) ([]*entity.Analysis, int, error) {
	args := m.Called(ctx, limit, offset)
	items, _ := args.Get(0).([]*entity.Analysis)
	return items, args.Int(1), args.Error(2)
}
