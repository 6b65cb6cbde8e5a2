package datasource

import (
	"context"
	"sync"

	"query-enhancements/internal/domain"
)

type mockRepo struct {
	findFn         func(ctx context.Context) ([]domain.DataSource, error)
	getFn          func(ctx context.Context, id string) (*domain.DataSource, error)
	createFn       func(ctx context.Context, ds *domain.DataSource) (*domain.DataSource, error)
	updateFn       func(ctx context.Context, id string, req domain.UpdateDataSourceRequest) (*domain.DataSource, error)
	deleteFn       func(ctx context.Context, id string) error
	recordHealthFn func(ctx context.Context, id string, health domain.HealthStatus) error
}

func (m *mockRepo) Find(ctx context.Context) ([]domain.DataSource, error) {
	if m.findFn != nil {
		return m.findFn(ctx)
	}
	panic("unexpected call to Find")
}

func (m *mockRepo) Get(ctx context.Context, id string) (*domain.DataSource, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	panic("unexpected call to Get")
}

func (m *mockRepo) Create(ctx context.Context, ds *domain.DataSource) (*domain.DataSource, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ds)
	}
	panic("unexpected call to Create")
}

func (m *mockRepo) Update(ctx context.Context, id string, req domain.UpdateDataSourceRequest) (*domain.DataSource, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, req)
	}
	panic("unexpected call to Update")
}

func (m *mockRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	panic("unexpected call to Delete")
}

func (m *mockRepo) RecordHealth(ctx context.Context, id string, health domain.HealthStatus) error {
	if m.recordHealthFn != nil {
		return m.recordHealthFn(ctx, id, health)
	}
	panic("unexpected call to RecordHealth")
}

type mockInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (m *mockInvalidator) Invalidate(id string) {
	m.mu.Lock()
	m.ids = append(m.ids, id)
	m.mu.Unlock()
}

type mockTester struct {
	testFn func(ctx context.Context, ds *domain.DataSource) error
}

func (m *mockTester) Test(ctx context.Context, ds *domain.DataSource) error {
	if m.testFn != nil {
		return m.testFn(ctx, ds)
	}
	panic("unexpected call to Test")
}
