package api

import (
	"context"

	"query-enhancements/internal/domain"
	"query-enhancements/internal/search"
)

type fakeStrategy struct {
	id       string
	searchFn func(ctx context.Context, req *domain.SearchRequest, opts domain.SearchOptions) (*domain.Response, error)
}

func (s *fakeStrategy) ID() string   { return s.id }
func (s *fakeStrategy) Name() string { return s.id }

func (s *fakeStrategy) Search(ctx context.Context, req *domain.SearchRequest, opts domain.SearchOptions) (*domain.Response, error) {
	if s.searchFn == nil {
		panic("unexpected call to Search")
	}
	return s.searchFn(ctx, req, opts)
}

type fakeCancelingStrategy struct {
	fakeStrategy
	cancelFn func(ctx context.Context, queryID, dataSourceID string) error
}

func (s *fakeCancelingStrategy) Cancel(ctx context.Context, queryID string) error {
	return s.CancelOnDataSource(ctx, queryID, "")
}

func (s *fakeCancelingStrategy) CancelOnDataSource(ctx context.Context, queryID, dataSourceID string) error {
	if s.cancelFn == nil {
		panic("unexpected call to CancelOnDataSource")
	}
	return s.cancelFn(ctx, queryID, dataSourceID)
}

type fakeUsage struct {
	stats domain.UsageStats
}

func (u fakeUsage) Stats() domain.UsageStats { return u.stats }

type mockDataSourceService struct {
	listFn   func(ctx context.Context) ([]domain.DataSource, error)
	getFn    func(ctx context.Context, id string) (*domain.DataSource, error)
	createFn func(ctx context.Context, req domain.CreateDataSourceRequest) (*domain.DataSource, error)
	updateFn func(ctx context.Context, id string, req domain.UpdateDataSourceRequest) (*domain.DataSource, error)
	deleteFn func(ctx context.Context, id string) error
	testFn   func(ctx context.Context, req domain.CreateDataSourceRequest) error
}

func (m *mockDataSourceService) GetDataSources(ctx context.Context) ([]domain.DataSource, error) {
	if m.listFn == nil {
		panic("unexpected call to GetDataSources")
	}
	return m.listFn(ctx)
}

func (m *mockDataSourceService) GetDataSource(ctx context.Context, id string) (*domain.DataSource, error) {
	if m.getFn == nil {
		panic("unexpected call to GetDataSource")
	}
	return m.getFn(ctx, id)
}

func (m *mockDataSourceService) CreateSingleDataSource(ctx context.Context, req domain.CreateDataSourceRequest) (*domain.DataSource, error) {
	if m.createFn == nil {
		panic("unexpected call to CreateSingleDataSource")
	}
	return m.createFn(ctx, req)
}

func (m *mockDataSourceService) UpdateDataSourceByID(ctx context.Context, id string, req domain.UpdateDataSourceRequest) (*domain.DataSource, error) {
	if m.updateFn == nil {
		panic("unexpected call to UpdateDataSourceByID")
	}
	return m.updateFn(ctx, id, req)
}

func (m *mockDataSourceService) DeleteDataSourceByID(ctx context.Context, id string) error {
	if m.deleteFn == nil {
		panic("unexpected call to DeleteDataSourceByID")
	}
	return m.deleteFn(ctx, id)
}

func (m *mockDataSourceService) TestConnection(ctx context.Context, req domain.CreateDataSourceRequest) error {
	if m.testFn == nil {
		panic("unexpected call to TestConnection")
	}
	return m.testFn(ctx, req)
}

func newTestRegistry(strategies ...search.Strategy) *search.Registry {
	return search.NewRegistry(strategies...)
}
