// Package datasource manages saved external data sources: CRUD with
// validation, connection tests, scheduled health checks and YAML seeding.
package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"query-enhancements/internal/domain"
	"query-enhancements/internal/transport"
)

// Invalidator drops cached backend clients for a data source.
type Invalidator interface {
	Invalidate(dataSourceID string)
}

// ConnectionTester checks that a data source is reachable with its
// credentials.
type ConnectionTester interface {
	Test(ctx context.Context, ds *domain.DataSource) error
}

// HTTPConnectionTester pings the data source root with a throwaway client.
type HTTPConnectionTester struct {
	HTTP *http.Client
}

// Test implements ConnectionTester.
func (t HTTPConnectionTester) Test(ctx context.Context, ds *domain.DataSource) error {
	return transport.NewDataSourceClient(ds, t.HTTP).Ping(ctx)
}

// Service provides data-source operations.
type Service struct {
	repo   domain.DataSourceRepository
	cache  Invalidator
	tester ConnectionTester
	logger *slog.Logger
}

// NewService creates a Service. cache may be nil when no clients are cached.
func NewService(repo domain.DataSourceRepository, cache Invalidator, tester ConnectionTester, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, tester: tester, logger: logger}
}

// GetDataSources returns every saved data source.
func (s *Service) GetDataSources(ctx context.Context) ([]domain.DataSource, error) {
	return s.repo.Find(ctx)
}

// GetDataSource returns one data source by id.
func (s *Service) GetDataSource(ctx context.Context, id string) (*domain.DataSource, error) {
	return s.repo.Get(ctx, id)
}

// Get satisfies transport.DataSourceGetter so the service can back a Resolver.
func (s *Service) Get(ctx context.Context, id string) (*domain.DataSource, error) {
	return s.repo.Get(ctx, id)
}

// CreateSingleDataSource validates and stores a new data source. Titles are
// unique regardless of case.
func (s *Service) CreateSingleDataSource(ctx context.Context, req domain.CreateDataSourceRequest) (*domain.DataSource, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := domain.ValidateCreateDataSourceRequest(req); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueTitle(ctx, req.Title, ""); err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, &domain.DataSource{
		Title:       req.Title,
		Description: req.Description,
		Endpoint:    req.Endpoint,
		Type:        req.Type,
		AuthType:    req.AuthType,
		Credentials: req.Credentials,
	})
	if err != nil {
		return nil, fmt.Errorf("create data source: %w", err)
	}
	s.logger.Info("data source created", "id", created.ID, "title", created.Title)
	return created, nil
}

// UpdateDataSourceByID applies a partial update and drops the cached client
// so the next query uses the new endpoint and credentials.
func (s *Service) UpdateDataSourceByID(ctx context.Context, id string, req domain.UpdateDataSourceRequest) (*domain.DataSource, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		req.Title = &title
	}
	if err := domain.ValidateUpdateDataSourceRequest(current, req); err != nil {
		return nil, err
	}
	if req.Title != nil {
		if err := s.ensureUniqueTitle(ctx, *req.Title, id); err != nil {
			return nil, err
		}
	}

	updated, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("update data source: %w", err)
	}
	s.invalidate(id)
	s.logger.Info("data source updated", "id", id)
	return updated, nil
}

// DeleteDataSourceByID removes a data source and its cached client.
func (s *Service) DeleteDataSourceByID(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(id)
	s.logger.Info("data source deleted", "id", id)
	return nil
}

// TestConnection validates req and checks the endpoint is reachable without
// saving anything.
func (s *Service) TestConnection(ctx context.Context, req domain.CreateDataSourceRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		req.Title = "connection-test"
	}
	if err := domain.ValidateCreateDataSourceRequest(req); err != nil {
		return err
	}
	err := s.tester.Test(ctx, &domain.DataSource{
		Title:       req.Title,
		Endpoint:    req.Endpoint,
		Type:        req.Type,
		AuthType:    req.AuthType,
		Credentials: req.Credentials,
	})
	if err != nil {
		return domain.ErrValidation("connection test failed: %v", err)
	}
	return nil
}

// CheckHealth tests a stored data source and records the outcome.
func (s *Service) CheckHealth(ctx context.Context, ds *domain.DataSource) domain.HealthStatus {
	health := domain.HealthStatus{Status: domain.HealthStatusHealthy}
	if err := s.tester.Test(ctx, ds); err != nil {
		health = domain.HealthStatus{Status: domain.HealthStatusUnhealthy, Error: err.Error()}
	}
	if err := s.repo.RecordHealth(ctx, ds.ID, health); err != nil {
		s.logger.Warn("record data source health failed", "id", ds.ID, "error", err)
	}
	return health
}

func (s *Service) ensureUniqueTitle(ctx context.Context, title, selfID string) error {
	existing, err := s.repo.Find(ctx)
	if err != nil {
		return fmt.Errorf("list data sources: %w", err)
	}
	for _, ds := range existing {
		if ds.ID != selfID && strings.EqualFold(ds.Title, title) {
			return domain.ErrConflict("data source with title %q already exists", title)
		}
	}
	return nil
}

func (s *Service) invalidate(id string) {
	if s.cache != nil {
		s.cache.Invalidate(id)
	}
}
